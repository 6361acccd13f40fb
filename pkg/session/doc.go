// Package session ties the document register, the presence registry and the
// activity log into one collaborative editing session, and drives it from
// local input and remote notifications through a Controller.
//
// Invariants:
// - A Session exclusively owns its document, presence registry and activity log.
// - Every mutation goes through Session methods; observers are notified after it.
// - A Controller handles one event at a time: local input and remote
//   deliveries never interleave within a session.
// - Local mutations are only accepted in the Joined state.
//
// Usage:
//
//	ctrl, _ := session.NewController(session.ControllerConfig{
//		Room:       "collaborative-editor",
//		Replicator: hub.Room("collaborative-editor"),
//	})
//	names, _ := ctrl.Open(ctx)
//	_, err := ctrl.SubmitName(ctx, "Alice")
//	_, err = ctrl.Edit(ctx, session.TextChange{Content: "hello", Cursor: 5})
package session
