package session

import (
	"github.com/harun/collabedit/pkg/activity"
	"github.com/harun/collabedit/pkg/document"
	"github.com/harun/collabedit/pkg/presence"
)

// Origin tells whether a change came from local input or a remote peer
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// PresenceChangeKind classifies a presence change
type PresenceChangeKind string

const (
	PresenceJoined  PresenceChangeKind = "joined"
	PresenceUpdated PresenceChangeKind = "updated"
	PresenceLeft    PresenceChangeKind = "left"
)

// PresenceChange is delivered to observers after a presence mutation
type PresenceChange struct {
	Kind        PresenceChangeKind   `json:"kind"`
	Origin      Origin               `json:"origin"`
	Participant presence.Participant `json:"participant"`
}

// DocumentChange is delivered to observers after a document mutation
type DocumentChange struct {
	Origin   Origin             `json:"origin"`
	Document document.Snapshot  `json:"document"`
	Event    activity.EditEvent `json:"event"`
}

// Observer receives change notifications. Callbacks run synchronously on the
// goroutine that applied the change and must not call back into the
// Controller that owns the session.
type Observer interface {
	OnPresenceChanged(PresenceChange)
	OnDocumentChanged(DocumentChange)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Presence func(PresenceChange)
	Document func(DocumentChange)
}

func (f ObserverFuncs) OnPresenceChanged(c PresenceChange) {
	if f.Presence != nil {
		f.Presence(c)
	}
}

func (f ObserverFuncs) OnDocumentChanged(c DocumentChange) {
	if f.Document != nil {
		f.Document(c)
	}
}
