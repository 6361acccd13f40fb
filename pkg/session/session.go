package session

import (
	"errors"
	"sync"
	"time"

	"github.com/harun/collabedit/internal/observability"
	"github.com/harun/collabedit/pkg/activity"
	"github.com/harun/collabedit/pkg/document"
	"github.com/harun/collabedit/pkg/identity"
	"github.com/harun/collabedit/pkg/presence"
	"github.com/harun/collabedit/pkg/projection"
	"github.com/rs/zerolog"
)

// ErrSessionClosed is returned by mutations on a torn-down session
var ErrSessionClosed = errors.New("session closed")

// TextChange is what the text input surface emits on every keystroke or
// selection change. Offsets are rune offsets into Content.
type TextChange struct {
	Content        string `json:"content"`
	Cursor         int    `json:"cursor"`
	SelectionStart *int   `json:"selectionStart,omitempty"`
	SelectionEnd   *int   `json:"selectionEnd,omitempty"`
}

// Selection converts the optional bounds into a presence selection
func (c TextChange) Selection() presence.Selection {
	return selectionFrom(c.SelectionStart, c.SelectionEnd)
}

func selectionFrom(start, end *int) presence.Selection {
	if start == nil || end == nil {
		return presence.NoSelection()
	}
	return presence.RangeSelection(*start, *end)
}

// RemoteCursor is a projected cursor ready for overlay rendering
type RemoteCursor struct {
	Participant    presence.Participant `json:"participant"`
	Position       projection.Position  `json:"position"`
	SelectionStart *projection.Position `json:"selectionStart,omitempty"`
	SelectionEnd   *projection.Position `json:"selectionEnd,omitempty"`
}

// Snapshot is the render state of a session
type Snapshot struct {
	Room           string                 `json:"room"`
	Document       document.Snapshot      `json:"document"`
	Participants   []presence.Participant `json:"participants"`
	RemoteCursors  []RemoteCursor         `json:"remoteCursors"`
	CharacterCount int                    `json:"characterCount"`
	OnlineCount    int                    `json:"onlineCount"`
}

// Config holds session configuration
type Config struct {
	Room             string
	Metrics          projection.Metrics
	ActivityCapacity int
	Logger           zerolog.Logger
}

// Session owns one document, one presence registry and one activity log
type Session struct {
	room     string
	metrics  projection.Metrics
	doc      *document.Register
	presence *presence.Registry
	activity *activity.Log
	logger   zerolog.Logger
	now      func() time.Time

	// mu serializes compound mutations (derive, mutate, move cursor)
	mu     sync.Mutex
	closed bool

	observersMu  sync.RWMutex
	observers    map[int]Observer
	nextObserver int
}

// New creates a session for room
func New(cfg Config) *Session {
	if cfg.Metrics == (projection.Metrics{}) {
		cfg.Metrics = projection.DefaultMetrics
	}

	s := &Session{
		room:      cfg.Room,
		metrics:   cfg.Metrics,
		doc:       document.NewRegister(""),
		presence:  presence.NewRegistry(),
		activity:  activity.NewLog(cfg.ActivityCapacity),
		logger:    cfg.Logger.With().Str("room", cfg.Room).Logger(),
		now:       time.Now,
		observers: make(map[int]Observer),
	}

	observability.AddActiveSessions(1)
	s.logger.Debug().Msg("Session created")
	return s
}

// Room returns the room id
func (s *Session) Room() string {
	return s.room
}

// Subscribe registers an observer and returns a function that removes it
func (s *Session) Subscribe(obs Observer) func() {
	s.observersMu.Lock()
	id := s.nextObserver
	s.nextObserver++
	s.observers[id] = obs
	s.observersMu.Unlock()

	return func() {
		s.observersMu.Lock()
		delete(s.observers, id)
		s.observersMu.Unlock()
	}
}

func (s *Session) snapshotObservers() []Observer {
	s.observersMu.RLock()
	defer s.observersMu.RUnlock()

	out := make([]Observer, 0, len(s.observers))
	for i := 0; i < s.nextObserver; i++ {
		if obs, ok := s.observers[i]; ok {
			out = append(out, obs)
		}
	}
	return out
}

func (s *Session) notifyPresence(change PresenceChange) {
	observability.SetActiveParticipants(s.room, len(s.presence.Visible()))
	for _, obs := range s.snapshotObservers() {
		obs.OnPresenceChanged(change)
	}
}

func (s *Session) notifyDocument(change DocumentChange) {
	for _, obs := range s.snapshotObservers() {
		obs.OnDocumentChanged(change)
	}
}

// Join adds the local participant
func (s *Session) Join(displayName string, color identity.Color) (presence.Participant, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return presence.Participant{}, ErrSessionClosed
	}
	p, err := s.presence.Join(displayName, color)
	s.mu.Unlock()
	if err != nil {
		return presence.Participant{}, err
	}

	observability.RecordPresenceUpdate(string(OriginLocal))
	s.logger.Info().
		Str("participant_id", p.ID).
		Str("name", p.DisplayName).
		Str("color", string(p.Color)).
		Msg("Participant joined")

	s.notifyPresence(PresenceChange{Kind: PresenceJoined, Origin: OriginLocal, Participant: p})
	return p, nil
}

// LocalEdit applies a keystroke from the local participant: one document
// mutation with the post-keystroke content, the derived edit event, and the
// new cursor. The event position is the cursor held before the keystroke.
func (s *Session) LocalEdit(change TextChange) (DocumentChange, presence.Participant, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return DocumentChange{}, presence.Participant{}, ErrSessionClosed
	}

	local, ok := s.presence.Local()
	if !ok {
		s.mu.Unlock()
		return DocumentChange{}, presence.Participant{}, presence.ErrNoLocalParticipant
	}

	at := s.now()
	previous, _ := s.doc.Mutate(change.Content)
	evt := activity.Derive(previous, change.Content, local.ID, local.CursorOffset, at)
	evicted := s.activity.Append(evt)
	snap := s.doc.Snapshot()

	p, err := s.presence.UpdateLocalCursor(change.Cursor, change.Selection(), snap.Length)
	s.mu.Unlock()
	if err != nil {
		return DocumentChange{}, presence.Participant{}, err
	}

	observability.RecordDocumentMutation(s.room, string(OriginLocal), snap.Revision)
	observability.RecordActivity(s.room, s.activity.Len(), evicted)
	observability.RecordPresenceUpdate(string(OriginLocal))

	docChange := DocumentChange{Origin: OriginLocal, Document: snap, Event: evt}
	s.notifyDocument(docChange)
	s.notifyPresence(PresenceChange{Kind: PresenceUpdated, Origin: OriginLocal, Participant: p})

	return docChange, p, nil
}

// LocalSelect moves the local cursor and selection without editing
func (s *Session) LocalSelect(cursor int, selection presence.Selection) (presence.Participant, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return presence.Participant{}, ErrSessionClosed
	}
	p, err := s.presence.UpdateLocalCursor(cursor, selection, s.doc.Len())
	s.mu.Unlock()
	if err != nil {
		return presence.Participant{}, err
	}

	observability.RecordPresenceUpdate(string(OriginLocal))
	s.notifyPresence(PresenceChange{Kind: PresenceUpdated, Origin: OriginLocal, Participant: p})
	return p, nil
}

// SetLocalOnline records the local participant's liveness
func (s *Session) SetLocalOnline(online bool) (presence.Participant, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return presence.Participant{}, ErrSessionClosed
	}
	local, ok := s.presence.Local()
	if !ok {
		s.mu.Unlock()
		return presence.Participant{}, presence.ErrNoLocalParticipant
	}
	p, err := s.presence.SetOnline(local.ID, online)
	s.mu.Unlock()
	if err != nil {
		return presence.Participant{}, err
	}

	s.notifyPresence(PresenceChange{Kind: PresenceUpdated, Origin: OriginLocal, Participant: p})
	return p, nil
}

// ApplyRemotePresence merges a presence broadcast from a peer. Offsets are
// kept as sent: the document write they refer to may not have arrived yet, so
// they are clamped when projected instead.
func (s *Session) ApplyRemotePresence(u presence.Update) (presence.Participant, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return presence.Participant{}, ErrSessionClosed
	}

	_, known := s.presence.Get(u.ParticipantID)
	p, err := s.presence.ApplyRemoteUpdate(u)
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, presence.ErrStaleUpdate) {
			observability.RecordStaleUpdate(s.room)
		}
		return p, err
	}

	observability.RecordPresenceUpdate(string(OriginRemote))

	kind := PresenceUpdated
	switch {
	case u.Left:
		kind = PresenceLeft
	case !known:
		kind = PresenceJoined
	}
	if u.Left && !known {
		return p, nil
	}

	s.notifyPresence(PresenceChange{Kind: kind, Origin: OriginRemote, Participant: p})
	return p, nil
}

// ApplyRemoteDocument overwrites the register with a peer's write. Writes are
// applied in arrival order; the last one observed wins.
func (s *Session) ApplyRemoteDocument(u document.Update) (DocumentChange, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return DocumentChange{}, ErrSessionClosed
	}

	at := u.Timestamp
	if at.IsZero() {
		at = s.now()
	}
	previous, _ := s.doc.Mutate(u.Content)
	evt := activity.Derive(previous, u.Content, u.ParticipantID, u.Cursor, at)
	evicted := s.activity.Append(evt)
	snap := s.doc.Snapshot()
	s.mu.Unlock()

	observability.RecordDocumentMutation(s.room, string(OriginRemote), snap.Revision)
	observability.RecordActivity(s.room, s.activity.Len(), evicted)

	change := DocumentChange{Origin: OriginRemote, Document: snap, Event: evt}
	s.notifyDocument(change)
	return change, nil
}

// Leave removes a participant
func (s *Session) Leave(participantID string) (presence.Participant, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return presence.Participant{}, ErrSessionClosed
	}
	p, err := s.presence.Leave(participantID)
	s.mu.Unlock()
	if err != nil {
		return presence.Participant{}, err
	}

	origin := OriginRemote
	if p.IsLocal {
		origin = OriginLocal
	}
	s.logger.Info().Str("participant_id", p.ID).Str("name", p.DisplayName).Msg("Participant left")
	s.notifyPresence(PresenceChange{Kind: PresenceLeft, Origin: origin, Participant: p})
	return p, nil
}

// Close tears the session down and drops its observers
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.observersMu.Lock()
	s.observers = make(map[int]Observer)
	s.observersMu.Unlock()

	observability.AddActiveSessions(-1)
	observability.SetActiveParticipants(s.room, 0)
	s.logger.Debug().Msg("Session closed")
}

// Read returns the document content
func (s *Session) Read() string {
	return s.doc.Read()
}

// Document returns a snapshot of the document register
func (s *Session) Document() document.Snapshot {
	return s.doc.Snapshot()
}

// Local returns the local participant, if joined
func (s *Session) Local() (presence.Participant, bool) {
	return s.presence.Local()
}

// Participant returns a participant by id
func (s *Session) Participant(id string) (presence.Participant, bool) {
	return s.presence.Get(id)
}

// ExistingNames returns the names the identity prompt must avoid
func (s *Session) ExistingNames() []string {
	return s.presence.JoinedNames()
}

// Activity returns the n most recent edits, newest first
func (s *Session) Activity(n int) []activity.EditEvent {
	return s.activity.Recent(n)
}

// Project projects offset into the current content
func (s *Session) Project(offset int) projection.Position {
	return s.metrics.Project(s.doc.Read(), offset)
}

// RemoteCursors projects every visible non-local participant's cursor and
// selection against the current content.
func (s *Session) RemoteCursors() []RemoteCursor {
	content := s.doc.Read()
	return s.remoteCursors(content, s.presence.Visible())
}

func (s *Session) remoteCursors(content string, visible []presence.Participant) []RemoteCursor {
	cursors := make([]RemoteCursor, 0, len(visible))
	for _, p := range visible {
		if p.IsLocal {
			continue
		}
		rc := RemoteCursor{
			Participant: p,
			Position:    s.metrics.Project(content, p.CursorOffset),
		}
		if start, end, ok := p.Selection.Range(); ok {
			startPos := s.metrics.Project(content, start)
			endPos := s.metrics.Project(content, end)
			rc.SelectionStart = &startPos
			rc.SelectionEnd = &endPos
		}
		cursors = append(cursors, rc)
	}
	return cursors
}

// Snapshot returns the render state
func (s *Session) Snapshot() Snapshot {
	doc := s.doc.Snapshot()
	visible := s.presence.Visible()

	online := 0
	for _, p := range visible {
		if p.Online {
			online++
		}
	}

	return Snapshot{
		Room:           s.room,
		Document:       doc,
		Participants:   visible,
		RemoteCursors:  s.remoteCursors(doc.Content, visible),
		CharacterCount: doc.Length,
		OnlineCount:    online,
	}
}
