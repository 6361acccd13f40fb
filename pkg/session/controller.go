package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/harun/collabedit/internal/observability"
	"github.com/harun/collabedit/internal/tracing"
	"github.com/harun/collabedit/pkg/activity"
	"github.com/harun/collabedit/pkg/document"
	"github.com/harun/collabedit/pkg/identity"
	"github.com/harun/collabedit/pkg/presence"
	"github.com/harun/collabedit/pkg/projection"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultRoom is the room every client joins unless configured otherwise
const DefaultRoom = "collaborative-editor"

var (
	// ErrNotJoined is returned for local mutations outside the Joined state
	ErrNotJoined = errors.New("not joined")
	// ErrInvalidTransition is returned when a lifecycle call does not apply
	// to the current state
	ErrInvalidTransition = errors.New("invalid session state transition")
)

// State is the controller lifecycle state
type State string

const (
	StateUnjoined     State = "unjoined"
	StateAwaitingName State = "awaiting_name"
	StateJoined       State = "joined"
	StateLeft         State = "left"
)

// StateChange describes a lifecycle transition. Names is set when entering
// AwaitingName and lists the names the identity prompt must avoid.
type StateChange struct {
	From  State    `json:"from"`
	To    State    `json:"to"`
	Names []string `json:"names,omitempty"`
}

// StateObserver is an optional Observer extension notified on lifecycle
// transitions.
type StateObserver interface {
	OnStateChanged(StateChange)
}

// ControllerConfig holds controller configuration
type ControllerConfig struct {
	Room             string
	Replicator       Replicator
	ColorMode        identity.ColorMode
	Metrics          projection.Metrics
	ActivityCapacity int
	Logger           *zerolog.Logger
}

// Controller drives one Session from local input and remote notifications.
// All events are handled one at a time.
type Controller struct {
	room       string
	replicator Replicator
	assigner   *identity.Assigner
	metrics    projection.Metrics
	capacity   int
	base       zerolog.Logger
	logger     zerolog.Logger

	mu           sync.Mutex
	state        State
	session      *Session
	initialColor identity.Color
	localID      string
	online       bool
	dirty        bool
	cancels      []func()
	lastRemote   *document.Update

	observersMu  sync.RWMutex
	observers    map[int]Observer
	nextObserver int
}

// NewController creates a controller in the Unjoined state
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Replicator == nil {
		return nil, fmt.Errorf("replicator is required")
	}
	if cfg.Room == "" {
		cfg.Room = DefaultRoom
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	base := logger.With().Str("component", "session").Logger()

	return &Controller{
		room:       cfg.Room,
		replicator: cfg.Replicator,
		assigner:   identity.NewAssigner(cfg.ColorMode),
		metrics:    cfg.Metrics,
		capacity:   cfg.ActivityCapacity,
		base:       base,
		logger:     base.With().Str("room", cfg.Room).Logger(),
		state:      StateUnjoined,
		observers:  make(map[int]Observer),
	}, nil
}

// Room returns the room id
func (c *Controller) Room() string {
	return c.room
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the active session, or nil outside AwaitingName and Joined
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Online reports the local liveness flag
func (c *Controller) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// Subscribe registers an observer for the lifetime of the controller.
// Observers must not call back into the controller.
func (c *Controller) Subscribe(obs Observer) func() {
	c.observersMu.Lock()
	id := c.nextObserver
	c.nextObserver++
	c.observers[id] = obs
	c.observersMu.Unlock()

	return func() {
		c.observersMu.Lock()
		delete(c.observers, id)
		c.observersMu.Unlock()
	}
}

func (c *Controller) snapshotObservers() []Observer {
	c.observersMu.RLock()
	defer c.observersMu.RUnlock()

	out := make([]Observer, 0, len(c.observers))
	for i := 0; i < c.nextObserver; i++ {
		if obs, ok := c.observers[i]; ok {
			out = append(out, obs)
		}
	}
	return out
}

// setStateLocked must be called with c.mu held
func (c *Controller) setStateLocked(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("Session state changed")

	change := StateChange{From: from, To: to}
	if to == StateAwaitingName && c.session != nil {
		change.Names = c.session.ExistingNames()
	}
	for _, obs := range c.snapshotObservers() {
		if so, ok := obs.(StateObserver); ok {
			so.OnStateChanged(change)
		}
	}
}

// Open enters the room: Unjoined → AwaitingName. It returns the names already
// in use so the identity prompt can avoid them.
func (c *Controller) Open(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateUnjoined {
		return nil, fmt.Errorf("open from %s: %w", c.state, ErrInvalidTransition)
	}

	s := New(Config{
		Room:             c.room,
		Metrics:          c.metrics,
		ActivityCapacity: c.capacity,
		Logger:           c.base,
	})
	s.Subscribe(ObserverFuncs{
		Presence: func(change PresenceChange) {
			for _, obs := range c.snapshotObservers() {
				obs.OnPresenceChanged(change)
			}
		},
		Document: func(change DocumentChange) {
			for _, obs := range c.snapshotObservers() {
				obs.OnDocumentChanged(change)
			}
		},
	})

	c.session = s
	c.lastRemote = nil
	c.initialColor = c.assigner.Initial()
	c.online = true
	c.subscribeLocked()
	c.seedPresencesLocked()
	if held, ok := c.replicator.Document(); ok {
		c.seedDocumentLocked(held)
	}
	c.setStateLocked(StateAwaitingName)

	logger := c.contextLogger(ctx)
	logger.Debug().Msg("Awaiting participant name")
	return s.ExistingNames(), nil
}

func (c *Controller) subscribeLocked() {
	c.cancels = append(c.cancels,
		c.replicator.SubscribePresence(func(u presence.Update) {
			if err := c.ApplyRemoteUpdate(u); err != nil {
				c.logger.Debug().Err(err).Str("participant_id", u.ParticipantID).Msg("Remote presence not applied")
			}
		}),
		c.replicator.SubscribeDocument(func(u document.Update) {
			if err := c.ApplyRemoteDocument(u); err != nil {
				c.logger.Debug().Err(err).Str("participant_id", u.ParticipantID).Msg("Remote document not applied")
			}
		}),
	)
}

// seedPresencesLocked applies the presences the room holds now. The
// subscription replays them again later; those copies are idempotent.
func (c *Controller) seedPresencesLocked() {
	for _, u := range c.replicator.Presences() {
		if err := c.applyRemoteUpdateLocked(u); err != nil {
			c.logger.Debug().Err(err).Str("participant_id", u.ParticipantID).Msg("Held presence not applied")
		}
	}
}

func (c *Controller) seedDocumentLocked(u document.Update) {
	if err := c.applyRemoteDocumentLocked(u); err != nil {
		c.logger.Debug().Err(err).Str("participant_id", u.ParticipantID).Msg("Held document not applied")
	}
}

func (c *Controller) unsubscribeLocked() {
	for _, cancel := range c.cancels {
		cancel()
	}
	c.cancels = nil
}

// SubmitName joins the local participant: AwaitingName → Joined. Identity
// errors leave the controller in AwaitingName so the prompt can retry.
func (c *Controller) SubmitName(ctx context.Context, name string) (presence.Participant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAwaitingName {
		return presence.Participant{}, fmt.Errorf("submit name from %s: %w", c.state, ErrInvalidTransition)
	}

	color := c.assigner.ForName(name, c.initialColor)
	p, err := c.session.Join(name, color)
	if err != nil {
		if identity.IsIdentityError(err) {
			observability.RecordIdentityRejection(identityReason(err))
			c.logger.Debug().Err(err).Msg("Name rejected")
		}
		return presence.Participant{}, err
	}

	c.localID = p.ID
	c.setStateLocked(StateJoined)

	ctx = tracing.WithParticipantID(ctx, p.ID)
	c.publishPresenceLocked(ctx, p.ToUpdate())
	return p, nil
}

func identityReason(err error) string {
	switch {
	case errors.Is(err, identity.ErrNameEmpty):
		return "empty"
	case errors.Is(err, identity.ErrNameTooShort):
		return "too_short"
	case errors.Is(err, identity.ErrNameTaken):
		return "taken"
	default:
		return "unknown"
	}
}

// Edit applies a keystroke from the text input surface
func (c *Controller) Edit(ctx context.Context, change TextChange) (DocumentChange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireJoinedLocked(); err != nil {
		return DocumentChange{}, err
	}

	docChange, p, err := c.session.LocalEdit(change)
	if err != nil {
		return DocumentChange{}, err
	}

	ctx = tracing.WithParticipantID(ctx, p.ID)
	if !c.online {
		c.dirty = true
		return docChange, nil
	}

	if err := c.replicator.SetDocument(ctx, document.Update{
		Content:       docChange.Document.Content,
		ParticipantID: p.ID,
		Cursor:        docChange.Event.Position,
		Timestamp:     docChange.Event.Timestamp,
	}); err != nil {
		logger := c.contextLogger(ctx)
		logger.Warn().Err(err).Msg("Failed to replicate document")
	}
	c.publishPresenceLocked(ctx, p.ToUpdate())

	return docChange, nil
}

// Select moves the local cursor and selection
func (c *Controller) Select(ctx context.Context, cursor int, selection presence.Selection) (presence.Participant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireJoinedLocked(); err != nil {
		return presence.Participant{}, err
	}

	p, err := c.session.LocalSelect(cursor, selection)
	if err != nil {
		return presence.Participant{}, err
	}

	if c.online {
		c.publishPresenceLocked(tracing.WithParticipantID(ctx, p.ID), p.ToUpdate())
	}
	return p, nil
}

// Leave removes the local participant and tears the session down:
// Joined → Left. Leaving before joining also ends the session.
func (c *Controller) Leave(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateLeft:
		return nil
	case StateUnjoined:
		c.setStateLocked(StateLeft)
		return nil
	}

	if local, ok := c.session.Local(); ok {
		if _, err := c.session.Leave(local.ID); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to remove local participant")
		}
		u := local.ToUpdate()
		u.Left = true
		u.Online = false
		if c.online {
			c.publishPresenceLocked(tracing.WithParticipantID(ctx, local.ID), u)
		}
	}

	c.unsubscribeLocked()
	c.session.Close()
	c.session = nil
	c.online = false
	c.setStateLocked(StateLeft)

	logger := c.contextLogger(ctx)
	logger.Info().Str("participant_id", c.localID).Msg("Session left")
	return nil
}

// Disconnect marks the local participant offline and detaches from the
// replicator. The state is unchanged.
func (c *Controller) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil || !c.online {
		return nil
	}

	if c.state == StateJoined {
		if p, err := c.session.SetLocalOnline(false); err == nil {
			c.publishPresenceLocked(ctx, p.ToUpdate())
		}
	}
	c.unsubscribeLocked()
	c.online = false

	logger := c.contextLogger(ctx)
	logger.Info().Msg("Session disconnected")
	return nil
}

// Reconnect reattaches to the replicator and resyncs with the room. A
// surviving local identity resumes Joined and pushes any edits made while
// offline, or the whole local document when the room no longer holds one; a
// lost one re-enters AwaitingName and the returned names feed the identity
// prompt.
func (c *Controller) Reconnect(ctx context.Context) (State, []string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return c.state, nil, fmt.Errorf("reconnect from %s: %w", c.state, ErrInvalidTransition)
	}
	if c.online {
		return c.state, c.session.ExistingNames(), nil
	}

	c.online = true
	c.subscribeLocked()
	c.seedPresencesLocked()

	held, roomHasDocument := c.replicator.Document()
	if roomHasDocument && !c.dirty {
		c.seedDocumentLocked(held)
	}

	local, ok := c.session.Local()
	if !ok {
		c.localID = ""
		c.dirty = false
		c.setStateLocked(StateAwaitingName)
		return c.state, c.session.ExistingNames(), nil
	}

	p, err := c.session.SetLocalOnline(true)
	if err != nil {
		return c.state, nil, err
	}
	snap := c.session.Document()
	if c.dirty || (!roomHasDocument && snap.Content != "") {
		if err := c.replicator.SetDocument(ctx, document.Update{
			Content:       snap.Content,
			ParticipantID: local.ID,
			Cursor:        p.CursorOffset,
			Timestamp:     p.LastUpdated,
		}); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to replicate offline edits")
		}
		c.dirty = false
	}
	c.publishPresenceLocked(ctx, p.ToUpdate())

	logger := c.contextLogger(ctx)
	logger.Info().Msg("Session reconnected")
	return c.state, nil, nil
}

// ApplyRemoteUpdate merges a presence update from a peer or the synthetic
// driver. Stale updates and echoes of the local participant are dropped.
func (c *Controller) ApplyRemoteUpdate(u presence.Update) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applyRemoteUpdateLocked(u)
}

func (c *Controller) applyRemoteUpdateLocked(u presence.Update) error {
	if c.session == nil {
		return nil
	}

	if u.ParticipantID != "" && u.ParticipantID == c.localID {
		if !u.Left || c.state != StateJoined {
			return nil
		}
		// another replica evicted us
		if _, err := c.session.Leave(c.localID); err != nil && !errors.Is(err, presence.ErrUnknownParticipant) {
			return err
		}
		c.logger.Warn().Str("participant_id", c.localID).Msg("Local identity lost")
		c.localID = ""
		c.setStateLocked(StateAwaitingName)
		return nil
	}

	if _, err := c.session.ApplyRemotePresence(u); err != nil {
		if errors.Is(err, presence.ErrStaleUpdate) {
			c.logger.Debug().
				Str("participant_id", u.ParticipantID).
				Time("timestamp", u.Timestamp).
				Msg("Dropped stale presence update")
			return nil
		}
		return err
	}
	return nil
}

// ApplyRemoteDocument overwrites the document with a peer's write. A
// redelivery of the write applied last is dropped.
func (c *Controller) ApplyRemoteDocument(u document.Update) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applyRemoteDocumentLocked(u)
}

func (c *Controller) applyRemoteDocumentLocked(u document.Update) error {
	if c.session == nil {
		return nil
	}
	if u.ParticipantID != "" && u.ParticipantID == c.localID {
		return nil
	}
	if c.lastRemote != nil && sameWrite(*c.lastRemote, u) {
		return nil
	}

	if _, err := c.session.ApplyRemoteDocument(u); err != nil {
		return err
	}
	c.lastRemote = &u
	return nil
}

func sameWrite(a, b document.Update) bool {
	return a.ParticipantID == b.ParticipantID &&
		a.Content == b.Content &&
		a.Cursor == b.Cursor &&
		a.Timestamp.Equal(b.Timestamp)
}

// ExistingNames returns the names the identity prompt must avoid
func (c *Controller) ExistingNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}
	return c.session.ExistingNames()
}

// Snapshot returns the render state of the active session
func (c *Controller) Snapshot() (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return Snapshot{}, ErrNotJoined
	}
	return c.session.Snapshot(), nil
}

// Activity returns the n most recent edits, newest first
func (c *Controller) Activity(n int) ([]activity.EditEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil, ErrNotJoined
	}
	return c.session.Activity(n), nil
}

// Project projects a rune offset of the current document
func (c *Controller) Project(offset int) (projection.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return projection.Position{}, ErrNotJoined
	}
	return c.session.Project(offset), nil
}

func (c *Controller) requireJoinedLocked() error {
	if c.state != StateJoined {
		observability.RecordNotJoined()
		return ErrNotJoined
	}
	return nil
}

// contextLogger carries the request fields of ctx and the room exactly once
func (c *Controller) contextLogger(ctx context.Context) zerolog.Logger {
	return tracing.LoggerFromContext(tracing.WithRoom(ctx, c.room), c.base)
}

func (c *Controller) publishPresenceLocked(ctx context.Context, u presence.Update) {
	if err := c.replicator.BroadcastPresence(ctx, u); err != nil {
		logger := c.contextLogger(ctx)
		logger.Warn().Err(err).Msg("Failed to broadcast presence")
	}
}
