// Package relay is an in-memory replicated storage and presence channel.
// A Hub holds one room per room id; each room keeps the last document write
// and the latest presence of every live participant, and fans every
// publication out to all of its subscribers, the publisher included.
//
// Rooms are created on first use and torn down, dropping the retained
// state, once they hold neither subscribers nor participants. A participant
// that only disconnected keeps its presence, and with it the room document,
// until it leaves. Publishing into an empty room keeps it alive for as long
// as the published participants stay.
package relay

import (
	"context"
	"sort"
	"sync"

	"github.com/harun/collabedit/internal/observability"
	"github.com/harun/collabedit/internal/tracing"
	"github.com/harun/collabedit/pkg/document"
	"github.com/harun/collabedit/pkg/presence"
	"github.com/rs/zerolog"
)

// Hub owns the rooms
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]*room
	logger zerolog.Logger
}

// NewHub creates an empty hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]*room),
		logger: logger.With().Str("component", "relay").Logger(),
	}
}

// Room returns a handle on room id. Handles are cheap and resolve the room
// on every call, so one held across a teardown keeps working.
func (h *Hub) Room(id string) *Room {
	return &Room{hub: h, id: id}
}

// Rooms returns the ids of the live rooms, sorted
func (h *Hub) Rooms() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats describes one live room
type Stats struct {
	Subscribers int  `json:"subscribers"`
	Presences   int  `json:"presences"`
	Pending     int  `json:"pending"`
	HasDocument bool `json:"hasDocument"`
}

// Stats returns the stats of room id
func (h *Hub) Stats(id string) (Stats, bool) {
	h.mu.Lock()
	r, ok := h.rooms[id]
	h.mu.Unlock()
	if !ok {
		return Stats{}, false
	}
	return r.stats(), true
}

// Close tears every room down
func (h *Hub) Close() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]*room)
	h.mu.Unlock()

	for _, r := range rooms {
		r.close()
	}
}

func (h *Hub) lookupOrCreate(id string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lookupOrCreateLocked(id)
}

// publish retries on a fresh room when r was torn down under it
func (h *Hub) publish(id string, fn func(*room) bool) {
	for {
		r := h.lookupOrCreate(id)
		if fn(r) {
			h.release(id, r)
			return
		}
	}
}

func (h *Hub) release(id string, r *room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releaseLocked(id, r)
}

// releaseLocked tears r down once it holds neither subscribers nor
// participants
func (h *Hub) releaseLocked(id string, r *room) {
	if !r.idle() {
		return
	}
	if h.rooms[id] == r {
		delete(h.rooms, id)
	}
	r.close()
	h.logger.Debug().Str("room", id).Msg("Room torn down")
}

func (h *Hub) lookupOrCreateLocked(id string) *room {
	r, ok := h.rooms[id]
	if !ok {
		r = newRoom(id)
		h.rooms[id] = r
		h.logger.Debug().Str("room", id).Msg("Room created")
	}
	return r
}

func (h *Hub) subscribe(id string, deliver func(message), replay func(*room) []message) func() {
	h.mu.Lock()
	r := h.lookupOrCreateLocked(id)
	subID := r.add(deliver, replay)
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()

			r.remove(subID)
			h.releaseLocked(id, r)
		})
	}
}

// Room is a handle on one room of a Hub. It implements session.Replicator.
type Room struct {
	hub *Hub
	id  string
}

// ID returns the room id
func (r *Room) ID() string {
	return r.id
}

// BroadcastPresence stores u as the participant's latest presence, or drops
// the participant on Left, and delivers u to every subscriber.
func (r *Room) BroadcastPresence(ctx context.Context, u presence.Update) error {
	r.hub.publish(r.id, func(state *room) bool { return state.publishPresence(u) })

	logger := tracing.LoggerFromContext(tracing.WithRoom(ctx, r.id), r.hub.logger)
	logger.Trace().
		Str("participant_id", u.ParticipantID).
		Bool("left", u.Left).
		Msg("Presence published")
	return nil
}

// SubscribePresence registers fn for presence deliveries. The live presences
// are replayed to fn first, oldest first.
func (r *Room) SubscribePresence(fn func(presence.Update)) func() {
	deliver := func(m message) {
		if m.presence == nil {
			return
		}
		observability.RecordRelayDelivery(m.kind())
		fn(*m.presence)
	}
	return r.hub.subscribe(r.id, deliver, (*room).presenceReplayLocked)
}

// SetDocument overwrites the room document and delivers u to every
// subscriber.
func (r *Room) SetDocument(ctx context.Context, u document.Update) error {
	r.hub.publish(r.id, func(state *room) bool { return state.publishDocument(u) })

	logger := tracing.LoggerFromContext(tracing.WithRoom(ctx, r.id), r.hub.logger)
	logger.Trace().
		Str("participant_id", u.ParticipantID).
		Int("length", len(u.Content)).
		Msg("Document published")
	return nil
}

// SubscribeDocument registers fn for document deliveries. The last document
// write, if any, is replayed to fn first.
func (r *Room) SubscribeDocument(fn func(document.Update)) func() {
	deliver := func(m message) {
		if m.document == nil {
			return
		}
		observability.RecordRelayDelivery(m.kind())
		fn(*m.document)
	}
	return r.hub.subscribe(r.id, deliver, (*room).documentReplayLocked)
}

// Document returns the last document write held by the room
func (r *Room) Document() (document.Update, bool) {
	r.hub.mu.Lock()
	state, ok := r.hub.rooms[r.id]
	r.hub.mu.Unlock()
	if !ok {
		return document.Update{}, false
	}
	return state.lastDocument()
}

// Presences returns the live presences held by the room, oldest first
func (r *Room) Presences() []presence.Update {
	r.hub.mu.Lock()
	state, ok := r.hub.rooms[r.id]
	r.hub.mu.Unlock()
	if !ok {
		return nil
	}

	replay := state.presenceReplay()
	out := make([]presence.Update, 0, len(replay))
	for _, m := range replay {
		out = append(out, *m.presence)
	}
	return out
}
