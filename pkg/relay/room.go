package relay

import (
	"sort"
	"sync"

	"github.com/harun/collabedit/pkg/document"
	"github.com/harun/collabedit/pkg/presence"
)

// room is the retained state and subscriber set behind a Room handle
type room struct {
	id string

	mu          sync.Mutex
	document    *document.Update
	presences   map[string]presence.Update
	subscribers map[int]*mailbox
	nextSub     int
	closed      bool
}

func newRoom(id string) *room {
	return &room{
		id:          id,
		presences:   make(map[string]presence.Update),
		subscribers: make(map[int]*mailbox),
	}
}

// add registers a subscriber and queues its replay before any later
// publication can reach it.
func (r *room) add(deliver func(message), replay func(*room) []message) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	mb := newMailbox(deliver)
	for _, m := range replay(r) {
		mb.push(m)
	}

	id := r.nextSub
	r.nextSub++
	r.subscribers[id] = mb
	return id
}

// remove drops a subscriber
func (r *room) remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if mb, ok := r.subscribers[id]; ok {
		mb.close()
		delete(r.subscribers, id)
	}
}

func (r *room) close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, mb := range r.subscribers {
		mb.close()
		delete(r.subscribers, id)
	}
	r.presences = make(map[string]presence.Update)
	r.document = nil
	r.closed = true
}

// publishPresence reports false when the room was already torn down
func (r *room) publishPresence(u presence.Update) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}

	if u.Left {
		delete(r.presences, u.ParticipantID)
	} else if held, ok := r.presences[u.ParticipantID]; !ok || !u.Timestamp.Before(held.Timestamp) {
		r.presences[u.ParticipantID] = u
	}

	r.fanOutLocked(message{presence: &u})
	return true
}

func (r *room) publishDocument(u document.Update) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}

	r.document = &u
	r.fanOutLocked(message{document: &u})
	return true
}

func (r *room) idle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers) == 0 && len(r.presences) == 0
}

func (r *room) fanOutLocked(m message) {
	for i := 0; i < r.nextSub; i++ {
		if mb, ok := r.subscribers[i]; ok {
			mb.push(m)
		}
	}
}

func (r *room) presenceReplayLocked() []message {
	held := make([]presence.Update, 0, len(r.presences))
	for _, u := range r.presences {
		held = append(held, u)
	}
	sort.Slice(held, func(i, j int) bool {
		if held[i].Timestamp.Equal(held[j].Timestamp) {
			return held[i].ParticipantID < held[j].ParticipantID
		}
		return held[i].Timestamp.Before(held[j].Timestamp)
	})

	out := make([]message, 0, len(held))
	for i := range held {
		out = append(out, message{presence: &held[i]})
	}
	return out
}

func (r *room) presenceReplay() []message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presenceReplayLocked()
}

func (r *room) documentReplayLocked() []message {
	if r.document == nil {
		return nil
	}
	u := *r.document
	return []message{{document: &u}}
}

func (r *room) lastDocument() (document.Update, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.document == nil {
		return document.Update{}, false
	}
	return *r.document, true
}

func (r *room) stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := 0
	for _, mb := range r.subscribers {
		pending += mb.pending()
	}
	return Stats{
		Subscribers: len(r.subscribers),
		Presences:   len(r.presences),
		Pending:     pending,
		HasDocument: r.document != nil,
	}
}
