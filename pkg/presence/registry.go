package presence

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/collabedit/pkg/identity"
)

var (
	// ErrStaleUpdate is returned when a remote update is older than the held state
	ErrStaleUpdate = errors.New("stale presence update")
	// ErrAlreadyJoined is returned when the local participant joins twice
	ErrAlreadyJoined = errors.New("local participant already joined")
	// ErrNoLocalParticipant is returned for local operations before Join
	ErrNoLocalParticipant = errors.New("no local participant")
	// ErrUnknownParticipant is returned when an id is not in the registry
	ErrUnknownParticipant = errors.New("unknown participant")
)

// Registry holds every participant's presence, keyed by id
type Registry struct {
	mu           sync.RWMutex
	participants map[string]*Participant
	order        []string
	localID      string
	now          func() time.Time
}

// NewRegistry creates an empty presence registry
func NewRegistry() *Registry {
	return &Registry{
		participants: make(map[string]*Participant),
		now:          time.Now,
	}
}

// stamp returns a timestamp strictly after prev, even if the wall clock has
// not moved since prev was taken.
func (r *Registry) stamp(prev time.Time) time.Time {
	now := r.now()
	if !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	return now
}

// Join validates displayName against the currently joined names and inserts
// the local participant.
func (r *Registry) Join(displayName string, color identity.Color) (Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.localID != "" {
		return Participant{}, ErrAlreadyJoined
	}

	name, err := identity.ValidateName(displayName, r.joinedNamesLocked())
	if err != nil {
		return Participant{}, err
	}

	p := &Participant{
		ID:          uuid.New().String(),
		DisplayName: name,
		Color:       color,
		Selection:   NoSelection(),
		LastUpdated: r.stamp(time.Time{}),
		IsLocal:     true,
		Online:      true,
	}
	r.insertLocked(p)
	r.localID = p.ID

	return *p, nil
}

// UpdateLocalCursor moves the local cursor. offset and selection are clamped
// into [0, docLen]; an empty selection clears any stored one.
func (r *Registry) UpdateLocalCursor(offset int, selection Selection, docLen int) (Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[r.localID]
	if !ok {
		return Participant{}, ErrNoLocalParticipant
	}

	if docLen < 0 {
		docLen = 0
	}
	p.CursorOffset = clamp(offset, 0, docLen)
	p.Selection = selection.Clamp(docLen)
	p.LastUpdated = r.stamp(p.LastUpdated)

	return *p, nil
}

// ApplyRemoteUpdate merges a remote presence broadcast. The whole object is
// replaced when u is not older than the held state; ties are accepted so a
// redelivered update is harmless. Unknown ids are inserted.
func (r *Registry) ApplyRemoteUpdate(u Update) (Participant, error) {
	if u.ParticipantID == "" {
		return Participant{}, fmt.Errorf("presence update missing participant id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.participants[u.ParticipantID]
	if exists && u.Timestamp.Before(p.LastUpdated) {
		return *p, ErrStaleUpdate
	}

	if u.Left {
		if exists {
			left := *p
			r.removeLocked(u.ParticipantID)
			return left, nil
		}
		return Participant{ID: u.ParticipantID}, nil
	}

	if !exists {
		p = &Participant{ID: u.ParticipantID}
		r.insertLocked(p)
	}

	p.DisplayName = u.Name
	p.Color = u.Color
	p.CursorOffset = u.Cursor
	if p.CursorOffset < 0 {
		p.CursorOffset = 0
	}
	p.Selection = u.Selection
	p.LastUpdated = u.Timestamp
	p.Online = u.Online

	return *p, nil
}

// Leave removes a participant. Ids are never reused.
func (r *Registry) Leave(id string) (Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[id]
	if !ok {
		return Participant{}, ErrUnknownParticipant
	}
	left := *p
	r.removeLocked(id)
	return left, nil
}

// SetOnline records a participant's liveness
func (r *Registry) SetOnline(id string, online bool) (Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[id]
	if !ok {
		return Participant{}, ErrUnknownParticipant
	}
	p.Online = online
	p.LastUpdated = r.stamp(p.LastUpdated)
	return *p, nil
}

// Local returns the local participant
func (r *Registry) Local() (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participants[r.localID]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Get returns a participant by id
func (r *Registry) Get(id string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participants[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Participants returns every participant in join order
func (r *Registry) Participants() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.participants[id])
	}
	return out
}

// Visible returns the participants that have a name, in join order
func (r *Registry) Visible() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Participant, 0, len(r.order))
	for _, id := range r.order {
		if p := r.participants[id]; p.Joined() {
			out = append(out, *p)
		}
	}
	return out
}

// JoinedNames returns the non-empty display names currently in use
func (r *Registry) JoinedNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.joinedNamesLocked()
}

// Len returns the number of participants, joined or not
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

func (r *Registry) joinedNamesLocked() []string {
	names := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if p := r.participants[id]; p.Joined() {
			names = append(names, p.DisplayName)
		}
	}
	return names
}

func (r *Registry) insertLocked(p *Participant) {
	r.participants[p.ID] = p
	r.order = append(r.order, p.ID)
}

func (r *Registry) removeLocked(id string) {
	delete(r.participants, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.localID == id {
		r.localID = ""
	}
}
