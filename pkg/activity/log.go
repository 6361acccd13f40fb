package activity

import (
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// DefaultCapacity is the number of edits retained
const DefaultCapacity = 50

// Kind classifies an edit
type Kind string

const (
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
)

// EditEvent describes one document mutation
type EditEvent struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participantId"`
	Kind          Kind      `json:"kind"`
	Position      int       `json:"position"`
	Text          string    `json:"text"`
	Timestamp     time.Time `json:"timestamp"`
}

// Derive builds the event for a mutation from previous to next made by
// participantID while its cursor was at cursor. A longer document is an
// insert of the runes past the previous length; anything else is a delete of
// the runes past the new length.
func Derive(previous, next, participantID string, cursor int, at time.Time) EditEvent {
	prev := []rune(previous)
	curr := []rune(next)

	evt := EditEvent{
		ID:            newEventID(),
		ParticipantID: participantID,
		Position:      cursor,
		Timestamp:     at,
	}
	if len(curr) > len(prev) {
		evt.Kind = KindInsert
		evt.Text = string(curr[len(prev):])
	} else {
		evt.Kind = KindDelete
		evt.Text = string(prev[len(curr):])
	}
	return evt
}

func newEventID() string {
	id, err := gonanoid.New()
	if err != nil {
		return time.Now().Format("20060102150405.000000000")
	}
	return id
}

// Log is a fixed-capacity FIFO of edit events
type Log struct {
	mu       sync.RWMutex
	capacity int
	events   []EditEvent
}

// NewLog creates a log retaining at most capacity events. A non-positive
// capacity uses DefaultCapacity.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		capacity: capacity,
		events:   make([]EditEvent, 0, capacity),
	}
}

// Append adds evt, evicting the oldest entries past capacity. It returns the
// number of evicted events.
func (l *Log) Append(evt EditEvent) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, evt)
	evicted := 0
	if over := len(l.events) - l.capacity; over > 0 {
		copy(l.events, l.events[over:])
		l.events = l.events[:l.capacity]
		evicted = over
	}
	return evicted
}

// Recent returns up to n events, newest first. n <= 0 returns all of them.
func (l *Log) Recent(n int) []EditEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.events) {
		n = len(l.events)
	}
	out := make([]EditEvent, 0, n)
	for i := len(l.events) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.events[i])
	}
	return out
}

// Len returns the number of retained events
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Capacity returns the maximum number of retained events
func (l *Log) Capacity() int {
	return l.capacity
}
