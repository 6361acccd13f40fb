// Package document holds the shared text buffer: a single overwritable
// register with a revision counter and no operation history.
package document

import (
	"sync"
	"time"
	"unicode/utf8"
)

// Snapshot is a point-in-time copy of the register
type Snapshot struct {
	Content  string `json:"content"`
	Revision uint64 `json:"revision"`
	Length   int    `json:"length"`
}

// Update is a replicated document write
type Update struct {
	Content       string    `json:"content"`
	ParticipantID string    `json:"participantId"`
	Cursor        int       `json:"cursor"`
	Timestamp     time.Time `json:"timestamp"`
}

// Register is the one-slot document. The most recently applied Mutate wins;
// concurrent writers are not merged.
type Register struct {
	mu       sync.RWMutex
	content  string
	revision uint64
}

// NewRegister creates a register holding initial at revision 0
func NewRegister(initial string) *Register {
	return &Register{content: initial}
}

// Read returns the current content
func (r *Register) Read() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.content
}

// Revision returns the current revision
func (r *Register) Revision() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revision
}

// Len returns the content length in runes
func (r *Register) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return utf8.RuneCountInString(r.content)
}

// Mutate replaces the content wholesale and bumps the revision, even when
// newContent equals the current content. It returns the previous content and
// the new revision.
func (r *Register) Mutate(newContent string) (previous string, revision uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous = r.content
	r.content = newContent
	r.revision++
	return previous, r.revision
}

// Snapshot returns a copy of the register state
func (r *Register) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		Content:  r.content,
		Revision: r.revision,
		Length:   utf8.RuneCountInString(r.content),
	}
}
