package presence

import (
	"time"

	"github.com/harun/collabedit/pkg/identity"
)

// Participant is one collaborator's live state
type Participant struct {
	ID           string         `json:"id"`
	DisplayName  string         `json:"displayName"`
	Color        identity.Color `json:"color"`
	CursorOffset int            `json:"cursorOffset"`
	Selection    Selection      `json:"selection"`
	LastUpdated  time.Time      `json:"lastUpdated"`
	IsLocal      bool           `json:"isLocal"`
	Online       bool           `json:"online"`
}

// Joined reports whether the participant has chosen a name. Participants
// without one are not rendered and do not count towards name uniqueness.
func (p Participant) Joined() bool {
	return p.DisplayName != ""
}

// Update is the whole-presence object a participant broadcasts. Receivers
// replace their copy wholesale, never field by field.
type Update struct {
	ParticipantID string         `json:"participantId"`
	Name          string         `json:"name"`
	Color         identity.Color `json:"color"`
	Cursor        int            `json:"cursor"`
	Selection     Selection      `json:"selection"`
	Timestamp     time.Time      `json:"timestamp"`
	Online        bool           `json:"online"`
	Left          bool           `json:"left,omitempty"`
}

// ToUpdate converts the participant into its broadcast form
func (p Participant) ToUpdate() Update {
	return Update{
		ParticipantID: p.ID,
		Name:          p.DisplayName,
		Color:         p.Color,
		Cursor:        p.CursorOffset,
		Selection:     p.Selection,
		Timestamp:     p.LastUpdated,
		Online:        p.Online,
	}
}
