package presence

import (
	"encoding/json"
	"fmt"
)

// Selection is either no selection or a range [Start, End) with Start <= End.
// The zero value is NoSelection.
type Selection struct {
	start int
	end   int
	set   bool
}

type selectionJSON struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// NoSelection returns the empty selection
func NoSelection() Selection {
	return Selection{}
}

// RangeSelection returns a selection covering start..end. The bounds are
// normalized so that start <= end; an empty range yields NoSelection.
func RangeSelection(start, end int) Selection {
	if start > end {
		start, end = end, start
	}
	if start == end {
		return NoSelection()
	}
	return Selection{start: start, end: end, set: true}
}

// Range returns the selection bounds and whether a range is present
func (s Selection) Range() (start, end int, ok bool) {
	return s.start, s.end, s.set
}

// IsEmpty reports whether there is no selected range
func (s Selection) IsEmpty() bool {
	return !s.set
}

// Len returns the number of selected runes
func (s Selection) Len() int {
	if !s.set {
		return 0
	}
	return s.end - s.start
}

// Clamp bounds the selection to [0, max]. A range that collapses becomes
// NoSelection.
func (s Selection) Clamp(max int) Selection {
	if !s.set {
		return s
	}
	return RangeSelection(clamp(s.start, 0, max), clamp(s.end, 0, max))
}

func (s Selection) String() string {
	if !s.set {
		return "none"
	}
	return fmt.Sprintf("[%d,%d)", s.start, s.end)
}

// MarshalJSON encodes NoSelection as null and a range as {"start","end"}
func (s Selection) MarshalJSON() ([]byte, error) {
	if !s.set {
		return []byte("null"), nil
	}
	return json.Marshal(selectionJSON{Start: s.start, End: s.end})
}

// UnmarshalJSON decodes null or {"start","end"}
func (s *Selection) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = NoSelection()
		return nil
	}
	var raw selectionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid selection: %w", err)
	}
	*s = RangeSelection(raw.Start, raw.End)
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
