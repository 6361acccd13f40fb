package presence

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/harun/collabedit/pkg/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRegistry_Join(t *testing.T) {
	t.Run("joins with defaults", func(t *testing.T) {
		r := NewRegistry()
		p, err := r.Join("  Alice ", identity.Palette[0])
		require.NoError(t, err)

		assert.NotEmpty(t, p.ID)
		assert.Equal(t, "Alice", p.DisplayName)
		assert.Equal(t, identity.Palette[0], p.Color)
		assert.Equal(t, 0, p.CursorOffset)
		assert.True(t, p.Selection.IsEmpty())
		assert.True(t, p.IsLocal)
		assert.True(t, p.Online)
		assert.False(t, p.LastUpdated.IsZero())
	})

	t.Run("rejects a taken name and accepts a different case", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.ApplyRemoteUpdate(Update{ParticipantID: "a", Name: "Alice", Timestamp: time.Now(), Online: true})
		require.NoError(t, err)

		_, err = r.Join("Alice", identity.Palette[1])
		require.ErrorIs(t, err, identity.ErrNameTaken)

		p, err := r.Join("alice", identity.Palette[1])
		require.NoError(t, err)
		assert.Equal(t, "alice", p.DisplayName)
	})

	t.Run("rejects short names", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.Join("A", identity.Palette[0])
		assert.ErrorIs(t, err, identity.ErrNameTooShort)
		_, ok := r.Local()
		assert.False(t, ok)
	})

	t.Run("unnamed participants do not block names", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.ApplyRemoteUpdate(Update{ParticipantID: "a", Name: "", Timestamp: time.Now()})
		require.NoError(t, err)
		assert.Empty(t, r.JoinedNames())
		assert.Empty(t, r.Visible())
		assert.Equal(t, 1, r.Len())
	})

	t.Run("local participant joins once", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.Join("Alice", identity.Palette[0])
		require.NoError(t, err)
		_, err = r.Join("Bob", identity.Palette[0])
		assert.ErrorIs(t, err, ErrAlreadyJoined)
	})
}

func TestRegistry_UpdateLocalCursor(t *testing.T) {
	r := NewRegistry()
	_, err := r.UpdateLocalCursor(1, NoSelection(), 5)
	require.ErrorIs(t, err, ErrNoLocalParticipant)

	joined, err := r.Join("Alice", identity.Palette[0])
	require.NoError(t, err)

	t.Run("clamps offset", func(t *testing.T) {
		p, err := r.UpdateLocalCursor(42, NoSelection(), 5)
		require.NoError(t, err)
		assert.Equal(t, 5, p.CursorOffset)

		p, err = r.UpdateLocalCursor(-3, NoSelection(), 5)
		require.NoError(t, err)
		assert.Equal(t, 0, p.CursorOffset)
	})

	t.Run("stores non-empty selection and clears empty", func(t *testing.T) {
		p, err := r.UpdateLocalCursor(2, RangeSelection(1, 3), 5)
		require.NoError(t, err)
		start, end, ok := p.Selection.Range()
		require.True(t, ok)
		assert.Equal(t, 1, start)
		assert.Equal(t, 3, end)

		p, err = r.UpdateLocalCursor(2, RangeSelection(2, 2), 5)
		require.NoError(t, err)
		assert.True(t, p.Selection.IsEmpty())
	})

	t.Run("clamps selection", func(t *testing.T) {
		p, err := r.UpdateLocalCursor(2, RangeSelection(3, 99), 5)
		require.NoError(t, err)
		_, end, ok := p.Selection.Range()
		require.True(t, ok)
		assert.Equal(t, 5, end)
	})

	t.Run("timestamps strictly increase on a frozen clock", func(t *testing.T) {
		frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		r.now = fixedClock(frozen)

		prev, _ := r.Local()
		for i := 0; i < 3; i++ {
			p, err := r.UpdateLocalCursor(i, NoSelection(), 5)
			require.NoError(t, err)
			assert.True(t, p.LastUpdated.After(prev.LastUpdated))
			prev = p
		}
		assert.Equal(t, joined.ID, prev.ID)
	})
}

func TestRegistry_ApplyRemoteUpdate(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("late join inserts", func(t *testing.T) {
		r := NewRegistry()
		p, err := r.ApplyRemoteUpdate(Update{ParticipantID: "b", Name: "Bob", Cursor: 4, Timestamp: base, Online: true})
		require.NoError(t, err)
		assert.Equal(t, "Bob", p.DisplayName)
		assert.False(t, p.IsLocal)

		got, ok := r.Get("b")
		require.True(t, ok)
		assert.Equal(t, 4, got.CursorOffset)
	})

	t.Run("stale update is dropped", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.ApplyRemoteUpdate(Update{ParticipantID: "b", Name: "Bob", Cursor: 4, Timestamp: base})
		require.NoError(t, err)

		_, err = r.ApplyRemoteUpdate(Update{ParticipantID: "b", Name: "Bob", Cursor: 1, Timestamp: base.Add(-time.Second)})
		require.ErrorIs(t, err, ErrStaleUpdate)

		got, _ := r.Get("b")
		assert.Equal(t, 4, got.CursorOffset)
	})

	t.Run("equal timestamp is accepted", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.ApplyRemoteUpdate(Update{ParticipantID: "b", Name: "Bob", Cursor: 4, Timestamp: base})
		require.NoError(t, err)
		_, err = r.ApplyRemoteUpdate(Update{ParticipantID: "b", Name: "Bob", Cursor: 4, Timestamp: base})
		assert.NoError(t, err)
	})

	t.Run("whole object replaced", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.ApplyRemoteUpdate(Update{ParticipantID: "b", Name: "Bob", Cursor: 4, Selection: RangeSelection(1, 4), Timestamp: base})
		require.NoError(t, err)
		_, err = r.ApplyRemoteUpdate(Update{ParticipantID: "b", Name: "Bob", Cursor: 2, Timestamp: base.Add(time.Second)})
		require.NoError(t, err)

		got, _ := r.Get("b")
		assert.True(t, got.Selection.IsEmpty())
		assert.Equal(t, 2, got.CursorOffset)
	})

	t.Run("left removes", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.ApplyRemoteUpdate(Update{ParticipantID: "b", Name: "Bob", Timestamp: base})
		require.NoError(t, err)
		_, err = r.ApplyRemoteUpdate(Update{ParticipantID: "b", Left: true, Timestamp: base.Add(time.Second)})
		require.NoError(t, err)
		_, ok := r.Get("b")
		assert.False(t, ok)
	})

	t.Run("missing id", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.ApplyRemoteUpdate(Update{Name: "Bob"})
		assert.Error(t, err)
	})
}

func TestRegistry_LeaveAndOrder(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		_, err := r.ApplyRemoteUpdate(Update{ParticipantID: id, Name: "user-" + id, Timestamp: now})
		require.NoError(t, err)
	}

	_, err := r.Leave("b")
	require.NoError(t, err)
	_, err = r.Leave("b")
	assert.ErrorIs(t, err, ErrUnknownParticipant)

	ids := []string{}
	for _, p := range r.Participants() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"a", "c"}, ids)

	p, err := r.SetOnline("a", false)
	require.NoError(t, err)
	assert.False(t, p.Online)
}

func TestSelection_JSON(t *testing.T) {
	data, err := json.Marshal(NoSelection())
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))

	data, err = json.Marshal(RangeSelection(5, 2))
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":2,"end":5}`, string(data))

	var sel Selection
	require.NoError(t, json.Unmarshal([]byte(`{"start":1,"end":3}`), &sel))
	assert.Equal(t, 2, sel.Len())

	require.NoError(t, json.Unmarshal([]byte(`null`), &sel))
	assert.True(t, sel.IsEmpty())
}
