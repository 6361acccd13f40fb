package activity

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerive(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("insert", func(t *testing.T) {
		evt := Derive("abc", "abcd", "alice", 3, at)
		assert.Equal(t, KindInsert, evt.Kind)
		assert.Equal(t, 3, evt.Position)
		assert.Equal(t, "d", evt.Text)
		assert.Equal(t, "alice", evt.ParticipantID)
		assert.Equal(t, at, evt.Timestamp)
		assert.NotEmpty(t, evt.ID)
	})

	t.Run("delete", func(t *testing.T) {
		evt := Derive("abcd", "ab", "alice", 4, at)
		assert.Equal(t, KindDelete, evt.Kind)
		assert.Equal(t, "cd", evt.Text)
	})

	t.Run("equal length is a delete of nothing", func(t *testing.T) {
		evt := Derive("abc", "xyz", "alice", 1, at)
		assert.Equal(t, KindDelete, evt.Kind)
		assert.Equal(t, "", evt.Text)
	})

	t.Run("multibyte suffix", func(t *testing.T) {
		evt := Derive("hé", "héllo世", "alice", 2, at)
		assert.Equal(t, "llo世", evt.Text)
	})

	t.Run("unique ids", func(t *testing.T) {
		a := Derive("", "a", "p", 0, at)
		b := Derive("", "a", "p", 0, at)
		assert.NotEqual(t, a.ID, b.ID)
	})
}

func TestLog_Eviction(t *testing.T) {
	log := NewLog(0)
	require.Equal(t, DefaultCapacity, log.Capacity())

	for i := 0; i < 51; i++ {
		log.Append(EditEvent{ID: fmt.Sprintf("e%d", i)})
		assert.LessOrEqual(t, log.Len(), DefaultCapacity)
	}

	assert.Equal(t, 50, log.Len())
	all := log.Recent(0)
	require.Len(t, all, 50)
	assert.Equal(t, "e50", all[0].ID)
	assert.Equal(t, "e1", all[49].ID)
}

func TestLog_Recent(t *testing.T) {
	log := NewLog(5)
	for i := 0; i < 3; i++ {
		log.Append(EditEvent{ID: fmt.Sprintf("e%d", i)})
	}

	recent := log.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "e2", recent[0].ID)
	assert.Equal(t, "e1", recent[1].ID)

	assert.Len(t, log.Recent(10), 3)

	evicted := 0
	for i := 3; i < 8; i++ {
		evicted += log.Append(EditEvent{ID: fmt.Sprintf("e%d", i)})
	}
	assert.Equal(t, 3, evicted)
	assert.Equal(t, "e3", log.Recent(0)[4].ID)
}
