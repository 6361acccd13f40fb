package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegister_Mutate(t *testing.T) {
	r := NewRegister("")
	assert.Equal(t, uint64(0), r.Revision())

	prev, rev := r.Mutate("abc")
	assert.Equal(t, "", prev)
	assert.Equal(t, uint64(1), rev)

	prev, rev = r.Mutate("abcd")
	assert.Equal(t, "abc", prev)
	assert.Equal(t, uint64(2), rev)
	assert.Equal(t, "abcd", r.Read())
}

func TestRegister_RevisionStrictlyIncreases(t *testing.T) {
	r := NewRegister("x")
	last := r.Revision()
	for _, content := range []string{"x", "x", "", "hello", "hello"} {
		_, rev := r.Mutate(content)
		assert.Greater(t, rev, last)
		last = rev
	}
}

func TestRegister_LenCountsRunes(t *testing.T) {
	r := NewRegister("héllo\n世界")
	assert.Equal(t, 8, r.Len())

	snap := r.Snapshot()
	assert.Equal(t, 8, snap.Length)
	assert.Equal(t, "héllo\n世界", snap.Content)
}
