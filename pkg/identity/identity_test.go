package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignColor(t *testing.T) {
	t.Run("deterministic for the same name", func(t *testing.T) {
		assert.Equal(t, AssignColor("Alice"), AssignColor("Alice"))
	})

	t.Run("sum of code points modulo palette size", func(t *testing.T) {
		// 'A' + 'b' = 65 + 98 = 163, 163 % 8 = 3
		assert.Equal(t, Palette[3], AssignColor("Ab"))
		assert.Equal(t, Palette[0], AssignColor(""))
	})

	t.Run("always a palette color", func(t *testing.T) {
		for _, name := range []string{"Alice", "bob", "Zoë", "日本語", "x"} {
			assert.True(t, IsPaletteColor(AssignColor(name)), name)
		}
	})
}

func TestRandomColor(t *testing.T) {
	for i := 0; i < 100; i++ {
		assert.True(t, IsPaletteColor(RandomColor()))
	}
}

func TestValidateName(t *testing.T) {
	existing := []string{"Alice", "", "Bob"}

	tests := []struct {
		name      string
		candidate string
		want      string
		wantErr   error
	}{
		{"valid", "Carol", "Carol", nil},
		{"trimmed", "  Carol  ", "Carol", nil},
		{"empty", "", "", ErrNameEmpty},
		{"whitespace only", "   ", "", ErrNameEmpty},
		{"too short", "C", "", ErrNameTooShort},
		{"too short after trim", " C ", "", ErrNameTooShort},
		{"taken", "Alice", "", ErrNameTaken},
		{"taken after trim", " Alice ", "", ErrNameTaken},
		{"case sensitive", "alice", "alice", nil},
		{"two runes", "Zö", "Zö", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateName(tt.candidate, existing)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.True(t, IsIdentityError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAssigner(t *testing.T) {
	t.Run("random mode keeps the initial color", func(t *testing.T) {
		a := NewAssigner(ColorModeRandom)
		initial := a.Initial()
		assert.Equal(t, initial, a.ForName("Alice", initial))
	})

	t.Run("name mode derives from the name", func(t *testing.T) {
		a := NewAssigner(ColorModeName)
		assert.Equal(t, AssignColor("Alice"), a.ForName("Alice", Palette[0]))
	})

	t.Run("parse", func(t *testing.T) {
		mode, err := ParseColorMode("")
		require.NoError(t, err)
		assert.Equal(t, ColorModeRandom, mode)

		mode, err = ParseColorMode("name")
		require.NoError(t, err)
		assert.Equal(t, ColorModeName, mode)

		_, err = ParseColorMode("rainbow")
		assert.Error(t, err)
	})
}
