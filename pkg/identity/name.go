package identity

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MinNameLength is the minimum trimmed length of a display name, in runes
const MinNameLength = 2

// The messages are shown verbatim by the identity prompt.
var (
	// ErrNameEmpty is returned for a blank name
	ErrNameEmpty = errors.New("Username is required")
	// ErrNameTooShort is returned when the trimmed name is under MinNameLength
	ErrNameTooShort = errors.New("Username must be at least 2 characters")
	// ErrNameTaken is returned when another joined participant holds the name
	ErrNameTaken = errors.New("Username already taken, please choose another")
)

// IsIdentityError reports whether err is one of the name validation errors
func IsIdentityError(err error) bool {
	return errors.Is(err, ErrNameEmpty) || errors.Is(err, ErrNameTooShort) || errors.Is(err, ErrNameTaken)
}

// ValidateName checks candidate against the names already in use and returns
// the trimmed name. Empty entries in existing belong to participants that have
// not joined yet and are ignored.
func ValidateName(candidate string, existing []string) (string, error) {
	name := strings.TrimSpace(candidate)
	if name == "" {
		return "", ErrNameEmpty
	}
	if utf8.RuneCountInString(name) < MinNameLength {
		return "", ErrNameTooShort
	}
	for _, other := range existing {
		if other == "" {
			continue
		}
		if other == name {
			return "", ErrNameTaken
		}
	}
	return name, nil
}
