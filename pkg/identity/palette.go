package identity

import (
	"fmt"
	"math/rand/v2"
)

// Color is a CSS hex color taken from Palette
type Color string

// Palette holds the colors handed out to participants
var Palette = [8]Color{
	"#ef4444",
	"#f97316",
	"#eab308",
	"#22c55e",
	"#06b6d4",
	"#3b82f6",
	"#8b5cf6",
	"#ec4899",
}

// ColorMode selects how colors are assigned
type ColorMode string

const (
	// ColorModeRandom draws a color at first join, before a name exists
	ColorModeRandom ColorMode = "random"
	// ColorModeName derives the color from the display name
	ColorModeName ColorMode = "name"
)

// ParseColorMode parses a configured color mode
func ParseColorMode(s string) (ColorMode, error) {
	switch ColorMode(s) {
	case "", ColorModeRandom:
		return ColorModeRandom, nil
	case ColorModeName:
		return ColorModeName, nil
	default:
		return "", fmt.Errorf("invalid color mode %q (must be: random, name)", s)
	}
}

// AssignColor maps a display name onto the palette by summing its code points
func AssignColor(displayName string) Color {
	sum := 0
	for _, r := range displayName {
		sum += int(r)
	}
	return Palette[sum%len(Palette)]
}

// RandomColor draws uniformly from the palette
func RandomColor() Color {
	return Palette[rand.IntN(len(Palette))]
}

// IsPaletteColor reports whether c is one of the palette entries
func IsPaletteColor(c Color) bool {
	for _, p := range Palette {
		if p == c {
			return true
		}
	}
	return false
}

// Assigner applies a ColorMode
type Assigner struct {
	mode ColorMode
}

// NewAssigner creates an assigner for the given mode
func NewAssigner(mode ColorMode) *Assigner {
	if mode == "" {
		mode = ColorModeRandom
	}
	return &Assigner{mode: mode}
}

// Mode returns the assigner's color mode
func (a *Assigner) Mode() ColorMode {
	return a.mode
}

// Initial returns the color held before a name is chosen. In name mode there
// is no name yet, so it falls back to a random draw like random mode does.
func (a *Assigner) Initial() Color {
	return RandomColor()
}

// ForName returns the color to use once displayName is known
func (a *Assigner) ForName(displayName string, initial Color) Color {
	if a.mode == ColorModeName {
		return AssignColor(displayName)
	}
	if initial == "" {
		return RandomColor()
	}
	return initial
}
