// Package projection maps text offsets to screen coordinates for drawing
// remote cursors over a monospace text surface.
//
// The mapping assumes every rune is CharWidth pixels wide. Proportional fonts,
// tabs rendered wider than one cell and wide CJK glyphs will be misplaced.
package projection

import "unicode/utf8"

// Metrics describes the rendering font and the surface padding, in pixels
type Metrics struct {
	LineHeight  float64 `json:"lineHeight"`
	CharWidth   float64 `json:"charWidth"`
	TopPadding  float64 `json:"topPadding"`
	LeftPadding float64 `json:"leftPadding"`
}

// DefaultMetrics matches a 14px monospace textarea with relaxed leading
// (1.625) and 24px padding.
var DefaultMetrics = Metrics{
	LineHeight:  22.75,
	CharWidth:   8.4,
	TopPadding:  24,
	LeftPadding: 24,
}

// Position is a projected offset
type Position struct {
	Line   int     `json:"line"`
	Column int     `json:"column"`
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
}

// Project projects offset into content using DefaultMetrics
func Project(content string, offset int) Position {
	return DefaultMetrics.Project(content, offset)
}

// Project maps a rune offset to its line, column and pixel position. Offsets
// outside [0, len(content)] are clamped.
func (m Metrics) Project(content string, offset int) Position {
	if offset < 0 {
		offset = 0
	}

	line, column := 0, 0
	i := 0
	for _, r := range content {
		if i >= offset {
			break
		}
		if r == '\n' {
			line++
			column = 0
		} else {
			column++
		}
		i++
	}

	return Position{
		Line:   line,
		Column: column,
		Top:    float64(line)*m.LineHeight + m.TopPadding,
		Left:   float64(column)*m.CharWidth + m.LeftPadding,
	}
}

// Offset is the inverse of Project: it returns the rune offset of line and
// column in content. Lines past the end clamp to the last line and columns
// past the end of a line clamp to the line's end.
func Offset(content string, line, column int) int {
	if line < 0 {
		line = 0
	}
	if column < 0 {
		column = 0
	}

	offset := 0
	currentLine := 0
	currentColumn := 0
	for _, r := range content {
		if currentLine == line {
			if currentColumn == column || r == '\n' {
				return offset
			}
			currentColumn++
		} else if r == '\n' {
			currentLine++
		}
		offset++
	}
	return offset
}

// Length returns the rune length offsets are clamped against
func Length(content string) int {
	return utf8.RuneCountInString(content)
}
