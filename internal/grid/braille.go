package grid

import (
	"strings"
	"unicode/utf8"
)

const brailleBase = 0x2800

// brailleOffset maps each symbol value to its offset from U+2800. Value 0
// (empty) renders as the blank braille pattern.
var brailleOffset = [alphabetSize]rune{0x00, 0x01, 0x03, 0x09, 0x0B, 0x19, 0x1B, 0x13, 0xFF, 0x3F, 0x24}

var brailleValue = func() map[rune]Symbol {
	m := make(map[rune]Symbol, alphabetSize)
	for v, off := range brailleOffset {
		m[brailleBase+off] = Symbol(v)
	}
	return m
}()

// Rune returns the canonical braille rendering of s.
func (s Symbol) Rune() rune {
	if !s.Valid() {
		return utf8.RuneError
	}
	return brailleBase + brailleOffset[s]
}

// SymbolOf decodes a canonical braille rune.
func SymbolOf(r rune) (Symbol, bool) {
	s, ok := brailleValue[r]
	return s, ok
}

// Format renders g as ten newline-separated lines of ten braille runes, row 0
// on the first line.
func Format(g Grid) string {
	var b strings.Builder
	b.Grow(Rows * (Cols*3 + 1))
	for r := 0; r < Rows; r++ {
		if r > 0 {
			b.WriteByte('\n')
		}
		for c := 0; c < Cols; c++ {
			b.WriteRune(g[r][c].Rune())
		}
	}
	return b.String()
}

// String implements fmt.Stringer using the braille wire form.
func (g Grid) String() string { return Format(g) }

// Parse decodes the wire form produced by Format. A single trailing newline
// is tolerated.
func Parse(text string) (Grid, error) {
	var g Grid
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if len(lines) != Rows {
		return Grid{}, malformed("expected %d lines, got %d", Rows, len(lines))
	}
	for r, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if n := utf8.RuneCountInString(line); n != Cols {
			return Grid{}, malformed("line %d: expected %d symbols, got %d", r, Cols, n)
		}
		c := 0
		for _, ch := range line {
			s, ok := SymbolOf(ch)
			if !ok {
				return Grid{}, malformed("line %d col %d: %q is not a grid symbol", r, c, ch)
			}
			g[r][c] = s
			c++
		}
	}
	return g, nil
}

// MarshalText implements encoding.TextMarshaler.
func (g Grid) MarshalText() ([]byte, error) { return []byte(Format(g)), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *Grid) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
