// Package grid models the fixed 10x10 playfield: its cell alphabet, the
// canonical braille rendering and the seven piece shapes.
package grid

import (
	"fmt"

	xerrors "github.com/DarbotLM/Detris/internal/errors"
)

const (
	// Rows is the number of rows in a grid. Row 0 is the bottom row.
	Rows = 10
	// Cols is the number of columns in a grid. Column 0 is the left edge.
	Cols = 10
	// Cells is the total number of cells, and the length of a serialized grid.
	Cells = Rows * Cols
)

// Symbol is a cell value from the closed 11-member alphabet.
type Symbol uint8

const (
	Empty Symbol = iota
	SymbolI
	SymbolO
	SymbolT
	SymbolS
	SymbolZ
	SymbolJ
	SymbolL
	Garbage
	Solid
	Marker

	alphabetSize = int(Marker) + 1
)

// Valid reports whether s is a member of the alphabet.
func (s Symbol) Valid() bool { return int(s) < alphabetSize }

// Occupied reports whether s fills its cell.
func (s Symbol) Occupied() bool { return s != Empty }

// Grid is a complete playfield. It is a value type: assigning or passing a
// Grid copies all of its cells.
type Grid [Rows][Cols]Symbol

// FromCells builds a grid from a row-major cell matrix, row 0 first. Wrong
// dimensions or out-of-alphabet values are rejected.
func FromCells(cells [][]int) (Grid, error) {
	var g Grid
	if len(cells) != Rows {
		return Grid{}, malformed("expected %d rows, got %d", Rows, len(cells))
	}
	for r, row := range cells {
		if len(row) != Cols {
			return Grid{}, malformed("row %d: expected %d cells, got %d", r, Cols, len(row))
		}
		for c, v := range row {
			if v < 0 || v >= alphabetSize {
				return Grid{}, malformed("cell (%d,%d): value %d outside alphabet", r, c, v)
			}
			g[r][c] = Symbol(v)
		}
	}
	return g, nil
}

// Cells returns the grid as a freshly allocated cell matrix, row 0 first.
func (g Grid) Cells() [][]int {
	out := make([][]int, Rows)
	for r := range g {
		out[r] = make([]int, Cols)
		for c, s := range g[r] {
			out[r][c] = int(s)
		}
	}
	return out
}

// InBounds reports whether (row, col) addresses a cell.
func InBounds(row, col int) bool {
	return row >= 0 && row < Rows && col >= 0 && col < Cols
}

// At returns the symbol at (row, col). Out-of-bounds reads return Solid so
// that callers probing for collisions treat the outside as filled.
func (g Grid) At(row, col int) Symbol {
	if !InBounds(row, col) {
		return Solid
	}
	return g[row][col]
}

// With returns a copy of g with (row, col) set to s.
func (g Grid) With(row, col int, s Symbol) Grid {
	g[row][col] = s
	return g
}

// RowFull reports whether every cell in row is occupied.
func (g Grid) RowFull(row int) bool {
	for _, s := range g[row] {
		if !s.Occupied() {
			return false
		}
	}
	return true
}

// RowEmpty reports whether no cell in row is occupied.
func (g Grid) RowEmpty(row int) bool {
	for _, s := range g[row] {
		if s.Occupied() {
			return false
		}
	}
	return true
}

// Height is one more than the highest occupied row, or 0 for an empty grid.
func (g Grid) Height() int {
	for r := Rows - 1; r >= 0; r-- {
		if !g.RowEmpty(r) {
			return r + 1
		}
	}
	return 0
}

// Holes counts empty cells that have an occupied cell somewhere above them in
// the same column.
func (g Grid) Holes() int {
	holes := 0
	for c := 0; c < Cols; c++ {
		covered := false
		for r := Rows - 1; r >= 0; r-- {
			if g[r][c].Occupied() {
				covered = true
			} else if covered {
				holes++
			}
		}
	}
	return holes
}

// Occupancy returns the number of occupied cells.
func (g Grid) Occupancy() int {
	n := 0
	for r := range g {
		for _, s := range g[r] {
			if s.Occupied() {
				n++
			}
		}
	}
	return n
}

// Validate checks that every cell holds an alphabet symbol. Grids built with
// FromCells, Parse or Deserialize are always valid; Validate guards grids
// assembled by hand.
func (g Grid) Validate() error {
	for r := range g {
		for c, s := range g[r] {
			if !s.Valid() {
				return malformed("cell (%d,%d): value %d outside alphabet", r, c, s)
			}
		}
	}
	return nil
}

// ClearFull removes every full row. Rows above a removed row shift down and
// the top is backfilled with empty rows. The removed indices are returned in
// ascending order, relative to the grid before clearing.
func (g Grid) ClearFull() (Grid, []int) {
	var (
		out     Grid
		cleared []int
		dst     int
	)
	for r := 0; r < Rows; r++ {
		if g.RowFull(r) {
			cleared = append(cleared, r)
			continue
		}
		out[dst] = g[r]
		dst++
	}
	return out, cleared
}

func malformed(format string, args ...any) error {
	return xerrors.New(xerrors.CodeMalformedInput, fmt.Sprintf(format, args...))
}
