package commitment

import (
	"fmt"

	xerrors "github.com/DarbotLM/Detris/internal/errors"
	"github.com/DarbotLM/Detris/internal/grid"
)

// Serialize returns the 100-byte canonical form of g: one byte per cell,
// row-major, row 0 first.
func Serialize(g grid.Grid) []byte {
	out := make([]byte, 0, grid.Cells)
	for r := 0; r < grid.Rows; r++ {
		out = appendRow(out, g, r)
	}
	return out
}

func appendRow(dst []byte, g grid.Grid, row int) []byte {
	for _, s := range g[row] {
		dst = append(dst, byte(s))
	}
	return dst
}

// Deserialize is the inverse of Serialize. Wrong lengths and bytes outside
// the alphabet are rejected.
func Deserialize(b []byte) (grid.Grid, error) {
	var g grid.Grid
	if len(b) != grid.Cells {
		return grid.Grid{}, xerrors.New(xerrors.CodeMalformedInput, fmt.Sprintf("serialized grid must be %d bytes, got %d", grid.Cells, len(b)))
	}
	for i, v := range b {
		s := grid.Symbol(v)
		if !s.Valid() {
			return grid.Grid{}, xerrors.New(xerrors.CodeMalformedInput, fmt.Sprintf("byte %d: value %d outside alphabet", i, v))
		}
		g[i/grid.Cols][i%grid.Cols] = s
	}
	return g, nil
}

// Hash commits to the whole grid.
func Hash(g grid.Grid) Digest {
	return HashBytes(Serialize(g))
}

// HashRow commits to a single row. Row hashes are the Merkle leaves.
func HashRow(g grid.Grid, row int) Digest {
	return HashBytes(appendRow(make([]byte, 0, grid.Cols), g, row))
}
