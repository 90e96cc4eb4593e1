package commitment

import (
	"fmt"

	xerrors "github.com/DarbotLM/Detris/internal/errors"
	"github.com/DarbotLM/Detris/internal/grid"
)

// InclusionProof shows that a row hash is a leaf of a Merkle root.
type InclusionProof struct {
	Row  int      `json:"row"`
	Leaf Digest   `json:"leaf"`
	Path []Digest `json:"path"`
}

func leaves(g grid.Grid) []Digest {
	out := make([]Digest, grid.Rows)
	for r := range out {
		out[r] = HashRow(g, r)
	}
	return out
}

func combine(left, right Digest) Digest {
	return HashBytes(left[:], right[:])
}

// nextLevel pairs adjacent hashes. An odd trailing hash is paired with
// itself.
func nextLevel(level []Digest) []Digest {
	if len(level)%2 == 1 {
		level = append(level, level[len(level)-1])
	}
	out := make([]Digest, len(level)/2)
	for i := range out {
		out[i] = combine(level[2*i], level[2*i+1])
	}
	return out
}

// MerkleRoot folds the row hashes of g, row 0 leftmost, into a single root.
func MerkleRoot(g grid.Grid) Digest {
	level := leaves(g)
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return level[0]
}

// Prove builds an inclusion proof for row.
func Prove(g grid.Grid, row int) (InclusionProof, error) {
	if row < 0 || row >= grid.Rows {
		return InclusionProof{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("row %d outside grid", row))
	}
	level := leaves(g)
	proof := InclusionProof{Row: row, Leaf: level[row]}
	idx := row
	for len(level) > 1 {
		sibling := idx ^ 1
		if sibling >= len(level) {
			sibling = idx
		}
		proof.Path = append(proof.Path, level[sibling])
		level = nextLevel(level)
		idx /= 2
	}
	return proof, nil
}

// VerifyInclusion checks p against root.
func VerifyInclusion(root Digest, p InclusionProof) bool {
	if p.Row < 0 || p.Row >= grid.Rows || len(p.Path) != merkleDepth {
		return false
	}
	h, idx := p.Leaf, p.Row
	for _, sibling := range p.Path {
		if idx%2 == 0 {
			h = combine(h, sibling)
		} else {
			h = combine(sibling, h)
		}
		idx /= 2
	}
	return h == root
}

var merkleDepth = func() int {
	depth := 0
	for n := grid.Rows; n > 1; n = (n + 1) / 2 {
		depth++
	}
	return depth
}()
