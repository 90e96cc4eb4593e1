package engine

import (
	"github.com/DarbotLM/Detris/internal/grid"
	"github.com/DarbotLM/Detris/internal/prng"
)

const bagDomain = "detris/bag"

// PieceAt returns the piece at position index of seed's sequence. The
// sequence is a series of seven-piece bags, each a permutation of every
// variant.
func PieceAt(seed int64, index uint32) grid.Variant {
	bag := index / grid.NumVariants
	perm := prng.New(seed, bagDomain, uint64(bag)).Perm(grid.NumVariants)
	return grid.Variant(perm[index%grid.NumVariants])
}

// Preview returns the next n pieces after the active one.
func (s State) Preview(n int) []grid.Variant {
	out := make([]grid.Variant, n)
	for i := range out {
		out[i] = PieceAt(s.Seed, s.Spawned+uint32(i))
	}
	return out
}
