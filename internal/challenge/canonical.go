package challenge

import (
	"math"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/DarbotLM/Detris/internal/commitment"
	xerrors "github.com/DarbotLM/Detris/internal/errors"
)

type canonicalConstraint struct {
	Kind  string `cramberry:"1"`
	Value uint64 `cramberry:"2"`
}

type canonicalChallenge struct {
	Seed        uint64                `cramberry:"1"`
	Difficulty  uint64                `cramberry:"2"`
	Initial     []byte                `cramberry:"3"`
	Constraints []canonicalConstraint `cramberry:"4"`
	MaxMoves    uint64                `cramberry:"5"`
	Policy      string                `cramberry:"6"`
}

// CanonicalBytes is the deterministic encoding of the whole challenge.
func (c Challenge) CanonicalBytes() ([]byte, error) {
	enc := canonicalChallenge{
		Seed:        uint64(c.Seed),
		Difficulty:  math.Float64bits(c.Difficulty),
		Initial:     commitment.SerializeState(c.Initial),
		Constraints: make([]canonicalConstraint, len(c.Constraints)),
		MaxMoves:    uint64(c.MaxMoves),
		Policy:      string(c.Policy),
	}
	for i, con := range c.Constraints {
		enc.Constraints[i] = canonicalConstraint{Kind: string(con.Kind), Value: uint64(con.Value)}
	}
	raw, err := cramberry.Marshal(enc)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "encode challenge")
	}
	return raw, nil
}

// Digest commits to the canonical bytes.
func (c Challenge) Digest() (commitment.Digest, error) {
	raw, err := c.CanonicalBytes()
	if err != nil {
		return commitment.Digest{}, err
	}
	return commitment.HashBytes(raw), nil
}
