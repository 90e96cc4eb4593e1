// Package placement implements Proof-of-Placement: a record that one engine
// state legally followed another under a declared action, and the chains
// those records form across a trajectory.
package placement

import (
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/DarbotLM/Detris/internal/commitment"
	"github.com/DarbotLM/Detris/internal/engine"
	xerrors "github.com/DarbotLM/Detris/internal/errors"
	"github.com/DarbotLM/Detris/internal/grid"
	"github.com/DarbotLM/Detris/internal/proofs"
)

// Witness describes the piece an action affected: the moved piece, or the
// locked placement for a HardDrop, plus the rows it cleared.
type Witness struct {
	Piece    grid.Variant `json:"piece"`
	Row      int          `json:"anchor_row"`
	Col      int          `json:"anchor_col"`
	Rotation int          `json:"rotation"`
	Cleared  []int        `json:"cleared_rows"`
}

// Equal compares witnesses field by field. A nil and an empty cleared list
// are equal.
func (w Witness) Equal(o Witness) bool {
	return w.Piece == o.Piece && w.Row == o.Row && w.Col == o.Col &&
		w.Rotation == o.Rotation && slices.Equal(w.Cleared, o.Cleared)
}

func witnessOf(out engine.Outcome) Witness {
	cleared := out.Cleared
	if cleared == nil {
		cleared = []int{}
	}
	return Witness{
		Piece:    out.Piece.Variant,
		Row:      out.Piece.Row,
		Col:      out.Piece.Col,
		Rotation: out.Piece.Rotation.Degrees(),
		Cleared:  cleared,
	}
}

// Signature is a secp256k1 signature rendered as lowercase hex.
type Signature []byte

// MarshalText implements encoding.TextMarshaler.
func (s Signature) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(s)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Signature) UnmarshalText(text []byte) error {
	if !commitment.IsLowerHex(string(text)) {
		return xerrors.New(xerrors.CodeMalformedInput, "signature must be lowercase hex")
	}
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeMalformedInput, err, "decode signature")
	}
	*s = raw
	return nil
}

// Proof is a single Proof-of-Placement.
type Proof struct {
	PrevCommit commitment.Digest `json:"prev_commit"`
	Action     engine.Action     `json:"action"`
	NextCommit commitment.Digest `json:"next_commit"`
	Witness    Witness           `json:"witness"`
	Signature  Signature         `json:"signature,omitempty"`
}

type signingPayload struct {
	Prev   []byte `cramberry:"1"`
	Action uint64 `cramberry:"2"`
	Next   []byte `cramberry:"3"`
}

// SigningDigest is the digest a signer signs: the commitment to
// (prev_commit, action, next_commit).
func (p Proof) SigningDigest() (commitment.Digest, error) {
	return proofs.PayloadDigest(signingPayload{
		Prev:   p.PrevCommit.Bytes(),
		Action: uint64(p.Action),
		Next:   p.NextCommit.Bytes(),
	})
}

// Generate applies action to prev and records the transition. An illegal
// action is returned as engine.ErrIllegalMove and no proof is produced.
func Generate(prev engine.State, action engine.Action, signer proofs.Signer) (Proof, engine.State, error) {
	next, out, err := engine.Apply(prev, action)
	if err != nil {
		return Proof{}, prev, err
	}
	p := Proof{
		PrevCommit: commitment.HashState(prev),
		Action:     action,
		NextCommit: commitment.HashState(next),
		Witness:    witnessOf(out),
	}
	if signer != nil {
		digest, err := p.SigningDigest()
		if err != nil {
			return Proof{}, prev, err
		}
		sig, err := signer.Sign(digest)
		if err != nil {
			return Proof{}, prev, err
		}
		p.Signature = sig
	}
	return p, next, nil
}

// BuildChain turns a trajectory into a chain of proofs. It stops at the first
// illegal action and returns the chain built so far with the error.
func BuildChain(initial engine.State, actions []engine.Action, signer proofs.Signer) ([]Proof, engine.State, error) {
	chain := make([]Proof, 0, len(actions))
	s := initial
	for i, a := range actions {
		p, next, err := Generate(s, a, signer)
		if err != nil {
			return chain, s, fmt.Errorf("frame %d: %w", i, err)
		}
		chain = append(chain, p)
		s = next
	}
	return chain, s, nil
}
