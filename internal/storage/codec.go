package storage

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/DarbotLM/Detris/internal/challenge"
	xerrors "github.com/DarbotLM/Detris/internal/errors"
	"github.com/DarbotLM/Detris/internal/grid"
	"github.com/DarbotLM/Detris/internal/proofs/learning"
	"github.com/DarbotLM/Detris/internal/proofs/placement"
)

// EncodeGrid renders g in wire text form.
func EncodeGrid(g grid.Grid) string {
	return grid.Format(g)
}

// DecodeGrid parses the wire text form of a grid.
func DecodeGrid(text string) (grid.Grid, error) {
	return grid.Parse(text)
}

// EncodeChain marshals a placement chain as a JSON array of proofs.
func EncodeChain(chain []placement.Proof) ([]byte, error) {
	if chain == nil {
		chain = []placement.Proof{}
	}
	data, err := json.Marshal(chain)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMalformedInput, err, "encode placement chain")
	}
	return data, nil
}

// DecodeChain parses a JSON array of placement proofs. The input must be the
// exact bytes EncodeChain produces, optionally followed by one newline, so
// any change to an encoded frame is rejected here or by chain verification.
func DecodeChain(data []byte) ([]placement.Proof, error) {
	var chain []placement.Proof
	if err := json.Unmarshal(data, &chain); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMalformedInput, err, "decode placement chain")
	}
	if err := requireCanonical(data, func() ([]byte, error) { return EncodeChain(chain) }); err != nil {
		return nil, err
	}
	return chain, nil
}

// requireCanonical 比较输入与重新编码的结果。encoding/json 对键名大小写不敏感，
// 也会忽略未知字段，逐字节比较能拒绝这些变体。
func requireCanonical(data []byte, encode func() ([]byte, error)) error {
	want, err := encode()
	if err != nil {
		return err
	}
	if !bytes.Equal(bytes.TrimSuffix(data, []byte("\n")), want) {
		return xerrors.New(xerrors.CodeMalformedInput, "input is not in canonical encoding")
	}
	return nil
}

type wireChallenge struct {
	Seed       int64              `json:"seed"`
	Difficulty float64            `json:"difficulty"`
	MaxMoves   int                `json:"max_moves"`
	Policy     challenge.PolicyID `json:"scoring_policy"`
}

type wireProof struct {
	Challenge   wireChallenge        `json:"challenge"`
	Attempts    [][]placement.Proof  `json:"attempts"`
	Scores      []float64            `json:"scores"`
	Improvement learning.Improvement `json:"improvement"`
	AgentID     string               `json:"agent_id"`
	Signature   placement.Signature  `json:"signature,omitempty"`
}

// EncodePoL marshals a Proof-of-Learning. Only the challenge parameters are
// written; the board and constraints are derived again on decode.
func EncodePoL(pol learning.Proof) ([]byte, error) {
	w := wireProof{
		Challenge: wireChallenge{
			Seed:       pol.Challenge.Seed,
			Difficulty: pol.Challenge.Difficulty,
			MaxMoves:   pol.Challenge.MaxMoves,
			Policy:     pol.Challenge.Policy,
		},
		Attempts:    pol.Attempts,
		Scores:      pol.Scores,
		Improvement: pol.Improvement,
		AgentID:     pol.AgentID,
		Signature:   pol.Signature,
	}
	if w.Attempts == nil {
		w.Attempts = [][]placement.Proof{}
	}
	if w.Scores == nil {
		w.Scores = []float64{}
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMalformedInput, err, "encode proof of learning")
	}
	return data, nil
}

// DecodePoL parses a Proof-of-Learning and regenerates its challenge. A
// max_moves value that disagrees with the regenerated challenge is rejected,
// as is any input that is not byte-identical to EncodePoL's output.
func DecodePoL(data []byte) (learning.Proof, error) {
	var w wireProof
	if err := json.Unmarshal(data, &w); err != nil {
		return learning.Proof{}, xerrors.Wrap(xerrors.CodeMalformedInput, err, "decode proof of learning")
	}
	ch, err := challenge.Generate(w.Challenge.Seed, w.Challenge.Difficulty, challenge.WithPolicy(w.Challenge.Policy))
	if err != nil {
		return learning.Proof{}, xerrors.Wrap(xerrors.CodeMalformedInput, err, "regenerate challenge")
	}
	if ch.MaxMoves != w.Challenge.MaxMoves {
		return learning.Proof{}, xerrors.New(xerrors.CodeMalformedInput,
			fmt.Sprintf("max_moves %d does not match challenge (%d)", w.Challenge.MaxMoves, ch.MaxMoves),
			xerrors.WithMetadata("field", "challenge.max_moves"))
	}
	if len(w.Scores) != len(w.Attempts) {
		return learning.Proof{}, xerrors.New(xerrors.CodeMalformedInput,
			fmt.Sprintf("%d scores for %d attempts", len(w.Scores), len(w.Attempts)),
			xerrors.WithMetadata("field", "scores"))
	}
	pol := learning.Proof{
		Challenge:   ch,
		Attempts:    w.Attempts,
		Scores:      w.Scores,
		Improvement: w.Improvement,
		AgentID:     w.AgentID,
		Signature:   w.Signature,
	}
	if err := requireCanonical(data, func() ([]byte, error) { return EncodePoL(pol) }); err != nil {
		return learning.Proof{}, err
	}
	return pol, nil
}
