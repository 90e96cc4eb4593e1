package placement

import (
	"fmt"

	"github.com/DarbotLM/Detris/internal/commitment"
	"github.com/DarbotLM/Detris/internal/engine"
	xerrors "github.com/DarbotLM/Detris/internal/errors"
	"github.com/DarbotLM/Detris/internal/proofs"
)

// ErrInvalidProof matches every FrameError via errors.Is.
var ErrInvalidProof = xerrors.New(xerrors.CodeVerificationFailed, "placement proof rejected")

// Reason names the check a frame failed.
type Reason string

const (
	ReasonPrevCommit    Reason = "prev_commit_mismatch"
	ReasonChainLink     Reason = "chain_link_broken"
	ReasonIllegalAction Reason = "illegal_action"
	ReasonNextCommit    Reason = "next_commit_mismatch"
	ReasonWitness       Reason = "witness_mismatch"
	ReasonSignature     Reason = "signature_invalid"
)

// FrameError reports the first failing frame of a proof or chain.
type FrameError struct {
	Frame  int
	Reason Reason
	Detail string
}

func (e *FrameError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("frame %d: %s", e.Frame, e.Reason)
	}
	return fmt.Sprintf("frame %d: %s: %s", e.Frame, e.Reason, e.Detail)
}

// Unwrap ties every frame failure to ErrInvalidProof.
func (e *FrameError) Unwrap() error { return ErrInvalidProof }

// Verify reports whether p is a valid proof of a transition out of prev.
func Verify(p Proof, prev engine.State, publicKey []byte) bool {
	_, err := check(0, p, prev, publicKey)
	return err == nil
}

// VerifyChain reports whether every frame of chain verifies against the state
// recomputed from initial and consecutive frames link by commitment. An empty
// chain is valid.
func VerifyChain(chain []Proof, initial engine.State, publicKey []byte) bool {
	_, err := CheckChain(chain, initial, publicKey)
	return err == nil
}

// CheckChain verifies chain like VerifyChain and returns the recomputed final
// state. On failure the error is a *FrameError naming the first bad frame.
func CheckChain(chain []Proof, initial engine.State, publicKey []byte) (engine.State, error) {
	s := initial
	for i, p := range chain {
		if i > 0 && p.PrevCommit != chain[i-1].NextCommit {
			return s, &FrameError{Frame: i, Reason: ReasonChainLink}
		}
		next, err := check(i, p, s, publicKey)
		if err != nil {
			return s, err
		}
		s = next
	}
	return s, nil
}

func check(frame int, p Proof, prev engine.State, publicKey []byte) (engine.State, error) {
	if got := commitment.HashState(prev); got != p.PrevCommit {
		return prev, &FrameError{Frame: frame, Reason: ReasonPrevCommit,
			Detail: fmt.Sprintf("have %s, proof claims %s", got, p.PrevCommit)}
	}
	next, out, err := engine.Apply(prev, p.Action)
	if err != nil {
		return prev, &FrameError{Frame: frame, Reason: ReasonIllegalAction, Detail: err.Error()}
	}
	if got := commitment.HashState(next); got != p.NextCommit {
		return prev, &FrameError{Frame: frame, Reason: ReasonNextCommit,
			Detail: fmt.Sprintf("recomputed %s, proof claims %s", got, p.NextCommit)}
	}
	if want := witnessOf(out); !want.Equal(p.Witness) {
		return prev, &FrameError{Frame: frame, Reason: ReasonWitness,
			Detail: fmt.Sprintf("recomputed %+v, proof claims %+v", want, p.Witness)}
	}
	if len(p.Signature) > 0 || len(publicKey) > 0 {
		if reason := checkSignature(p, publicKey); reason != "" {
			return prev, &FrameError{Frame: frame, Reason: ReasonSignature, Detail: reason}
		}
	}
	return next, nil
}

// checkSignature verifies against publicKey when one is supplied; without a
// key the signature must at least recover to a public key.
func checkSignature(p Proof, publicKey []byte) string {
	digest, err := p.SigningDigest()
	if err != nil {
		return err.Error()
	}
	if len(p.Signature) == 0 {
		return "frame is unsigned but a public key was supplied"
	}
	if len(publicKey) == 0 {
		if _, err := proofs.RecoverPublicKey(digest, p.Signature); err != nil {
			return "signature does not recover to a public key"
		}
		return ""
	}
	if !proofs.VerifySignature(publicKey, digest, p.Signature) {
		return "signature does not match public key"
	}
	return ""
}
