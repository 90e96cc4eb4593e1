package placement

import (
	"encoding/json"
	stdErrors "errors"
	"testing"

	"github.com/DarbotLM/Detris/internal/commitment"
	"github.com/DarbotLM/Detris/internal/engine"
	"github.com/DarbotLM/Detris/internal/grid"
	"github.com/DarbotLM/Detris/internal/proofs"
)

var trajectory = []engine.Action{
	engine.ShiftLeft, engine.ShiftRight, engine.SoftDrop, engine.SoftDrop, engine.RotateCW,
	engine.ShiftRight, engine.HardDrop, engine.SoftDrop, engine.ShiftLeft, engine.HardDrop,
}

func initialState(t *testing.T) engine.State {
	t.Helper()
	s, err := engine.NewState(grid.Grid{}, 20240601)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	return s
}

func signedChain(t *testing.T) ([]Proof, engine.State, *proofs.KeySigner) {
	t.Helper()
	signer, err := proofs.GenerateKeySigner()
	if err != nil {
		t.Fatalf("GenerateKeySigner: %v", err)
	}
	start := initialState(t)
	chain, _, err := BuildChain(start, trajectory, signer)
	if err != nil {
		t.Fatalf("BuildChain: %v", err)
	}
	return chain, start, signer
}

func TestGenerateAndVerify(t *testing.T) {
	start := initialState(t)
	p, next, err := Generate(start, engine.HardDrop, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if p.PrevCommit != commitment.HashState(start) || p.NextCommit != commitment.HashState(next) {
		t.Fatalf("commitments do not match the states")
	}
	if p.Witness.Row != 0 || p.Witness.Piece != start.Active.Variant || len(p.Witness.Cleared) != 0 {
		t.Fatalf("unexpected witness %+v", p.Witness)
	}
	if len(p.Signature) != 0 {
		t.Fatalf("unsigned proof carries a signature")
	}
	if !Verify(p, start, nil) {
		t.Fatalf("proof did not verify")
	}
	if Verify(p, next, nil) {
		t.Fatalf("proof verified against the wrong previous state")
	}
}

func TestGenerateRejectsIllegalAction(t *testing.T) {
	start := initialState(t)
	for i := 0; i < engine.SpawnCol; i++ {
		start, _, _ = engine.Apply(start, engine.ShiftLeft)
	}
	_, after, err := Generate(start, engine.ShiftLeft, nil)
	if !stdErrors.Is(err, engine.ErrIllegalMove) {
		t.Fatalf("expected illegal move, got %v", err)
	}
	if after != start {
		t.Fatalf("failed generation must return the input state")
	}
}

func TestChainVerifies(t *testing.T) {
	chain, start, signer := signedChain(t)
	if len(chain) != len(trajectory) {
		t.Fatalf("chain length = %d", len(chain))
	}
	for i := 1; i < len(chain); i++ {
		if chain[i].PrevCommit != chain[i-1].NextCommit {
			t.Fatalf("frame %d does not link to frame %d", i, i-1)
		}
	}
	if !VerifyChain(chain, start, signer.PublicKey()) {
		t.Fatalf("signed chain did not verify")
	}
	if !VerifyChain(chain, start, nil) {
		t.Fatalf("signed chain should verify by key recovery when no key is supplied")
	}
	if !VerifyChain(nil, start, nil) {
		t.Fatalf("empty chain is valid")
	}
	other, _ := proofs.GenerateKeySigner()
	if VerifyChain(chain, start, other.PublicKey()) {
		t.Fatalf("chain verified under the wrong key")
	}
	unsigned, _, _ := BuildChain(start, trajectory, nil)
	if VerifyChain(unsigned, start, signer.PublicKey()) {
		t.Fatalf("unsigned chain must not verify when a key is supplied")
	}
}

func TestChainIsTamperEvident(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(chain []Proof)
		frame  int
		reason Reason
	}{
		{"action", func(c []Proof) { c[5].Action = engine.ShiftLeft }, 5, ReasonNextCommit},
		{"next commit", func(c []Proof) { c[4].NextCommit[0] ^= 0xff }, 4, ReasonNextCommit},
		{"prev commit", func(c []Proof) { c[5].PrevCommit[31] ^= 0x01 }, 5, ReasonChainLink},
		{"witness", func(c []Proof) { c[6].Witness.Col++ }, 6, ReasonWitness},
		{"cleared rows", func(c []Proof) { c[9].Witness.Cleared = []int{0} }, 9, ReasonWitness},
		{"signature", func(c []Proof) { c[2].Signature[10] ^= 0x01 }, 2, ReasonSignature},
		{"dropped frame", nil, 3, ReasonChainLink},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chain, start, signer := signedChain(t)
			if tc.mutate != nil {
				tc.mutate(chain)
			} else {
				chain = append(chain[:3], chain[4:]...)
			}
			if VerifyChain(chain, start, signer.PublicKey()) {
				t.Fatalf("tampered chain verified")
			}
			_, err := CheckChain(chain, start, signer.PublicKey())
			var frameErr *FrameError
			if !stdErrors.As(err, &frameErr) {
				t.Fatalf("expected *FrameError, got %v", err)
			}
			if frameErr.Frame != tc.frame || frameErr.Reason != tc.reason {
				t.Fatalf("got frame %d reason %s, want frame %d reason %s", frameErr.Frame, frameErr.Reason, tc.frame, tc.reason)
			}
			if !stdErrors.Is(err, ErrInvalidProof) {
				t.Fatalf("frame errors should match ErrInvalidProof")
			}
		})
	}
}

func TestVerifyIsIdempotent(t *testing.T) {
	chain, start, signer := signedChain(t)
	for i := 0; i < 3; i++ {
		if !VerifyChain(chain, start, signer.PublicKey()) {
			t.Fatalf("verification %d disagreed", i)
		}
	}
}

func TestProofJSON(t *testing.T) {
	chain, start, signer := signedChain(t)
	raw, err := json.Marshal(chain)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields []map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal into maps: %v", err)
	}
	witness := fields[6]["witness"].(map[string]any)
	if fields[6]["action"] != "HardDrop" || witness["piece"] == nil || witness["cleared_rows"] == nil {
		t.Fatalf("unexpected wire form: %v", fields[6])
	}
	var back []Proof
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !VerifyChain(back, start, signer.PublicKey()) {
		t.Fatalf("decoded chain did not verify")
	}

	unsigned, _, _ := BuildChain(start, trajectory[:2], nil)
	raw, _ = json.Marshal(unsigned[0])
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	if _, ok := m["signature"]; ok {
		t.Fatalf("absent signature should be omitted")
	}
}
