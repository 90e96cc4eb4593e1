package storage

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"slices"
	"strings"
	"testing"

	"github.com/DarbotLM/Detris/internal/agent"
	"github.com/DarbotLM/Detris/internal/challenge"
	"github.com/DarbotLM/Detris/internal/engine"
	xerrors "github.com/DarbotLM/Detris/internal/errors"
	"github.com/DarbotLM/Detris/internal/grid"
	"github.com/DarbotLM/Detris/internal/proofs"
	"github.com/DarbotLM/Detris/internal/proofs/learning"
	"github.com/DarbotLM/Detris/internal/proofs/placement"
)

func samplePoL(t *testing.T) (learning.Proof, *proofs.KeySigner) {
	t.Helper()
	signer, err := proofs.GenerateKeySigner()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ch, err := challenge.Generate(11, 0.25, challenge.WithPolicy(challenge.PolicySurvival))
	if err != nil {
		t.Fatalf("generate challenge: %v", err)
	}
	ag := agent.NewScriptedAgent("scripted",
		[]engine.Action{engine.ShiftLeft, engine.HardDrop, engine.HardDrop},
		[]engine.Action{engine.SoftDrop, engine.ShiftRight, engine.ShiftRight, engine.HardDrop},
	)
	pol, err := learning.Generate(context.Background(), ag, ch, 2, signer)
	if err != nil {
		t.Fatalf("generate proof: %v", err)
	}
	return pol, signer
}

func TestGridWireRoundTrip(t *testing.T) {
	var g grid.Grid
	g[0][0] = grid.Garbage
	g[1][4] = grid.SymbolT
	g[9][9] = grid.Solid

	decoded, err := DecodeGrid(EncodeGrid(g))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != g {
		t.Fatalf("grid changed across the wire")
	}
	if _, err := DecodeGrid("not a grid"); xerrors.CodeOf(err) != xerrors.CodeMalformedInput {
		t.Fatalf("expected malformed input error, got %v", err)
	}
}

func TestChainRoundTrip(t *testing.T) {
	pol, _ := samplePoL(t)
	chain := pol.Attempts[1]

	data, err := EncodeChain(chain)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for _, field := range []string{`"prev_commit"`, `"next_commit"`, `"anchor_row"`, `"cleared_rows"`, `"action":"SoftDrop"`} {
		if !bytes.Contains(data, []byte(field)) {
			t.Fatalf("expected %s in wire form: %s", field, data)
		}
	}
	decoded, err := DecodeChain(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := placement.CheckChain(decoded, pol.Challenge.Initial, nil); err != nil {
		t.Fatalf("decoded chain no longer verifies: %v", err)
	}

	empty, err := EncodeChain(nil)
	if err != nil || string(empty) != "[]" {
		t.Fatalf("expected empty chain to encode as [], got %s (%v)", empty, err)
	}
}

func TestChainEncodingDetectsEveryBitFlip(t *testing.T) {
	pol, signer := samplePoL(t)
	chain := pol.Attempts[1]
	if len(chain) < 3 {
		t.Fatalf("need at least three frames, got %d", len(chain))
	}
	data, err := EncodeChain(chain)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	frame, err := json.Marshal(chain[1])
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	start := bytes.Index(data, frame)
	if start < 0 {
		t.Fatalf("frame 1 not found in encoding")
	}

	for i := start; i < start+len(frame); i++ {
		for bit := 0; bit < 8; bit++ {
			mutated := bytes.Clone(data)
			mutated[i] ^= 1 << bit
			decoded, err := DecodeChain(mutated)
			if err != nil {
				continue
			}
			if placement.VerifyChain(decoded, pol.Challenge.Initial, signer.PublicKey()) {
				t.Fatalf("flipping bit %d of byte %d (%q) still verifies", bit, i, data[i])
			}
		}
	}

	if _, err := DecodeChain(append(bytes.Clone(data), '\n')); err != nil {
		t.Fatalf("a single trailing newline is allowed: %v", err)
	}
	upper := bytes.Replace(data, []byte(`"prev_commit"`), []byte(`"Prev_commit"`), 1)
	if _, err := DecodeChain(upper); xerrors.CodeOf(err) != xerrors.CodeMalformedInput {
		t.Fatalf("non-canonical key should be rejected, got %v", err)
	}
}

func TestPoLRoundTrip(t *testing.T) {
	pol, signer := samplePoL(t)

	data, err := EncodePoL(pol)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Contains(data, []byte(`"scoring_policy":"survival-v1"`)) {
		t.Fatalf("expected policy in wire form: %s", data)
	}
	decoded, err := DecodePoL(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Challenge.Equal(pol.Challenge) {
		t.Fatalf("challenge changed across the wire")
	}
	if !slices.Equal(decoded.Scores, pol.Scores) || decoded.Improvement != pol.Improvement {
		t.Fatalf("claims changed across the wire")
	}
	if decoded.AgentID != pol.AgentID || !bytes.Equal(decoded.Signature, pol.Signature) {
		t.Fatalf("identity changed across the wire")
	}
	if res := learning.Verify(decoded, signer.PublicKey()); !res.Valid {
		t.Fatalf("decoded proof no longer verifies: %v", res.Failures)
	}
}

func TestDecodePoLRejectsInconsistentRecords(t *testing.T) {
	pol, _ := samplePoL(t)
	data, err := EncodePoL(pol)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	text := string(data)

	cases := map[string]string{
		"max_moves":  strings.Replace(text, `"max_moves":`, `"max_moves":1`, 1),
		"policy":     strings.Replace(text, `"survival-v1"`, `"unknown-v9"`, 1),
		"difficulty": strings.Replace(text, `"difficulty":0.25`, `"difficulty":3`, 1),
		"scores":     strings.Replace(text, `"scores":[`, `"scores":[1,`, 1),
		"syntax":     text[:len(text)/2],
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if body == text {
				t.Fatalf("mutation did not apply")
			}
			_, err := DecodePoL([]byte(body))
			if xerrors.CodeOf(err) != xerrors.CodeMalformedInput {
				t.Fatalf("expected malformed input, got %v", err)
			}
		})
	}
}

func artifactStores(t *testing.T) map[string]ArtifactStore {
	t.Helper()
	badgerStore, err := OpenBadgerStore(BadgerConfig{InMemory: true})
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	diskStore, err := OpenBadgerStore(BadgerConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("open badger on disk: %v", err)
	}
	stores := map[string]ArtifactStore{
		"memory":      NewMemoryStore(),
		"badger":      badgerStore,
		"badger-disk": diskStore,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestArtifactStores(t *testing.T) {
	pol, signer := samplePoL(t)
	ctx := context.Background()

	for name, store := range artifactStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := SavePoL(ctx, store, "sub-1", pol); err != nil {
				t.Fatalf("save pol: %v", err)
			}
			if err := SaveChain(ctx, store, "sub-1-0", pol.Attempts[0]); err != nil {
				t.Fatalf("save chain: %v", err)
			}
			if err := SaveGrid(ctx, store, "start", pol.Challenge.Initial.Board); err != nil {
				t.Fatalf("save grid: %v", err)
			}

			loaded, err := LoadPoL(ctx, store, "sub-1")
			if err != nil {
				t.Fatalf("load pol: %v", err)
			}
			if res := learning.Verify(loaded, signer.PublicKey()); !res.Valid {
				t.Fatalf("loaded proof does not verify: %v", res.Failures)
			}
			chain, err := LoadChain(ctx, store, "sub-1-0")
			if err != nil || len(chain) != len(pol.Attempts[0]) {
				t.Fatalf("load chain: %v (len %d)", err, len(chain))
			}
			board, err := LoadGrid(ctx, store, "start")
			if err != nil || board != pol.Challenge.Initial.Board {
				t.Fatalf("load grid: %v", err)
			}

			if err := SavePoL(ctx, store, "sub-2", pol); err != nil {
				t.Fatalf("save pol: %v", err)
			}
			ids, err := store.List(ctx, KindPoL)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if !slices.Equal(ids, []string{"sub-1", "sub-2"}) {
				t.Fatalf("unexpected ids %v", ids)
			}

			if err := store.Delete(ctx, KindPoL, "sub-1"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := store.Get(ctx, KindPoL, "sub-1"); !stdErrors.Is(err, ErrArtifactNotFound) {
				t.Fatalf("expected not found after delete, got %v", err)
			}
			if err := store.Put(ctx, KindPoL, "a/b", nil); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
				t.Fatalf("expected invalid id to be rejected, got %v", err)
			}
		})
	}
}

func TestMemoryStoreCopiesData(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	data := []byte("abc")
	if err := store.Put(ctx, KindGrid, "x", data); err != nil {
		t.Fatalf("put: %v", err)
	}
	data[0] = 'z'
	got, err := store.Get(ctx, KindGrid, "x")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "abc" {
		t.Fatalf("expected stored copy to be isolated, got %q", got)
	}
}
