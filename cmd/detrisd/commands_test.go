package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	xerrors "github.com/DarbotLM/Detris/internal/errors"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("DETRIS_CONFIG", "")
	t.Setenv("DETRIS_RUNTIME_DATA_DIR", t.TempDir())
	root := newRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestKeygenCommand(t *testing.T) {
	out, _, err := execute(t, "keygen")
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	var keys map[string]string
	if err := json.Unmarshal([]byte(out), &keys); err != nil {
		t.Fatalf("decode keygen output: %v", err)
	}
	if len(keys["private_key"]) != 64 || len(keys["public_key"]) != 130 || !strings.HasPrefix(keys["address"], "0x") {
		t.Fatalf("unexpected key material: %+v", keys)
	}
}

func TestChallengeCommandDeterministic(t *testing.T) {
	first, _, err := execute(t, "challenge", "17", "--difficulty", "0.3")
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	second, _, err := execute(t, "challenge", "17", "--difficulty", "0.3")
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	if first != second {
		t.Fatalf("challenge output differs between runs")
	}
	if _, _, err := execute(t, "challenge", "seventeen"); err == nil {
		t.Fatalf("expected error for non-numeric seed")
	}
}

func TestPlayThenVerify(t *testing.T) {
	keys, _, err := execute(t, "keygen")
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	var material map[string]string
	if err := json.Unmarshal([]byte(keys), &material); err != nil {
		t.Fatalf("decode keys: %v", err)
	}
	t.Setenv("DETRIS_ENGINE_SIGNER_KEY", material["private_key"])

	proofPath := filepath.Join(t.TempDir(), "proof.json")
	_, summary, err := execute(t, "play", "--seed", "3", "--attempts", "3", "--out", proofPath)
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if !strings.Contains(summary, "public_key="+material["public_key"]) {
		t.Fatalf("play summary missing signer key: %s", summary)
	}

	out, _, err := execute(t, "verify", proofPath, "--public-key", material["public_key"])
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !strings.Contains(out, `"valid": true`) {
		t.Fatalf("expected valid proof, got %s", out)
	}

	other, _, err := execute(t, "keygen")
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	var wrong map[string]string
	if err := json.Unmarshal([]byte(other), &wrong); err != nil {
		t.Fatalf("decode keys: %v", err)
	}
	out, _, err = execute(t, "verify", proofPath, "--public-key", wrong["public_key"], "--sample-rate", "0.5", "--sample-seed", "9")
	if err == nil {
		t.Fatalf("expected verification failure with the wrong key")
	}
	if !strings.Contains(out, `"sample_seed": 9`) {
		t.Fatalf("sampled verification must report its seed, got %s", out)
	}

	_, _, err = execute(t, "verify", proofPath, "--public-key", material["public_key"], "--sample-rate", "0.5")
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("sampling without a seed should be rejected, got %v", err)
	}
}
