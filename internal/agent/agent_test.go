package agent

import (
	"context"
	"slices"
	"testing"

	"github.com/DarbotLM/Detris/internal/challenge"
	"github.com/DarbotLM/Detris/internal/engine"
	"github.com/DarbotLM/Detris/internal/proofs"
	"github.com/DarbotLM/Detris/internal/proofs/learning"
)

func mustChallenge(t *testing.T, seed int64, difficulty float64) challenge.Challenge {
	t.Helper()
	ch, err := challenge.Generate(seed, difficulty)
	if err != nil {
		t.Fatalf("generate challenge: %v", err)
	}
	return ch
}

func TestGreedyAgentPlaysLegalTrajectory(t *testing.T) {
	ch := mustChallenge(t, 1, 0)
	ag := NewGreedyAgent("greedy", WithExploration(0))

	actions, err := ag.Play(context.Background(), ch, 0)
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if len(actions) == 0 || len(actions) > ch.MaxMoves {
		t.Fatalf("unexpected trajectory length %d (budget %d)", len(actions), ch.MaxMoves)
	}
	_, outcomes, err := engine.Run(ch.Initial, actions)
	if err != nil {
		t.Fatalf("trajectory is not legal: %v", err)
	}
	cleared := 0
	for _, out := range outcomes {
		cleared += len(out.Cleared)
	}
	if cleared == 0 {
		t.Fatalf("expected the greedy agent to clear at least one line")
	}
	if actions[len(actions)-1] != engine.HardDrop {
		t.Fatalf("expected trajectory to end with a hard drop, got %s", actions[len(actions)-1])
	}
}

func TestGreedyAgentIsDeterministic(t *testing.T) {
	ch := mustChallenge(t, 9, 0.4)
	first, err := NewGreedyAgent("a").Play(context.Background(), ch, 2)
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	second, err := NewGreedyAgent("a").Play(context.Background(), ch, 2)
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if !slices.Equal(first, second) {
		t.Fatalf("expected identical trajectories for the same agent, challenge and attempt")
	}
}

func TestGreedyAgentObserveDecaysExploration(t *testing.T) {
	ag := NewGreedyAgent("a", WithExploration(2), WithDecay(0.25))
	ag.Observe(0, 10)
	ag.Observe(1, 12)
	if got := ag.Exploration(); got != 0.125 {
		t.Fatalf("expected exploration 0.125, got %v", got)
	}
	if got := ag.Observed(); !slices.Equal(got, []float64{10, 12}) {
		t.Fatalf("unexpected observed scores %v", got)
	}
}

func TestGreedyAgentHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewGreedyAgent("a").Play(ctx, mustChallenge(t, 1, 0), 0); err == nil {
		t.Fatalf("expected cancelled context to abort play")
	}
}

func TestGreedyAgentProducesVerifiableProof(t *testing.T) {
	signer, err := proofs.GenerateKeySigner()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ch := mustChallenge(t, 5, 0.3)
	ag := NewGreedyAgent("greedy")

	pol, err := learning.Generate(context.Background(), ag, ch, 3, signer)
	if err != nil {
		t.Fatalf("generate proof: %v", err)
	}
	if len(ag.Observed()) != 3 {
		t.Fatalf("expected the agent to observe every attempt, got %d", len(ag.Observed()))
	}
	res := learning.Verify(pol, signer.PublicKey())
	if !res.Valid {
		t.Fatalf("expected proof to verify, failures: %v", res.Failures)
	}
}

func TestScriptedAgentReusesLastScript(t *testing.T) {
	first := []engine.Action{engine.ShiftLeft, engine.HardDrop}
	last := []engine.Action{engine.HardDrop}
	ag := NewScriptedAgent("s", first, last)

	for attempt, want := range [][]engine.Action{first, last, last} {
		got, err := ag.Play(context.Background(), challenge.Challenge{}, attempt)
		if err != nil {
			t.Fatalf("play: %v", err)
		}
		if !slices.Equal(got, want) {
			t.Fatalf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}

	got, _ := ag.Play(context.Background(), challenge.Challenge{}, 0)
	got[0] = engine.RotateCW
	again, _ := ag.Play(context.Background(), challenge.Challenge{}, 0)
	if again[0] != engine.ShiftLeft {
		t.Fatalf("expected scripts to be isolated from caller mutation")
	}
}
