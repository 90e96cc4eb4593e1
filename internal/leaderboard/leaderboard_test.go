package leaderboard

import (
	"context"
	stdErrors "errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DarbotLM/Detris/internal/challenge"
	"github.com/DarbotLM/Detris/internal/engine"
	"github.com/DarbotLM/Detris/internal/proofs"
	"github.com/DarbotLM/Detris/internal/proofs/learning"
	"github.com/DarbotLM/Detris/internal/storage/sqlstore"
)

type fixedAgent struct {
	id    string
	plays [][]engine.Action
}

func (a fixedAgent) ID() string { return a.id }

func (a fixedAgent) Play(_ context.Context, _ challenge.Challenge, attempt int) ([]engine.Action, error) {
	return a.plays[attempt], nil
}

func shuffleThenDrop(moves int) []engine.Action {
	out := make([]engine.Action, 0, moves)
	for i := 0; i < moves-1; i++ {
		if i%2 == 0 {
			out = append(out, engine.ShiftRight)
		} else {
			out = append(out, engine.ShiftLeft)
		}
	}
	return append(out, engine.HardDrop)
}

func proofFor(t *testing.T, id string, seed int64, signer proofs.Signer, lengths ...int) learning.Proof {
	t.Helper()
	ch, err := challenge.Generate(seed, 0)
	if err != nil {
		t.Fatalf("challenge.Generate: %v", err)
	}
	ag := fixedAgent{id: id}
	for _, n := range lengths {
		ag.plays = append(ag.plays, shuffleThenDrop(n))
	}
	pol, err := learning.Generate(context.Background(), ag, ch, len(lengths), signer)
	if err != nil {
		t.Fatalf("learning.Generate: %v", err)
	}
	return pol
}

func newSigner(t *testing.T) *proofs.KeySigner {
	t.Helper()
	s, err := proofs.GenerateKeySigner()
	if err != nil {
		t.Fatalf("GenerateKeySigner: %v", err)
	}
	return s
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	db, err := sqlstore.Open(context.Background(), sqlstore.Config{
		Driver: sqlstore.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "leaderboard.db"),
	})
	if err != nil {
		t.Fatalf("sqlstore.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": NewSQLStore(db),
	}
}

func tickingClock() func() time.Time {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var mu sync.Mutex
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func TestSubmitAndRank(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc := NewService(store, WithClock(tickingClock()))
			signer := newSigner(t)

			steep := proofFor(t, "steep", 1, signer, 21, 11, 3)
			gentle := proofFor(t, "gentle", 1, signer, 5, 4, 3)
			worse := proofFor(t, "worse", 2, signer, 3, 5)

			for _, pol := range []learning.Proof{gentle, worse, steep} {
				entry, err := svc.Submit(ctx, pol, signer.PublicKey())
				if err != nil {
					t.Fatalf("Submit(%s): %v", pol.AgentID, err)
				}
				if entry.ID == "" || entry.ProofDigest == "" || entry.SubmittedAt.IsZero() {
					t.Fatalf("entry missing identity: %+v", entry)
				}
			}

			ranked, err := svc.Rankings(ctx)
			if err != nil {
				t.Fatalf("Rankings: %v", err)
			}
			if len(ranked) != 3 {
				t.Fatalf("expected 3 entries, got %d", len(ranked))
			}
			order := []string{ranked[0].AgentID, ranked[1].AgentID, ranked[2].AgentID}
			if order[0] != "steep" || order[1] != "gentle" || order[2] != "worse" {
				t.Fatalf("unexpected order %v", order)
			}
			if ranked[0].Improvement.Slope != steep.Improvement.Slope || len(ranked[0].Scores) != 3 {
				t.Fatalf("entry does not carry the proof's metrics: %+v", ranked[0])
			}

			seeded, _ := svc.Rankings(ctx, WithSeed(2))
			if len(seeded) != 1 || seeded[0].AgentID != "worse" {
				t.Fatalf("seed filter returned %v", seeded)
			}
			limited, _ := svc.Rankings(ctx, WithLimit(1))
			if len(limited) != 1 || limited[0].AgentID != "steep" {
				t.Fatalf("limit returned %v", limited)
			}
			byAgent, _ := svc.Rankings(ctx, WithAgent("gentle"))
			if len(byAgent) != 1 {
				t.Fatalf("agent filter returned %v", byAgent)
			}

			if _, err := svc.Submit(ctx, steep, signer.PublicKey()); !stdErrors.Is(err, ErrDuplicateEntry) {
				t.Fatalf("expected duplicate entry, got %v", err)
			}
			if n, _ := svc.Count(ctx); n != 3 {
				t.Fatalf("count = %d", n)
			}
		})
	}
}

func TestSubmitRejectsInvalidProof(t *testing.T) {
	svc := NewService(NewMemoryStore())
	signer := newSigner(t)
	pol := proofFor(t, "cheat", 3, signer, 9, 5, 2)
	pol.Scores[0] -= 100

	_, err := svc.Submit(context.Background(), pol, signer.PublicKey())
	if !stdErrors.Is(err, ErrSubmissionRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	var rejected *RejectedError
	if !stdErrors.As(err, &rejected) || len(rejected.Failures) == 0 {
		t.Fatalf("rejection should itemize failures: %v", err)
	}
	found := false
	for _, f := range rejected.Failures {
		if f.Kind == learning.FailureScore && f.Attempt == 0 {
			found = true
		}
	}
	if !found {
		t.Fatalf("score mismatch on attempt 0 not reported: %v", rejected.Failures)
	}
	if n, _ := svc.Count(context.Background()); n != 0 {
		t.Fatalf("rejected proof was recorded")
	}
}

func TestReadersDoNotBlockOnWriter(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store)
	signer := newSigner(t)
	proofsToSubmit := make([]learning.Proof, 6)
	for i := range proofsToSubmit {
		proofsToSubmit[i] = proofFor(t, "agent", int64(100+i), signer, 4, 3)
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := 0
			for {
				select {
				case <-stop:
					return
				default:
				}
				ranked, err := svc.Rankings(ctx, WithLimit(maxLimit))
				if err != nil {
					t.Errorf("Rankings: %v", err)
					return
				}
				if len(ranked) < last {
					t.Errorf("snapshot shrank from %d to %d", last, len(ranked))
					return
				}
				last = len(ranked)
			}
		}()
	}

	var writers sync.WaitGroup
	for _, pol := range proofsToSubmit {
		writers.Add(1)
		go func() {
			defer writers.Done()
			if _, err := svc.Submit(ctx, pol, signer.PublicKey()); err != nil {
				t.Errorf("Submit: %v", err)
			}
		}()
	}
	writers.Wait()
	close(stop)
	wg.Wait()

	if n, _ := svc.Count(ctx); n != len(proofsToSubmit) {
		t.Fatalf("count = %d, want %d", n, len(proofsToSubmit))
	}
}

func TestQueryDefaults(t *testing.T) {
	opts := buildQueryOptions([]QueryOption{WithLimit(-3)})
	if opts.Limit != defaultLimit {
		t.Fatalf("limit = %d", opts.Limit)
	}
	opts = buildQueryOptions([]QueryOption{WithLimit(10_000)})
	if opts.Limit != maxLimit {
		t.Fatalf("limit should be capped, got %d", opts.Limit)
	}
}
