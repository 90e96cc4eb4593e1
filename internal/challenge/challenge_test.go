package challenge

import (
	"bytes"
	stdErrors "errors"
	"math"
	"testing"

	"github.com/DarbotLM/Detris/internal/engine"
	xerrors "github.com/DarbotLM/Detris/internal/errors"
	"github.com/DarbotLM/Detris/internal/grid"
)

func TestGenerateIsDeterministic(t *testing.T) {
	for _, seed := range []int64{0, 1, 42, -9, math.MaxInt64} {
		for _, d := range []float64{0, 0.25, 0.5, 0.9, 1} {
			a, err := Generate(seed, d)
			if err != nil {
				t.Fatalf("Generate(%d, %v): %v", seed, d, err)
			}
			b, _ := Generate(seed, d)
			if !a.Equal(b) {
				t.Fatalf("seed %d difficulty %v: challenges differ", seed, d)
			}
			ra, err := a.CanonicalBytes()
			if err != nil {
				t.Fatalf("CanonicalBytes: %v", err)
			}
			rb, _ := b.CanonicalBytes()
			if !bytes.Equal(ra, rb) {
				t.Fatalf("seed %d difficulty %v: canonical bytes differ", seed, d)
			}
		}
	}
}

func TestGenerateVariesWithSeed(t *testing.T) {
	a, _ := Generate(1, 0.75)
	b, _ := Generate(2, 0.75)
	if a.Initial.Board == b.Initial.Board {
		t.Fatalf("different seeds produced the same garbage")
	}
	da, _ := a.Digest()
	db, _ := b.Digest()
	if da == db {
		t.Fatalf("different challenges share a digest")
	}
}

func TestGenerateRejectsBadDifficulty(t *testing.T) {
	for _, d := range []float64{-0.01, 1.01, math.NaN(), math.Inf(1)} {
		_, err := Generate(1, d)
		if !stdErrors.Is(err, xerrors.New(xerrors.CodeInvalidArgument, "")) {
			t.Fatalf("difficulty %v: expected invalid argument, got %v", d, err)
		}
	}
	if _, err := Generate(1, 0.5, WithPolicy("golf-v1")); xerrors.CodeOf(err) != CodeInvalidChallenge {
		t.Fatalf("expected invalid challenge for unknown policy, got %v", err)
	}
}

func TestDifficultyShapesChallenge(t *testing.T) {
	easy, _ := Generate(7, 0)
	if easy.Initial.Board.Occupancy() != 0 {
		t.Fatalf("difficulty 0 should start empty")
	}
	if easy.MaxMoves != 300 {
		t.Fatalf("difficulty 0 max moves = %d", easy.MaxMoves)
	}
	hard, _ := Generate(7, 1)
	if hard.MaxMoves != 150 {
		t.Fatalf("difficulty 1 max moves = %d", hard.MaxMoves)
	}
	for r := 0; r < 4; r++ {
		if hard.Initial.Board.RowEmpty(r) {
			t.Fatalf("row %d should hold garbage", r)
		}
		if hard.Initial.Board.RowFull(r) {
			t.Fatalf("row %d must keep a hole", r)
		}
	}
	for r := 4; r < grid.Rows; r++ {
		if !hard.Initial.Board.RowEmpty(r) {
			t.Fatalf("row %d above the garbage should be empty", r)
		}
	}
	if hard.Initial.Over || hard.Initial.Active.Variant != engine.PieceAt(7, 0) {
		t.Fatalf("initial state should hold the first piece of the sequence")
	}
	want := []Constraint{{ConstraintMinLines, 8}, {ConstraintMaxHeight, 5}, {ConstraintSurvive, 0}}
	for i, c := range hard.Constraints {
		if c != want[i] {
			t.Fatalf("constraint %d = %v, want %v", i, c, want[i])
		}
	}
}

func TestRegenerateMatches(t *testing.T) {
	c, _ := Generate(99, 0.4, WithPolicy(PolicySurvival))
	again, err := c.Regenerate()
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if !again.Equal(c) || again.Policy != PolicySurvival {
		t.Fatalf("regenerated challenge differs")
	}
	if c.InitialCommit() != again.InitialCommit() {
		t.Fatalf("initial commitments differ")
	}
}

func TestScoring(t *testing.T) {
	c, _ := Generate(3, 0)
	var tally Tally
	for i := 0; i < 10; i++ {
		tally.Record(false, 0)
	}
	tally.Record(true, 1)
	tally.Record(true, 2)
	tally.Record(true, 6)
	tally.Final = c.Initial

	if tally.Moves != 13 || tally.Locks != 3 || tally.LinesCleared != 9 {
		t.Fatalf("unexpected tally %+v", tally)
	}
	if tally.ClearsBySize[4] != 1 {
		t.Fatalf("large clears should count at the capped size")
	}
	if unmet := c.Unmet(tally); len(unmet) != 0 {
		t.Fatalf("constraints should hold: %v", unmet)
	}
	score, err := c.Score(tally)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if want := 100.0 + 300 + 800 - 13 + 1000; score != want {
		t.Fatalf("score = %v, want %v", score, want)
	}

	tally.Final.Over = true
	score, _ = c.Score(tally)
	if want := 100.0 + 300 + 800 - 13; score != want {
		t.Fatalf("score without bonus = %v, want %v", score, want)
	}
	if unmet := c.Unmet(tally); len(unmet) != 1 || unmet[0].Kind != ConstraintSurvive {
		t.Fatalf("expected only survive to fail: %v", unmet)
	}
}

func TestPolicies(t *testing.T) {
	ids := Policies()
	if len(ids) != 2 || ids[0] != PolicyLines || ids[1] != PolicySurvival {
		t.Fatalf("unexpected policy set %v", ids)
	}
	p, err := LookupPolicy(PolicySurvival)
	if err != nil {
		t.Fatalf("LookupPolicy: %v", err)
	}
	if p.Score(Tally{Moves: 50}, false) != 0 {
		t.Fatalf("survival policy should not charge for moves")
	}
}
