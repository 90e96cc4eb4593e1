// Package learning implements Proof-of-Learning: an agent's repeated attempts
// at one challenge, each recorded as a placement chain, together with the
// scores they earned and the improvement across them, signed by the agent.
package learning

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/DarbotLM/Detris/internal/challenge"
	"github.com/DarbotLM/Detris/internal/commitment"
	"github.com/DarbotLM/Detris/internal/engine"
	xerrors "github.com/DarbotLM/Detris/internal/errors"
	"github.com/DarbotLM/Detris/internal/proofs"
	"github.com/DarbotLM/Detris/internal/proofs/placement"
	"github.com/DarbotLM/Detris/pkg/logger"
)

// CodeMoveBudgetExceeded marks a trajectory longer than the challenge allows.
const CodeMoveBudgetExceeded xerrors.Code = "MOVE_BUDGET_EXCEEDED"

// ErrMoveBudgetExceeded is returned by Generate when an agent plays more
// moves than the challenge's MaxMoves.
var ErrMoveBudgetExceeded = xerrors.New(CodeMoveBudgetExceeded, "move budget exceeded")

func init() {
	xerrors.Register(CodeMoveBudgetExceeded, xerrors.Attributes{
		Message:  "move budget exceeded",
		Severity: xerrors.SeverityInfo,
		Status:   http.StatusUnprocessableEntity,
	})
}

// Agent plays challenges. Its policy is opaque to this package: only the
// trajectory it returns is recorded.
type Agent interface {
	ID() string
	Play(ctx context.Context, ch challenge.Challenge, attempt int) ([]engine.Action, error)
}

// Learner is implemented by agents that want the score of each attempt
// before playing the next.
type Learner interface {
	Observe(attempt int, score float64)
}

// Proof is a Proof-of-Learning.
type Proof struct {
	Challenge   challenge.Challenge
	Attempts    [][]placement.Proof
	Scores      []float64
	Improvement Improvement
	AgentID     string
	Signature   placement.Signature
}

type signingPayload struct {
	Seed        uint64   `cramberry:"1"`
	Difficulty  uint64   `cramberry:"2"`
	Policy      string   `cramberry:"3"`
	AgentID     string   `cramberry:"4"`
	Scores      []uint64 `cramberry:"5"`
	Improvement []uint64 `cramberry:"6"`
}

// SigningDigest commits to the claim the agent signs: the challenge
// parameters, the agent, the scores and the improvement metrics.
func (p Proof) SigningDigest() (commitment.Digest, error) {
	scores := make([]uint64, len(p.Scores))
	for i, s := range p.Scores {
		scores[i] = math.Float64bits(s)
	}
	return proofs.PayloadDigest(signingPayload{
		Seed:        uint64(p.Challenge.Seed),
		Difficulty:  math.Float64bits(p.Challenge.Difficulty),
		Policy:      string(p.Challenge.Policy),
		AgentID:     p.AgentID,
		Scores:      scores,
		Improvement: p.Improvement.bits(),
	})
}

// Digest identifies the proof: the signed claim plus the commitment each
// attempt ends on.
func (p Proof) Digest() (commitment.Digest, error) {
	claim, err := p.SigningDigest()
	if err != nil {
		return commitment.Digest{}, err
	}
	parts := make([][]byte, 0, len(p.Attempts)+1)
	parts = append(parts, claim[:])
	for _, chain := range p.Attempts {
		tip := p.Challenge.InitialCommit()
		if len(chain) > 0 {
			tip = chain[len(chain)-1].NextCommit
		}
		parts = append(parts, tip.Bytes())
	}
	return commitment.HashBytes(parts...), nil
}

// Moves is the total number of frames across all attempts.
func (p Proof) Moves() int {
	n := 0
	for _, chain := range p.Attempts {
		n += len(chain)
	}
	return n
}

// Generate runs numAttempts attempts of ag at ch, records each as a signed
// placement chain and signs the resulting claim. Attempts run in order so a
// Learner observes every score before its next attempt.
func Generate(ctx context.Context, ag Agent, ch challenge.Challenge, numAttempts int, signer proofs.Signer) (Proof, error) {
	if numAttempts < 1 {
		return Proof{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("need at least one attempt, got %d", numAttempts))
	}
	if ag == nil || signer == nil {
		return Proof{}, xerrors.New(xerrors.CodeInitializationFailure, "agent and signer are required")
	}
	log := logger.Named("learning").With(slog.String("agent", ag.ID()), slog.Int64("seed", ch.Seed))

	pol := Proof{
		Challenge: ch,
		Attempts:  make([][]placement.Proof, 0, numAttempts),
		Scores:    make([]float64, 0, numAttempts),
		AgentID:   ag.ID(),
	}
	learner, _ := ag.(Learner)
	for i := 0; i < numAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return Proof{}, xerrors.Wrap(xerrors.CodeTimeout, err, "attempts interrupted")
		}
		actions, err := ag.Play(ctx, ch, i)
		if err != nil {
			return Proof{}, xerrors.Wrap(xerrors.CodeAgentFailure, err, fmt.Sprintf("attempt %d", i))
		}
		if len(actions) > ch.MaxMoves {
			return Proof{}, xerrors.New(CodeMoveBudgetExceeded,
				fmt.Sprintf("attempt %d played %d moves, budget is %d", i, len(actions), ch.MaxMoves),
				xerrors.WithMetadata("attempt", strconv.Itoa(i)))
		}
		chain, final, err := placement.BuildChain(ch.Initial, actions, signer)
		if err != nil {
			return Proof{}, fmt.Errorf("attempt %d: %w", i, err)
		}
		score, err := ch.Score(tallyChain(chain, final))
		if err != nil {
			return Proof{}, err
		}
		pol.Attempts = append(pol.Attempts, chain)
		pol.Scores = append(pol.Scores, score)
		log.Debug("attempt recorded", slog.Int("attempt", i), slog.Int("moves", len(chain)), slog.Float64("score", score))
		if learner != nil {
			learner.Observe(i, score)
		}
	}

	pol.Improvement = ComputeImprovement(pol.Scores)
	digest, err := pol.SigningDigest()
	if err != nil {
		return Proof{}, err
	}
	if pol.Signature, err = signer.Sign(digest); err != nil {
		return Proof{}, err
	}
	log.Info("proof of learning generated",
		slog.Int("attempts", numAttempts),
		slog.Float64("slope", pol.Improvement.Slope),
		slog.Float64("best", pol.Improvement.Best))
	return pol, nil
}

// tallyChain summarizes a verified chain for scoring.
func tallyChain(chain []placement.Proof, final engine.State) challenge.Tally {
	t := challenge.Tally{Final: final}
	for _, p := range chain {
		t.Record(p.Action == engine.HardDrop, len(p.Witness.Cleared))
	}
	return t
}
