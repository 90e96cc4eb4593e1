package challenge

import (
	"fmt"
	"sort"

	xerrors "github.com/DarbotLM/Detris/internal/errors"
)

// PolicyID names a scoring policy. The set of policies is closed.
type PolicyID string

const (
	// PolicyLines rewards line clears, charges for every move and pays a bonus
	// when all constraints hold.
	PolicyLines PolicyID = "lines-v1"
	// PolicySurvival favours multi-line clears and does not charge for moves.
	PolicySurvival PolicyID = "survival-v1"

	// DefaultPolicy is used when no policy is requested.
	DefaultPolicy = PolicyLines
)

// MaxClearReward is the largest clear size with its own reward. Larger
// clears are paid at this size.
const MaxClearReward = 4

// Policy turns a tally into a score.
type Policy struct {
	ID PolicyID
	// Rewards[n] is paid for a single lock that clears n rows.
	Rewards       [MaxClearReward + 1]float64
	MoveCost      float64
	TerminalBonus float64
}

var policies = map[PolicyID]Policy{
	PolicyLines: {
		ID:            PolicyLines,
		Rewards:       [MaxClearReward + 1]float64{0, 100, 300, 500, 800},
		MoveCost:      1,
		TerminalBonus: 1000,
	},
	PolicySurvival: {
		ID:            PolicySurvival,
		Rewards:       [MaxClearReward + 1]float64{0, 40, 100, 300, 1200},
		MoveCost:      0,
		TerminalBonus: 500,
	},
}

// LookupPolicy returns the policy registered under id.
func LookupPolicy(id PolicyID) (Policy, error) {
	p, ok := policies[id]
	if !ok {
		return Policy{}, xerrors.New(CodeInvalidChallenge, fmt.Sprintf("unknown scoring policy %q", id),
			xerrors.WithMetadata("policy", string(id)))
	}
	return p, nil
}

// Policies lists the registered policy identifiers in sorted order.
func Policies() []PolicyID {
	out := make([]PolicyID, 0, len(policies))
	for id := range policies {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Score applies the policy to a tally. bonus reports whether every
// constraint held.
func (p Policy) Score(t Tally, bonus bool) float64 {
	score := -p.MoveCost * float64(t.Moves)
	for n, count := range t.ClearsBySize {
		score += float64(count) * p.Rewards[n]
	}
	if bonus {
		score += p.TerminalBonus
	}
	return score
}
