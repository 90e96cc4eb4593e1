// Package challenge generates reproducible puzzles from a seed and a
// difficulty, and scores attempts at them.
package challenge

import (
	"fmt"
	"math"
	"net/http"
	"slices"
	"strconv"

	"github.com/DarbotLM/Detris/internal/commitment"
	"github.com/DarbotLM/Detris/internal/engine"
	xerrors "github.com/DarbotLM/Detris/internal/errors"
	"github.com/DarbotLM/Detris/internal/grid"
	"github.com/DarbotLM/Detris/internal/prng"
)

// CodeInvalidChallenge marks challenge parameters that cannot be used.
const CodeInvalidChallenge xerrors.Code = "INVALID_CHALLENGE"

func init() {
	xerrors.Register(CodeInvalidChallenge, xerrors.Attributes{
		Message:  "invalid challenge",
		Severity: xerrors.SeverityInfo,
		Status:   http.StatusBadRequest,
	})
}

const (
	challengeDomain = "detris/challenge"

	maxGarbageRows = 4
	minMoves       = 150
	moveRange      = 150
)

// ConstraintKind names a success criterion.
type ConstraintKind string

const (
	// ConstraintMinLines requires at least Value rows cleared.
	ConstraintMinLines ConstraintKind = "min_lines"
	// ConstraintMaxHeight requires the final stack to be at most Value rows.
	ConstraintMaxHeight ConstraintKind = "max_height"
	// ConstraintSurvive requires the attempt to end without a game over.
	ConstraintSurvive ConstraintKind = "survive"
)

// Constraint is one success criterion of a challenge.
type Constraint struct {
	Kind  ConstraintKind `json:"kind"`
	Value int            `json:"value,omitempty"`
}

// Met reports whether t satisfies the constraint.
func (c Constraint) Met(t Tally) bool {
	switch c.Kind {
	case ConstraintMinLines:
		return t.LinesCleared >= c.Value
	case ConstraintMaxHeight:
		return t.Final.Board.Height() <= c.Value
	case ConstraintSurvive:
		return !t.Final.Over
	default:
		return false
	}
}

func (c Constraint) String() string {
	if c.Kind == ConstraintSurvive {
		return string(c.Kind)
	}
	return string(c.Kind) + "=" + strconv.Itoa(c.Value)
}

// Challenge is a reproducible puzzle. Everything in it is a pure function of
// Seed, Difficulty and Policy.
type Challenge struct {
	Seed        int64
	Difficulty  float64
	Initial     engine.State
	Constraints []Constraint
	MaxMoves    int
	Policy      PolicyID
}

type options struct {
	policy PolicyID
}

// Option tunes Generate.
type Option func(*options)

// WithPolicy selects the scoring policy recorded in the challenge.
func WithPolicy(id PolicyID) Option {
	return func(o *options) {
		if id != "" {
			o.policy = id
		}
	}
}

// Generate derives the challenge for seed and difficulty. Difficulty must lie
// in [0, 1].
func Generate(seed int64, difficulty float64, opts ...Option) (Challenge, error) {
	o := options{policy: DefaultPolicy}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if math.IsNaN(difficulty) || difficulty < 0 || difficulty > 1 {
		return Challenge{}, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("difficulty must lie in [0, 1], got %v", difficulty),
			xerrors.WithMetadata("difficulty", strconv.FormatFloat(difficulty, 'g', -1, 64)))
	}
	if _, err := LookupPolicy(o.policy); err != nil {
		return Challenge{}, err
	}

	initial, err := engine.NewState(garbageBoard(seed, difficulty), seed)
	if err != nil {
		return Challenge{}, err
	}
	return Challenge{
		Seed:       seed,
		Difficulty: difficulty,
		Initial:    initial,
		Constraints: []Constraint{
			{Kind: ConstraintMinLines, Value: 2 + int(math.Floor(6*difficulty))},
			{Kind: ConstraintMaxHeight, Value: 8 - int(math.Floor(3*difficulty))},
			{Kind: ConstraintSurvive},
		},
		MaxMoves: minMoves + moveRange - int(math.Round(moveRange*difficulty)),
		Policy:   o.policy,
	}, nil
}

// garbageBoard fills the bottom rows with garbage. Every garbage row keeps at
// least one hole so no row starts full.
func garbageBoard(seed int64, difficulty float64) grid.Grid {
	var board grid.Grid
	stream := prng.New(seed, challengeDomain)
	rows := int(math.Round(maxGarbageRows * difficulty))
	density := 0.3 + 0.5*difficulty
	for r := 0; r < rows; r++ {
		for c := 0; c < grid.Cols; c++ {
			if stream.Float64() < density {
				board[r][c] = grid.Garbage
			}
		}
		board[r][stream.IntN(grid.Cols)] = grid.Empty
	}
	return board
}

// Unmet returns the constraints t does not satisfy.
func (c Challenge) Unmet(t Tally) []Constraint {
	var out []Constraint
	for _, con := range c.Constraints {
		if !con.Met(t) {
			out = append(out, con)
		}
	}
	return out
}

// Score applies the challenge's policy to t.
func (c Challenge) Score(t Tally) (float64, error) {
	p, err := LookupPolicy(c.Policy)
	if err != nil {
		return 0, err
	}
	return p.Score(t, len(c.Unmet(t)) == 0), nil
}

// Equal reports whether two challenges are identical.
func (c Challenge) Equal(o Challenge) bool {
	return c.Seed == o.Seed &&
		math.Float64bits(c.Difficulty) == math.Float64bits(o.Difficulty) &&
		c.Initial == o.Initial &&
		slices.Equal(c.Constraints, o.Constraints) &&
		c.MaxMoves == o.MaxMoves &&
		c.Policy == o.Policy
}

// Regenerate derives the challenge again from its own parameters.
func (c Challenge) Regenerate() (Challenge, error) {
	return Generate(c.Seed, c.Difficulty, WithPolicy(c.Policy))
}

// InitialCommit is the commitment to the starting state. Attempt chains open
// with it.
func (c Challenge) InitialCommit() commitment.Digest {
	return commitment.HashState(c.Initial)
}
