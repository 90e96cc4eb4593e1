package engine

import "github.com/DarbotLM/Detris/internal/grid"

// Outcome describes what an accepted action did.
type Outcome struct {
	// Piece is the active piece after a move, or the locked placement for a
	// HardDrop.
	Piece ActivePiece
	// Cleared lists removed rows in ascending order. Only HardDrop clears.
	Cleared []int
	// Locked is set when the piece was fixed to the board.
	Locked bool
	// GameOver is set when the following spawn collided.
	GameOver bool
}

// Apply runs action a against s.
func Apply(s State, a Action) (State, Outcome, error) {
	if !a.Valid() {
		return s, Outcome{}, illegal(a, ReasonUnknownAction)
	}
	if s.Over {
		return s, Outcome{}, illegal(a, ReasonGameOver)
	}
	if err := s.Validate(); err != nil {
		return s, Outcome{}, illegal(a, ReasonMalformedState)
	}

	switch a {
	case ShiftLeft:
		return move(s, a, s.Active.shifted(0, -1))
	case ShiftRight:
		return move(s, a, s.Active.shifted(0, 1))
	case SoftDrop:
		return move(s, a, s.Active.shifted(-1, 0))
	case RotateCW:
		p := s.Active
		p.Rotation = p.Rotation.CW()
		return move(s, a, p)
	case RotateCCW:
		p := s.Active
		p.Rotation = p.Rotation.CCW()
		return move(s, a, p)
	default:
		next, out := hardDrop(s)
		return next, out, nil
	}
}

func move(s State, a Action, p ActivePiece) (State, Outcome, error) {
	if reason := fits(s.Board, p); reason != "" {
		return s, Outcome{}, illegal(a, reason)
	}
	s.Active = p
	return s, Outcome{Piece: p}, nil
}

func landing(s State) ActivePiece {
	p := s.Active
	for fits(s.Board, p.shifted(-1, 0)) == "" {
		p = p.shifted(-1, 0)
	}
	return p
}

func lock(board grid.Grid, p ActivePiece) grid.Grid {
	for _, c := range p.Cells() {
		board[c.Row][c.Col] = p.Variant.Symbol()
	}
	return board
}

func hardDrop(s State) (State, Outcome) {
	p := landing(s)
	board, cleared := lock(s.Board, p).ClearFull()
	next := spawn(board, s.Seed, s.Spawned)
	return next, Outcome{Piece: p, Cleared: cleared, Locked: true, GameOver: next.Over}
}

// Run applies actions in order and stops at the first rejection, returning
// the last accepted state together with the error.
func Run(initial State, actions []Action) (State, []Outcome, error) {
	s := initial
	outcomes := make([]Outcome, 0, len(actions))
	for _, a := range actions {
		next, out, err := Apply(s, a)
		if err != nil {
			return s, outcomes, err
		}
		s = next
		outcomes = append(outcomes, out)
	}
	return s, outcomes, nil
}

// Legal returns the actions Apply would accept from s.
func Legal(s State) []Action {
	var out []Action
	for _, a := range Actions {
		if _, _, err := Apply(s, a); err == nil {
			out = append(out, a)
		}
	}
	return out
}
