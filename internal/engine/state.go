package engine

import (
	"fmt"

	xerrors "github.com/DarbotLM/Detris/internal/errors"
	"github.com/DarbotLM/Detris/internal/grid"
)

const (
	// SpawnRow is the anchor row of every freshly spawned piece.
	SpawnRow = 8
	// SpawnCol is the anchor column of every freshly spawned piece.
	SpawnCol = 3
)

// ActivePiece is the falling piece. Its anchor is the bottom-left corner of
// the normalized shape.
type ActivePiece struct {
	Variant  grid.Variant
	Rotation grid.Rotation
	Row      int
	Col      int
}

// Cells returns the absolute (row, col) positions the piece covers.
func (p ActivePiece) Cells() [4]grid.Offset {
	cells := grid.Offsets(p.Variant, p.Rotation)
	for i := range cells {
		cells[i].Row += p.Row
		cells[i].Col += p.Col
	}
	return cells
}

func (p ActivePiece) shifted(dr, dc int) ActivePiece {
	p.Row += dr
	p.Col += dc
	return p
}

// State is the full input to the transition function: the locked board, the
// falling piece and the position in the seeded piece sequence.
type State struct {
	Board  grid.Grid
	Active ActivePiece
	Seed   int64
	// Spawned counts sequence positions consumed, including the active piece.
	Spawned uint32
	// Over is set once a spawn collides. Active is zero when Over is set.
	Over bool
}

// NewState places the first piece of seed's sequence on board.
func NewState(board grid.Grid, seed int64) (State, error) {
	if err := board.Validate(); err != nil {
		return State{}, err
	}
	return spawn(board, seed, 0), nil
}

func spawn(board grid.Grid, seed int64, index uint32) State {
	next := State{Board: board, Seed: seed, Spawned: index + 1}
	piece := ActivePiece{Variant: PieceAt(seed, index), Row: SpawnRow, Col: SpawnCol}
	if fits(board, piece) != "" {
		next.Over = true
		return next
	}
	next.Active = piece
	return next
}

// Validate rejects states that no sequence of legal actions could produce
// structurally: bad symbols, an unknown piece, or an active piece that leaves
// the grid or overlaps locked cells.
func (s State) Validate() error {
	if err := s.Board.Validate(); err != nil {
		return err
	}
	if s.Over {
		if s.Active != (ActivePiece{}) {
			return xerrors.New(xerrors.CodeMalformedInput, "terminal state carries an active piece")
		}
		return nil
	}
	if s.Spawned == 0 {
		return xerrors.New(xerrors.CodeMalformedInput, "live state has not spawned a piece")
	}
	if !s.Active.Variant.Valid() || !s.Active.Rotation.Valid() {
		return xerrors.New(xerrors.CodeMalformedInput,
			fmt.Sprintf("invalid active piece %d@%d", s.Active.Variant, s.Active.Rotation))
	}
	if reason := fits(s.Board, s.Active); reason != "" {
		return xerrors.New(xerrors.CodeMalformedInput, fmt.Sprintf("active piece %s", reason))
	}
	return nil
}

// Rendered returns the board with the active piece drawn in.
func (s State) Rendered() grid.Grid {
	g := s.Board
	if s.Over {
		return g
	}
	for _, c := range s.Active.Cells() {
		g[c.Row][c.Col] = s.Active.Variant.Symbol()
	}
	return g
}

// fits returns "" when p lies inside the grid on empty cells, otherwise the
// reason it does not.
func fits(board grid.Grid, p ActivePiece) Reason {
	for _, c := range p.Cells() {
		if !grid.InBounds(c.Row, c.Col) {
			return ReasonOutOfBounds
		}
		if board[c.Row][c.Col].Occupied() {
			return ReasonCollision
		}
	}
	return ""
}
