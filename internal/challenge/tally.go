package challenge

import "github.com/DarbotLM/Detris/internal/engine"

// Tally summarizes an attempt for scoring.
type Tally struct {
	Moves        int
	Locks        int
	LinesCleared int
	// ClearsBySize[n] counts locks that cleared n rows, with n capped at
	// MaxClearReward.
	ClearsBySize [MaxClearReward + 1]int
	Final        engine.State
}

// Record adds one accepted move. cleared is the number of rows the move
// removed; locked reports whether it fixed a piece.
func (t *Tally) Record(locked bool, cleared int) {
	t.Moves++
	if !locked {
		return
	}
	t.Locks++
	t.LinesCleared += cleared
	t.ClearsBySize[min(cleared, MaxClearReward)]++
}
