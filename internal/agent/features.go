package agent

import "github.com/DarbotLM/Detris/internal/grid"

// Weights scores a board after a placement. Positive weights reward, negative
// weights penalise.
type Weights struct {
	Lines     float64 `json:"lines" yaml:"lines"`
	Height    float64 `json:"height" yaml:"height"`
	Holes     float64 `json:"holes" yaml:"holes"`
	Bumpiness float64 `json:"bumpiness" yaml:"bumpiness"`
	MoveCost  float64 `json:"move_cost" yaml:"move_cost"`
	GameOver  float64 `json:"game_over" yaml:"game_over"`
}

// DefaultWeights are tuned for the 10x10 board.
func DefaultWeights() Weights {
	return Weights{
		Lines:     0.76,
		Height:    -0.51,
		Holes:     -0.36,
		Bumpiness: -0.18,
		MoveCost:  -0.01,
		GameOver:  -100,
	}
}

// features summarises a board for evaluation.
type features struct {
	aggregateHeight int
	holes           int
	bumpiness       int
}

func columnHeights(g grid.Grid) [grid.Cols]int {
	var heights [grid.Cols]int
	for c := 0; c < grid.Cols; c++ {
		for r := grid.Rows - 1; r >= 0; r-- {
			if g[r][c].Occupied() {
				heights[c] = r + 1
				break
			}
		}
	}
	return heights
}

func measure(g grid.Grid) features {
	heights := columnHeights(g)
	f := features{holes: g.Holes()}
	for c, h := range heights {
		f.aggregateHeight += h
		if c > 0 {
			d := h - heights[c-1]
			if d < 0 {
				d = -d
			}
			f.bumpiness += d
		}
	}
	return f
}

func (w Weights) evaluate(board grid.Grid, cleared, moves int, over bool) float64 {
	f := measure(board)
	score := w.Lines*float64(cleared) +
		w.Height*float64(f.aggregateHeight) +
		w.Holes*float64(f.holes) +
		w.Bumpiness*float64(f.bumpiness) +
		w.MoveCost*float64(moves)
	if over {
		score += w.GameOver
	}
	return score
}
