package learning

import "math"

// Improvement summarizes how scores moved across attempts.
type Improvement struct {
	// Slope is the least-squares slope of score against attempt index.
	Slope float64 `json:"slope"`
	// PctImprovement is (final - initial) / max(initial, 1).
	PctImprovement float64 `json:"pct_improvement"`
	Initial        float64 `json:"initial"`
	Final          float64 `json:"final"`
	Best           float64 `json:"best"`
	Mean           float64 `json:"mean"`
}

// ComputeImprovement derives the improvement metrics of scores. With fewer
// than two scores the slope is zero.
func ComputeImprovement(scores []float64) Improvement {
	n := len(scores)
	if n == 0 {
		return Improvement{}
	}
	imp := Improvement{
		Initial: scores[0],
		Final:   scores[n-1],
		Best:    scores[0],
	}
	var sum float64
	for _, s := range scores {
		sum += s
		imp.Best = math.Max(imp.Best, s)
	}
	imp.Mean = sum / float64(n)
	imp.PctImprovement = (imp.Final - imp.Initial) / math.Max(imp.Initial, 1)
	if n < 2 {
		return imp
	}

	xMean := float64(n-1) / 2
	var num, den float64
	for i, s := range scores {
		dx := float64(i) - xMean
		num += dx * (s - imp.Mean)
		den += dx * dx
	}
	imp.Slope = num / den
	return imp
}

// ScoreTolerance bounds the relative difference accepted between a claimed
// and a recomputed value.
const ScoreTolerance = 1e-6

func within(a, b float64) bool {
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= ScoreTolerance*scale
}

// Close reports whether every metric of i and o agrees within ScoreTolerance.
func (i Improvement) Close(o Improvement) bool {
	return within(i.Slope, o.Slope) &&
		within(i.PctImprovement, o.PctImprovement) &&
		within(i.Initial, o.Initial) &&
		within(i.Final, o.Final) &&
		within(i.Best, o.Best) &&
		within(i.Mean, o.Mean)
}

func (i Improvement) bits() []uint64 {
	return []uint64{
		math.Float64bits(i.Slope),
		math.Float64bits(i.PctImprovement),
		math.Float64bits(i.Initial),
		math.Float64bits(i.Final),
		math.Float64bits(i.Best),
		math.Float64bits(i.Mean),
	}
}
