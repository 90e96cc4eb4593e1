package learning

import (
	stdErrors "errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/DarbotLM/Detris/internal/challenge"
	"github.com/DarbotLM/Detris/internal/proofs"
	"github.com/DarbotLM/Detris/internal/proofs/placement"
)

// FailureKind classifies a verification failure.
type FailureKind string

const (
	FailureMalformed   FailureKind = "malformed"
	FailureChallenge   FailureKind = "challenge_mismatch"
	FailureMoveBudget  FailureKind = "move_budget_exceeded"
	FailureChain       FailureKind = "chain_invalid"
	FailureScore       FailureKind = "score_mismatch"
	FailureImprovement FailureKind = "improvement_mismatch"
	FailureSignature   FailureKind = "signature_invalid"
)

// NoIndex marks a failure that is not tied to an attempt or a frame.
const NoIndex = -1

// Failure is one itemized reason a proof was rejected.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Attempt int         `json:"attempt"`
	Frame   int         `json:"frame"`
	Detail  string      `json:"detail"`
}

func (f Failure) String() string {
	switch {
	case f.Attempt == NoIndex:
		return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
	case f.Frame == NoIndex:
		return fmt.Sprintf("attempt %d: %s: %s", f.Attempt, f.Kind, f.Detail)
	default:
		return fmt.Sprintf("attempt %d frame %d: %s: %s", f.Attempt, f.Frame, f.Kind, f.Detail)
	}
}

// VerificationResult is the itemized outcome of verifying a proof. Verify
// never stops at the first failure.
type VerificationResult struct {
	Valid    bool      `json:"valid"`
	Failures []Failure `json:"failures,omitempty"`
	// Checked lists the attempts that were replayed.
	Checked []int `json:"checked"`
	// Recomputed holds the replayed score of every checked attempt whose
	// chain verified.
	Recomputed map[int]float64 `json:"recomputed_scores"`
	// Improvement is recomputed from replayed scores when every attempt was
	// checked and verified.
	Improvement *Improvement `json:"improvement,omitempty"`
}

// Verify replays every attempt of pol and checks every claim it makes.
func Verify(pol Proof, publicKey []byte) VerificationResult {
	all := make([]int, len(pol.Attempts))
	for i := range all {
		all[i] = i
	}
	return verify(pol, publicKey, all)
}

// OptimisticVerify replays a random sample of max(1, ceil(n*sampleRate))
// attempts drawn with rng. Proof-level checks (structure, challenge,
// claimed improvement consistency and signature) always run.
func OptimisticVerify(pol Proof, publicKey []byte, sampleRate float64, rng *rand.Rand) VerificationResult {
	n := len(pol.Attempts)
	if n == 0 {
		return verify(pol, publicKey, nil)
	}
	if rng == nil {
		return VerificationResult{
			Checked:    []int{},
			Recomputed: map[int]float64{},
			Failures: []Failure{{Kind: FailureMalformed, Attempt: NoIndex, Frame: NoIndex,
				Detail: "optimistic verification needs a random source"}},
		}
	}
	return verify(pol, publicKey, Sample(n, sampleRate, rng))
}

// SampleSize is max(1, ceil(n*rate)) clamped to n.
func SampleSize(n int, rate float64) int {
	if n <= 0 {
		return 0
	}
	k := 1
	if !math.IsNaN(rate) && rate > 0 {
		k = max(1, int(math.Ceil(float64(n)*math.Min(rate, 1))))
	}
	return min(k, n)
}

// Sample draws SampleSize(n, rate) distinct attempt indices, sorted. A nil
// rng draws nothing.
func Sample(n int, rate float64, rng *rand.Rand) []int {
	if rng == nil || n <= 0 {
		return nil
	}
	k := SampleSize(n, rate)
	picked := rng.Perm(n)[:k]
	slices.Sort(picked)
	return picked
}

// DetectionProbability is the chance that sampling s of n attempts, k of
// which are invalid, picks at least one invalid attempt. Sample draws without
// replacement, so this is the exact hypergeometric value; it is never below
// ApproxDetectionProbability and converges to it as n grows.
func DetectionProbability(k, n, s int) float64 {
	if k <= 0 || n <= 0 || s <= 0 {
		return 0
	}
	if s > n-k {
		return 1
	}
	miss := 1.0
	for i := 0; i < s; i++ {
		miss *= float64(n-k-i) / float64(n-i)
	}
	return 1 - miss
}

// ApproxDetectionProbability is the with-replacement estimate
// 1 - (1 - fraction)^(n*rate) for a proof whose invalid share is fraction.
func ApproxDetectionProbability(fraction float64, n int, rate float64) float64 {
	if fraction <= 0 || n <= 0 || rate <= 0 {
		return 0
	}
	return 1 - math.Pow(1-math.Min(fraction, 1), float64(n)*math.Min(rate, 1))
}

type attemptResult struct {
	score    float64
	replayed bool
	failures []Failure
}

func verify(pol Proof, publicKey []byte, indices []int) VerificationResult {
	res := VerificationResult{Checked: indices, Recomputed: make(map[int]float64, len(indices))}
	if res.Checked == nil {
		res.Checked = []int{}
	}
	fail := func(kind FailureKind, attempt, frame int, detail string) {
		res.Failures = append(res.Failures, Failure{Kind: kind, Attempt: attempt, Frame: frame, Detail: detail})
	}

	if len(pol.Attempts) == 0 {
		fail(FailureMalformed, NoIndex, NoIndex, "proof has no attempts")
	}
	if len(pol.Scores) != len(pol.Attempts) {
		fail(FailureMalformed, NoIndex, NoIndex,
			fmt.Sprintf("%d scores for %d attempts", len(pol.Scores), len(pol.Attempts)))
	}

	ref := pol.Challenge
	if regen, err := pol.Challenge.Regenerate(); err != nil {
		fail(FailureChallenge, NoIndex, NoIndex, err.Error())
	} else if !regen.Equal(pol.Challenge) {
		fail(FailureChallenge, NoIndex, NoIndex, "challenge does not match its seed and difficulty")
		ref = regen
	}

	results := make([]attemptResult, len(indices))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for slot, idx := range indices {
		g.Go(func() error {
			results[slot] = checkAttempt(pol, ref, idx, publicKey)
			return nil
		})
	}
	_ = g.Wait()

	replayedAll := len(indices) == len(pol.Attempts) && len(indices) > 0
	recomputed := make([]float64, len(pol.Attempts))
	for slot, idx := range indices {
		r := results[slot]
		res.Failures = append(res.Failures, r.failures...)
		if r.replayed {
			res.Recomputed[idx] = r.score
			recomputed[idx] = r.score
		} else {
			replayedAll = false
		}
	}

	if !ComputeImprovement(pol.Scores).Close(pol.Improvement) {
		fail(FailureImprovement, NoIndex, NoIndex, "claimed improvement does not follow from claimed scores")
	}
	if replayedAll {
		imp := ComputeImprovement(recomputed)
		res.Improvement = &imp
		if !imp.Close(pol.Improvement) {
			fail(FailureImprovement, NoIndex, NoIndex, "claimed improvement does not follow from replayed scores")
		}
	}

	if detail := checkSignature(pol, publicKey); detail != "" {
		fail(FailureSignature, NoIndex, NoIndex, detail)
	}

	res.Valid = len(res.Failures) == 0
	return res
}

func checkAttempt(pol Proof, ref challenge.Challenge, idx int, publicKey []byte) attemptResult {
	var r attemptResult
	chain := pol.Attempts[idx]
	if len(chain) > ref.MaxMoves {
		r.failures = append(r.failures, Failure{Kind: FailureMoveBudget, Attempt: idx, Frame: NoIndex,
			Detail: fmt.Sprintf("%d moves, budget is %d", len(chain), ref.MaxMoves)})
	}
	final, err := placement.CheckChain(chain, ref.Initial, publicKey)
	if err != nil {
		frame := NoIndex
		var frameErr *placement.FrameError
		if stdErrors.As(err, &frameErr) {
			frame = frameErr.Frame
		}
		r.failures = append(r.failures, Failure{Kind: FailureChain, Attempt: idx, Frame: frame, Detail: err.Error()})
		return r
	}
	score, err := ref.Score(tallyChain(chain, final))
	if err != nil {
		r.failures = append(r.failures, Failure{Kind: FailureChallenge, Attempt: idx, Frame: NoIndex, Detail: err.Error()})
		return r
	}
	r.score, r.replayed = score, true
	if idx < len(pol.Scores) && !within(score, pol.Scores[idx]) {
		r.failures = append(r.failures, Failure{Kind: FailureScore, Attempt: idx, Frame: NoIndex,
			Detail: fmt.Sprintf("replayed %v, claimed %v", score, pol.Scores[idx])})
	}
	return r
}

func checkSignature(pol Proof, publicKey []byte) string {
	if len(pol.Signature) == 0 {
		return "proof is unsigned"
	}
	if len(publicKey) == 0 {
		return "no public key supplied"
	}
	digest, err := pol.SigningDigest()
	if err != nil {
		return err.Error()
	}
	if !proofs.VerifySignature(publicKey, digest, pol.Signature) {
		return "signature does not match public key"
	}
	return ""
}
