// Package leaderboard ranks agents by verified learning improvement. Only
// proofs that pass full verification are ever recorded.
package leaderboard

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	xerrors "github.com/DarbotLM/Detris/internal/errors"
	"github.com/DarbotLM/Detris/internal/proofs/learning"
)

// Entry 是排行榜中的一条已验证记录。
type Entry struct {
	ID          string               `json:"id"`
	ProofDigest string               `json:"proof_digest"`
	AgentID     string               `json:"agent_id"`
	Seed        int64                `json:"seed"`
	Difficulty  float64              `json:"difficulty"`
	Policy      string               `json:"scoring_policy"`
	Attempts    int                  `json:"attempts"`
	Scores      []float64            `json:"scores"`
	Improvement learning.Improvement `json:"improvement"`
	PublicKey   string               `json:"public_key"`
	SubmittedAt time.Time            `json:"submitted_at"`
}

func cloneEntry(e Entry) Entry {
	e.Scores = append([]float64(nil), e.Scores...)
	return e
}

const (
	CodeSubmissionRejected xerrors.Code = "SUBMISSION_REJECTED"
	CodeDuplicateEntry     xerrors.Code = "DUPLICATE_ENTRY"
)

var (
	// ErrSubmissionRejected 匹配所有验证失败的提交。
	ErrSubmissionRejected = xerrors.New(CodeSubmissionRejected, "submission rejected")
	// ErrDuplicateEntry 表示相同摘要的证明已经上榜。
	ErrDuplicateEntry = xerrors.New(CodeDuplicateEntry, "proof already on the leaderboard")
)

func init() {
	xerrors.Register(CodeSubmissionRejected, xerrors.Attributes{
		Message:   "submission rejected",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
		Status:    http.StatusUnprocessableEntity,
	})
	xerrors.Register(CodeDuplicateEntry, xerrors.Attributes{
		Message:   "duplicate leaderboard entry",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
		Status:    http.StatusConflict,
	})
}

// RejectedError 携带逐项的验证失败原因。
type RejectedError struct {
	Failures []learning.Failure
}

func (e *RejectedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.String())
	}
	return fmt.Sprintf("submission rejected: %s", strings.Join(parts, "; "))
}

// Unwrap 使 errors.Is(err, ErrSubmissionRejected) 成立。
func (e *RejectedError) Unwrap() error { return ErrSubmissionRejected }
