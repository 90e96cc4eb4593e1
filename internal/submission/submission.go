// Package submission queues Proof-of-Learning submissions and verifies them
// asynchronously before they reach the leaderboard.
package submission

import (
	"net/http"
	"slices"

	xerrors "github.com/DarbotLM/Detris/internal/errors"
)

// Status 表示提交在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusVerifying Status = "verifying"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusFailed    Status = "failed"
)

// Submission 描述一次排队等待验证的学习证明。
type Submission struct {
	ID          string   `json:"id"`
	AgentID     string   `json:"agent_id"`
	Seed        int64    `json:"seed"`
	ProofDigest string   `json:"proof_digest"`
	PublicKey   string   `json:"public_key"`
	Status      Status   `json:"status"`
	Attempts    int      `json:"attempts"`
	MaxRetries  int      `json:"max_retries"`
	Failures    []string `json:"failures,omitempty"`
	EntryID     string   `json:"entry_id,omitempty"`
	LastError   string   `json:"last_error,omitempty"`
	ErrorCode   string   `json:"error_code,omitempty"`
	CreatedAt   int64    `json:"created_at"`
	UpdatedAt   int64    `json:"updated_at"`
}

// Done 报告提交是否已不会再被处理。
func (s *Submission) Done() bool {
	switch s.Status {
	case StatusAccepted, StatusRejected:
		return true
	case StatusFailed:
		return s.Attempts >= s.MaxRetries
	default:
		return false
	}
}

func cloneSubmission(s *Submission) *Submission {
	clone := *s
	clone.Failures = slices.Clone(s.Failures)
	return &clone
}

var (
	// ErrSubmissionNotFound 表示指定的提交不存在。
	ErrSubmissionNotFound = xerrors.New(CodeSubmissionNotFound, "submission not found")
	// ErrSubmissionConflict 表示提交在当前状态下无法进行所请求的操作。
	ErrSubmissionConflict = xerrors.New(CodeSubmissionConflict, "submission conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrSubmissionCompleted 表示提交已经得到最终结论。
	ErrSubmissionCompleted = xerrors.New(CodeSubmissionCompleted, "submission already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrSubmissionExhausted 表示提交的重试次数已经耗尽。
	ErrSubmissionExhausted = xerrors.New(CodeSubmissionExhausted, "submission retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeSubmissionNotFound   xerrors.Code = "SUBMISSION_NOT_FOUND"
	CodeSubmissionConflict   xerrors.Code = "SUBMISSION_CONFLICT"
	CodeSubmissionCompleted  xerrors.Code = "SUBMISSION_COMPLETED"
	CodeSubmissionExhausted  xerrors.Code = "SUBMISSION_RETRIES_EXHAUSTED"
	CodeSubmissionValidation xerrors.Code = "SUBMISSION_VALIDATION_FAILED"
	CodeSubmissionPublish    xerrors.Code = "SUBMISSION_PUBLISH_FAILED"
	CodeSubmissionProcessing xerrors.Code = "SUBMISSION_PROCESSING_FAILED"
)

func init() {
	xerrors.Register(CodeSubmissionNotFound, xerrors.Attributes{
		Message:   "submission not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
		Status:    http.StatusNotFound,
	})
	xerrors.Register(CodeSubmissionConflict, xerrors.Attributes{
		Message:   "submission conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
		Status:    http.StatusConflict,
	})
	xerrors.Register(CodeSubmissionCompleted, xerrors.Attributes{
		Message:   "submission already completed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
		Status:    http.StatusConflict,
	})
	xerrors.Register(CodeSubmissionExhausted, xerrors.Attributes{
		Message:   "submission retries exhausted",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
		Status:    http.StatusConflict,
	})
	xerrors.Register(CodeSubmissionValidation, xerrors.Attributes{
		Message:   "submission validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
		Status:    http.StatusBadRequest,
	})
	xerrors.Register(CodeSubmissionPublish, xerrors.Attributes{
		Message:   "failed to publish submission",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
		Status:    http.StatusServiceUnavailable,
	})
	xerrors.Register(CodeSubmissionProcessing, xerrors.Attributes{
		Message:   "submission processing failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
		Status:    http.StatusInternalServerError,
	})
}

// IsValidStatus 检查给定的状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusVerifying, StatusAccepted, StatusRejected, StatusFailed:
		return true
	default:
		return false
	}
}
