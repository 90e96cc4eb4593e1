package submission

import (
	"context"

	xerrors "github.com/DarbotLM/Detris/internal/errors"
)

// Store 抽象了提交状态的持久化接口。
type Store interface {
	Create(ctx context.Context, s *Submission) error
	Get(ctx context.Context, id string) (*Submission, error)
	// Claim 将 pending 或可重试的 failed 提交切换为 verifying，并增加尝试次数。
	Claim(ctx context.Context, id string) (*Submission, error)
	MarkAccepted(ctx context.Context, id, entryID string) error
	MarkRejected(ctx context.Context, id string, code xerrors.Code, failures []string) error
	// MarkFailed 记录处理失败；terminal 为 true 时耗尽剩余重试次数。
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	List(ctx context.Context, opts ListOptions) ([]*Submission, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}

// Stats 聚合了提交状态的统计信息，常用于仪表盘或健康检查。
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Verifying       int   `json:"verifying"`
	Accepted        int   `json:"accepted"`
	Rejected        int   `json:"rejected"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

func (st *Stats) add(s *Submission) {
	st.Total++
	switch s.Status {
	case StatusPending:
		st.Pending++
	case StatusVerifying:
		st.Verifying++
	case StatusAccepted:
		st.Accepted++
	case StatusRejected:
		st.Rejected++
	case StatusFailed:
		st.Failed++
	}
	if s.UpdatedAt > st.NewestUpdatedAt {
		st.NewestUpdatedAt = s.UpdatedAt
	}
	if st.OldestUpdatedAt == 0 || (s.UpdatedAt != 0 && s.UpdatedAt < st.OldestUpdatedAt) {
		st.OldestUpdatedAt = s.UpdatedAt
	}
}
