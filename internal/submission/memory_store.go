package submission

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	xerrors "github.com/DarbotLM/Detris/internal/errors"
)

// MemoryStore 以内存方式保存提交状态，主要用于测试与单机部署。
type MemoryStore struct {
	mu          sync.RWMutex
	submissions map[string]*Submission
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{submissions: make(map[string]*Submission)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, s *Submission) error {
	if s == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "submission 不能为空")
	}
	if s.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "提交 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.submissions[s.ID]; ok {
		return ErrSubmissionConflict
	}
	now := time.Now().Unix()
	if s.CreatedAt == 0 {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	m.submissions[s.ID] = cloneSubmission(s)
	return nil
}

// Get 返回提交。
func (m *MemoryStore) Get(_ context.Context, id string) (*Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.submissions[id]
	if !ok {
		return nil, ErrSubmissionNotFound
	}
	return cloneSubmission(s), nil
}

// Claim 将提交状态更新为验证中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[id]
	if !ok {
		return nil, ErrSubmissionNotFound
	}
	switch s.Status {
	case StatusAccepted, StatusRejected:
		return cloneSubmission(s), ErrSubmissionCompleted
	case StatusVerifying:
		return cloneSubmission(s), ErrSubmissionConflict
	}
	if s.Attempts >= s.MaxRetries {
		return cloneSubmission(s), ErrSubmissionExhausted
	}
	s.Status = StatusVerifying
	s.Attempts++
	s.LastError = ""
	s.ErrorCode = ""
	s.UpdatedAt = time.Now().Unix()
	return cloneSubmission(s), nil
}

// MarkAccepted 记录上榜结果。
func (m *MemoryStore) MarkAccepted(_ context.Context, id, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[id]
	if !ok {
		return ErrSubmissionNotFound
	}
	s.Status = StatusAccepted
	s.EntryID = entryID
	s.Failures = nil
	s.LastError = ""
	s.ErrorCode = ""
	s.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkRejected 记录验证失败的逐项原因。
func (m *MemoryStore) MarkRejected(_ context.Context, id string, code xerrors.Code, failures []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[id]
	if !ok {
		return ErrSubmissionNotFound
	}
	s.Status = StatusRejected
	s.Failures = slices.Clone(failures)
	s.ErrorCode = string(code)
	s.LastError = ""
	s.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 标记提交处理失败。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[id]
	if !ok {
		return ErrSubmissionNotFound
	}
	s.Status = StatusFailed
	s.LastError = lastError
	s.ErrorCode = string(code)
	if terminal && s.Attempts < s.MaxRetries {
		s.Attempts = s.MaxRetries
	}
	s.UpdatedAt = time.Now().Unix()
	return nil
}

// List 返回符合过滤条件的提交。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.normalize()

	results := make([]*Submission, 0, len(m.submissions))
	for _, s := range m.submissions {
		if opts.matches(s) {
			results = append(results, cloneSubmission(s))
		}
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if opts.Order == SortByUpdatedAsc {
			if a.UpdatedAt == b.UpdatedAt {
				if a.CreatedAt == b.CreatedAt {
					return a.ID < b.ID
				}
				return a.CreatedAt < b.CreatedAt
			}
			return a.UpdatedAt < b.UpdatedAt
		}
		if a.UpdatedAt == b.UpdatedAt {
			if a.CreatedAt == b.CreatedAt {
				return a.ID > b.ID
			}
			return a.CreatedAt > b.CreatedAt
		}
		return a.UpdatedAt > b.UpdatedAt
	})

	if opts.Offset >= len(results) {
		return []*Submission{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的提交数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.normalize()

	stats := Stats{}
	for _, s := range m.submissions {
		if opts.matches(s) {
			stats.add(s)
		}
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
