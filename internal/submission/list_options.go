package submission

import (
	"slices"
	"time"
)

// SortOrder 决定列表按 UpdatedAt 的排序方向。
type SortOrder int

const (
	SortByUpdatedDesc SortOrder = iota
	SortByUpdatedAsc
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ListOptions 是 Store.List 与 Store.Stats 共用的过滤条件。
// UpdatedGTE 与 UpdatedLTE 为 Unix 秒，0 表示不限。
type ListOptions struct {
	Limit      int
	Offset     int
	Statuses   []Status
	AgentID    string
	Seed       *int64
	UpdatedGTE int64
	UpdatedLTE int64
	Order      SortOrder
}

// ListOption 修改 ListOptions。
type ListOption func(*ListOptions)

func WithLimit(limit int) ListOption   { return func(o *ListOptions) { o.Limit = limit } }
func WithOffset(offset int) ListOption { return func(o *ListOptions) { o.Offset = offset } }
func WithAgent(agentID string) ListOption {
	return func(o *ListOptions) { o.AgentID = agentID }
}

// WithSeed 只保留指定挑战种子的提交。
func WithSeed(seed int64) ListOption { return func(o *ListOptions) { o.Seed = &seed } }

// WithStatuses 按状态过滤，无效或重复的状态会被忽略。
func WithStatuses(statuses ...Status) ListOption {
	return func(o *ListOptions) { o.Statuses = slices.Clone(statuses) }
}

// WithUpdatedBetween 按更新时间过滤，闭区间，零值一端不限。
func WithUpdatedBetween(from, to time.Time) ListOption {
	return func(o *ListOptions) {
		o.UpdatedGTE, o.UpdatedLTE = unixOrZero(from), unixOrZero(to)
	}
}

// WithOldestFirst 改为按更新时间升序返回。
func WithOldestFirst() ListOption {
	return func(o *ListOptions) { o.Order = SortByUpdatedAsc }
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func buildListOptions(opts []ListOption) ListOptions {
	var o ListOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	o.normalize()
	return o
}

// normalize 限制分页范围并清理状态过滤，存储实现在查询前调用。
func (o *ListOptions) normalize() {
	switch {
	case o.Limit <= 0:
		o.Limit = defaultListLimit
	case o.Limit > maxListLimit:
		o.Limit = maxListLimit
	}
	o.Offset = max(o.Offset, 0)
	if o.Order != SortByUpdatedAsc {
		o.Order = SortByUpdatedDesc
	}
	o.Statuses = validStatuses(o.Statuses)
}

func validStatuses(in []Status) []Status {
	var out []Status
	for _, s := range in {
		if IsValidStatus(s) && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func (o ListOptions) matches(s *Submission) bool {
	switch {
	case len(o.Statuses) > 0 && !slices.Contains(o.Statuses, s.Status):
		return false
	case o.AgentID != "" && s.AgentID != o.AgentID:
		return false
	case o.Seed != nil && s.Seed != *o.Seed:
		return false
	case o.UpdatedGTE > 0 && s.UpdatedAt < o.UpdatedGTE:
		return false
	case o.UpdatedLTE > 0 && s.UpdatedAt > o.UpdatedLTE:
		return false
	}
	return true
}
