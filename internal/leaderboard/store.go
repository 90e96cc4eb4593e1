package leaderboard

import "context"

// Store 是排行榜的只追加存储。
type Store interface {
	// Append 写入新记录；摘要重复时返回 ErrDuplicateEntry。
	Append(ctx context.Context, entry Entry) error
	// Rankings 返回按排名顺序排列的记录。
	Rankings(ctx context.Context, opts QueryOptions) ([]Entry, error)
	// Count 返回记录总数。
	Count(ctx context.Context) (int, error)
}
