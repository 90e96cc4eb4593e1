package leaderboard

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
)

type snapshot struct {
	entries []Entry
	digests map[string]struct{}
}

// MemoryStore 以写时复制的方式保存记录。读取方直接读取不可变快照，
// 不会与写入方竞争锁。
type MemoryStore struct {
	writeMu sync.Mutex
	current atomic.Pointer[snapshot]
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{}
	m.current.Store(&snapshot{digests: map[string]struct{}{}})
	return m
}

// Append 实现 Store 接口。
func (m *MemoryStore) Append(_ context.Context, entry Entry) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	cur := m.current.Load()
	if _, ok := cur.digests[entry.ProofDigest]; ok {
		return ErrDuplicateEntry
	}
	next := &snapshot{
		entries: make([]Entry, 0, len(cur.entries)+1),
		digests: make(map[string]struct{}, len(cur.digests)+1),
	}
	next.entries = append(next.entries, cur.entries...)
	for d := range cur.digests {
		next.digests[d] = struct{}{}
	}
	entry = cloneEntry(entry)
	pos, _ := slices.BinarySearchFunc(next.entries, entry, func(a, b Entry) int {
		if less(a, b) {
			return -1
		}
		if less(b, a) {
			return 1
		}
		return 0
	})
	next.entries = slices.Insert(next.entries, pos, entry)
	next.digests[entry.ProofDigest] = struct{}{}
	m.current.Store(next)
	return nil
}

// Rankings 实现 Store 接口。
func (m *MemoryStore) Rankings(_ context.Context, opts QueryOptions) ([]Entry, error) {
	snap := m.current.Load()
	out := make([]Entry, 0, min(opts.Limit, len(snap.entries)))
	for _, e := range snap.entries {
		if !opts.matches(e) {
			continue
		}
		out = append(out, cloneEntry(e))
		if len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// Count 实现 Store 接口。
func (m *MemoryStore) Count(context.Context) (int, error) {
	return len(m.current.Load().entries), nil
}
