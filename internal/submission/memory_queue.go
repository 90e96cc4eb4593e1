package submission

import (
	"cmp"
	"context"
	"sync"

	xerrors "github.com/DarbotLM/Detris/internal/errors"
)

// MemoryQueue 基于带缓冲 channel，供单机部署与测试使用。
// 处理失败的消息不会自动重投，重试由 Processor 通过 Publish 完成。
type MemoryQueue struct {
	ch chan string

	mu     sync.RWMutex
	closed bool
}

func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{ch: make(chan string, cmp.Or(max(size, 0), 64))}
}

func (q *MemoryQueue) Publish(ctx context.Context, submissionID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")
	}
	select {
	case q.ch <- submissionID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len 返回尚未被消费的消息数。
func (q *MemoryQueue) Len() int { return len(q.ch) }

func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	return consume(ctx, "memory", workerCount, q.receive, handler)
}

func (q *MemoryQueue) receive(ctx context.Context) (delivery, bool, error) {
	select {
	case <-ctx.Done():
		return delivery{}, false, ctx.Err()
	case id, ok := <-q.ch:
		if !ok {
			return delivery{}, false, errQueueDrained
		}
		return delivery{id: id}, true, nil
	}
}

// Close 关闭队列，已缓冲的消息仍会被消费完。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}
