package submission

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/DarbotLM/Detris/internal/observability/metrics"
)

// Handler 处理来自消息队列的提交 ID。
type Handler func(ctx context.Context, submissionID string) error

// Producer 负责向队列投递提交。
type Producer interface {
	Publish(ctx context.Context, submissionID string) error
	Close() error
}

// Consumer 负责从队列中消费提交。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// delivery 是一条已取出的消息，settle 根据处理结果确认或重投。
type delivery struct {
	id     string
	settle func(ctx context.Context, handlerErr error)
}

// receiver 取出下一条消息；ok 为 false 表示本轮没有消息，应再次轮询。
type receiver func(ctx context.Context) (d delivery, ok bool, err error)

// errQueueDrained 表示后端已关闭且不会再有消息。
var errQueueDrained = errors.New("queue drained")

// consume 是三种后端共用的工作循环。任一 worker 返回错误时全部退出。
func consume(ctx context.Context, backend string, workers int, recv receiver, handler Handler) error {
	g, gctx := errgroup.WithContext(ctx)
	for range max(workers, 1) {
		g.Go(func() error {
			for gctx.Err() == nil {
				d, ok, err := recv(gctx)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				handlerErr := handler(gctx, d.id)
				outcome := metrics.DeliveryAcked
				if handlerErr != nil {
					outcome = metrics.DeliveryFailed
				}
				metrics.ObserveQueueDelivery(backend, outcome)
				if d.settle != nil {
					d.settle(gctx, handlerErr)
				}
			}
			return gctx.Err()
		})
	}
	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, errQueueDrained) {
		return nil
	}
	return err
}
