package submission

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "github.com/DarbotLM/Detris/internal/errors"
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string        `json:"address" yaml:"address" env:"ADDRESS"`
	Password  string        `json:"password" yaml:"password" env:"PASSWORD"`
	DB        int           `json:"db" yaml:"db" env:"DB"`
	Queue     string        `json:"queue" yaml:"queue" env:"QUEUE"`
	BlockWait time.Duration `json:"block_wait" yaml:"block_wait" env:"BLOCK_WAIT"`
}

func (c RedisQueueConfig) withDefaults() RedisQueueConfig {
	if c.Queue == "" {
		c.Queue = "detris:submissions"
	}
	if c.BlockWait <= 0 {
		c.BlockWait = 5 * time.Second
	}
	return c
}

// RedisQueue 把提交 ID 存放在 Redis list 中，LPUSH 入队、BRPOP 出队。
// 处理失败的 ID 会被放回队尾，避免阻塞其他提交。
type RedisQueue struct {
	client *redis.Client
	cfg    RedisQueueConfig
}

// NewRedisQueue 连接 Redis 并确认可用。
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 Redis 失败")
	}
	return &RedisQueue{client: client, cfg: cfg.withDefaults()}, nil
}

func (q *RedisQueue) Publish(ctx context.Context, submissionID string) error {
	if err := q.client.LPush(ctx, q.cfg.Queue, submissionID).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布提交失败")
	}
	return nil
}

// Len 返回 list 的当前长度。
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.cfg.Queue).Result()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeQueueFailure, err, "读取 Redis 队列长度失败")
	}
	return n, nil
}

func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	return consume(ctx, "redis", workerCount, q.receive, handler)
}

func (q *RedisQueue) receive(ctx context.Context) (delivery, bool, error) {
	values, err := q.client.BRPop(ctx, q.cfg.BlockWait, q.cfg.Queue).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return delivery{}, false, nil
	case errors.Is(err, redis.ErrClosed):
		return delivery{}, false, errQueueDrained
	case err != nil:
		if ctx.Err() != nil {
			return delivery{}, false, ctx.Err()
		}
		return delivery{}, false, xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 取提交失败")
	}
	// BRPOP 返回 [key, value]。
	if len(values) != 2 {
		return delivery{}, false, nil
	}
	id := values[1]
	return delivery{id: id, settle: func(ctx context.Context, handlerErr error) {
		if handlerErr != nil {
			_ = q.client.RPush(context.WithoutCancel(ctx), q.cfg.Queue, id).Err()
		}
	}}, true, nil
}

func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
