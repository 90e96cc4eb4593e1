package submission

import (
	"context"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "github.com/DarbotLM/Detris/internal/errors"
)

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url" yaml:"url" env:"URL"`
	Queue      string `json:"queue" yaml:"queue" env:"QUEUE"`
	Prefetch   int    `json:"prefetch" yaml:"prefetch" env:"PREFETCH"`
	Durable    bool   `json:"durable" yaml:"durable" env:"DURABLE"`
	AutoDelete bool   `json:"auto_delete" yaml:"auto_delete" env:"AUTO_DELETE"`
}

// RabbitMQQueue 通过默认交换机投递提交 ID，消费端手动确认，失败时 Nack 重新入队。
type RabbitMQQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewRabbitMQQueue 建立连接并声明队列。
func NewRabbitMQQueue(cfg RabbitMQConfig) (q *RabbitMQQueue, err error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ URL 不能为空")
	}
	if cfg.Queue == "" {
		cfg.Queue = "detris.submissions"
	}

	q = &RabbitMQQueue{queue: cfg.Queue}
	defer func() {
		if err != nil {
			_ = q.Close()
			q = nil
		}
	}()
	if q.conn, err = amqp.Dial(cfg.URL); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 RabbitMQ 失败")
	}
	if q.ch, err = q.conn.Channel(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "创建 RabbitMQ channel 失败")
	}
	if cfg.Prefetch > 0 {
		if err = q.ch.Qos(cfg.Prefetch, 0, false); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "设置 RabbitMQ QOS 失败")
		}
	}
	if _, err = q.ch.QueueDeclare(cfg.Queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "声明 RabbitMQ 队列失败")
	}
	return q, nil
}

func (q *RabbitMQQueue) ready() error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 队列未初始化")
	}
	return nil
}

func (q *RabbitMQQueue) Publish(ctx context.Context, submissionID string) error {
	if err := q.ready(); err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		MessageId:    submissionID,
		Body:         []byte(submissionID),
	}
	if err := q.ch.PublishWithContext(ctx, "", q.queue, false, false, msg); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "RabbitMQ 发布提交失败")
	}
	return nil
}

func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if err := q.ready(); err != nil {
		return err
	}
	msgs, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "订阅 RabbitMQ 队列失败")
	}
	return consume(ctx, "rabbitmq", workerCount, rabbitReceiver(msgs), handler)
}

func rabbitReceiver(msgs <-chan amqp.Delivery) receiver {
	return func(ctx context.Context) (delivery, bool, error) {
		select {
		case <-ctx.Done():
			return delivery{}, false, ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return delivery{}, false, errQueueDrained
			}
			return delivery{id: string(msg.Body), settle: func(_ context.Context, handlerErr error) {
				if handlerErr != nil {
					_ = msg.Nack(false, true)
					return
				}
				_ = msg.Ack(false)
			}}, true, nil
		}
	}
}

func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	var errs []error
	if q.ch != nil {
		errs = append(errs, q.ch.Close())
	}
	if q.conn != nil {
		errs = append(errs, q.conn.Close())
	}
	return errors.Join(errs...)
}
