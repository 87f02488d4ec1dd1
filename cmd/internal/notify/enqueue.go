package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Enqueuer is the producer side of the notification queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskType string, payload any) error
	Close() error
}

// AsynqEnqueuer pushes tasks onto the Redis-backed queue.
type AsynqEnqueuer struct {
	client *asynq.Client
}

// NewAsynqEnqueuer connects a task producer to redisURI
// (e.g. "redis://localhost:6379/0").
func NewAsynqEnqueuer(redisURI string) (*AsynqEnqueuer, error) {
	opt, err := asynq.ParseRedisURI(redisURI)
	if err != nil {
		return nil, fmt.Errorf("notify: parse redis uri: %w", err)
	}
	return &AsynqEnqueuer{client: asynq.NewClient(opt)}, nil
}

// Enqueue serializes payload and pushes one task.
func (e *AsynqEnqueuer) Enqueue(ctx context.Context, taskType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal %s: %w", taskType, err)
	}

	task := asynq.NewTask(taskType, raw)
	_, err = e.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("notify: enqueue %s: %w", taskType, err)
	}
	return nil
}

// Close releases the underlying Redis connections.
func (e *AsynqEnqueuer) Close() error { return e.client.Close() }

// NopEnqueuer discards every task. Used when no queue is configured.
type NopEnqueuer struct{}

func (NopEnqueuer) Enqueue(context.Context, string, any) error { return nil }
func (NopEnqueuer) Close() error                               { return nil }
