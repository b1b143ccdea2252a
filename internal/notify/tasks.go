package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/concordpay-gateway/internal/events"
)

// TypePaymentEvent is the asynq task type carrying a persisted payment event.
const TypePaymentEvent = "concordpay:event"

const (
	defaultQueue    = "default"
	defaultMaxRetry = 8
)

// NewPaymentEventTask wraps event in an asynq task.
func NewPaymentEventTask(event events.Event) (*asynq.Task, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePaymentEvent, payload), nil
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scheduler enqueues emitted events for the worker. It implements
// events.DeliveryScheduler.
type Scheduler struct {
	Client    Enqueuer
	Queue     string
	MaxRetry  int
	Retention time.Duration
}

// Schedule implements events.DeliveryScheduler. The event id doubles as the
// task id so a repeated schedule never produces a second delivery.
func (s Scheduler) Schedule(ctx context.Context, event events.Event) error {
	if s.Client == nil {
		return nil
	}
	task, err := NewPaymentEventTask(event)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	queue := s.Queue
	if queue == "" {
		queue = defaultQueue
	}
	maxRetry := s.MaxRetry
	if maxRetry <= 0 {
		maxRetry = defaultMaxRetry
	}
	opts := []asynq.Option{
		asynq.Queue(queue),
		asynq.MaxRetry(maxRetry),
		asynq.TaskID(event.ID.String()),
	}
	if s.Retention > 0 {
		opts = append(opts, asynq.Retention(s.Retention))
	}
	if _, err := s.Client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return err
	}
	return nil
}
