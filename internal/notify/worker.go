package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/concordpay-gateway/internal/events"
	"github.com/noah-isme/concordpay-gateway/internal/lock"
)

// Locker serializes event handling across worker replicas.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// EventWorker consumes payment event tasks and runs the notifiers.
type EventWorker struct {
	Notifiers []events.Notifier
	Locker    Locker
	LockTTL   time.Duration
	Logger    zerolog.Logger
}

// Register mounts the worker on mux.
func (w EventWorker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypePaymentEvent, w.ProcessTask)
}

// ProcessTask implements asynq.Handler. Malformed payloads are skipped
// without retry.
func (w EventWorker) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var event events.Event
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		return fmt.Errorf("decode event: %v: %w", err, asynq.SkipRetry)
	}
	run := func(ctx context.Context) error {
		for _, n := range w.Notifiers {
			if n == nil {
				continue
			}
			if err := n.Notify(ctx, event); err != nil {
				return err
			}
		}
		w.Logger.Info().
			Str("event_id", event.ID.String()).
			Str("topic", event.Topic).
			Str("order_id", event.OrderID).
			Msg("payment_event_processed")
		return nil
	}
	if w.Locker == nil {
		return run(ctx)
	}
	ttl := w.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return w.Locker.WithLock(ctx, "concordpay:lock:event:"+event.ID.String(), ttl, run)
}

var _ Locker = lock.Locker{}
