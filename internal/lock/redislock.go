package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL     = 10 * time.Second
	defaultBackoff = 50 * time.Millisecond
	orderKeyPrefix = "concordpay:lock:order:"
)

// releaseScript deletes the key only while it still holds our token, so a
// lock that expired and was re-acquired elsewhere is left alone.
var releaseScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`)

// Locker serializes work on a key across processes using Redis.
type Locker struct {
	R            redis.Scripter
	RetryBackoff time.Duration
}

// OrderKey returns the lock key guarding callback processing for an order.
func OrderKey(orderID string) string {
	return orderKeyPrefix + orderID
}

// WithLock executes fn while holding a lock for the provided key. The lock is
// released even if fn returns an error. When the lock cannot be acquired
// before the context is cancelled the context error is returned.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = defaultBackoff
	}
	token := uuid.NewString()

	for {
		ok, err := l.acquire(ctx, key, token, ttl)
		if err != nil {
			return err
		}
		if ok {
			defer l.release(key, token)
			return fn(ctx)
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l Locker) acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	cmd, ok := l.R.(redis.Cmdable)
	if !ok {
		return false, errors.New("lock: client does not support SETNX")
	}
	return cmd.SetNX(ctx, key, token, ttl).Result()
}

func (l Locker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = releaseScript.Run(ctx, l.R, []string{key}, token).Err()
}
