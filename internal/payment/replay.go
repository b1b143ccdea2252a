package payment

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const replayKeyPrefix = "concordpay:webhook:"

const (
	replayPending = "pending"
	replayDone    = "done"
)

// ClaimState is the outcome of claiming a callback body.
type ClaimState int

const (
	// ClaimFresh means this request owns the callback and must process it.
	ClaimFresh ClaimState = iota
	// ClaimInProgress means another request holds the claim and has not finished.
	ClaimInProgress
	// ClaimDone means the callback was already processed successfully.
	ClaimDone
)

// ReplayStore remembers callback bodies that were already processed.
type ReplayStore interface {
	// Claim marks key pending for ttl unless it is already claimed.
	Claim(ctx context.Context, key string, ttl time.Duration) (ClaimState, error)
	// Complete marks a claimed key done for ttl.
	Complete(ctx context.Context, key string, ttl time.Duration) error
	// Forget drops a claim so the gateway's retry is processed again.
	Forget(ctx context.Context, key string) error
}

// RedisReplay is a ReplayStore backed by SETNX.
type RedisReplay struct {
	Client redis.Cmdable
}

// Claim implements ReplayStore.
func (r RedisReplay) Claim(ctx context.Context, key string, ttl time.Duration) (ClaimState, error) {
	ok, err := r.Client.SetNX(ctx, replayKeyPrefix+key, replayPending, ttl).Result()
	if err != nil {
		return ClaimInProgress, err
	}
	if ok {
		return ClaimFresh, nil
	}
	state, err := r.Client.Get(ctx, replayKeyPrefix+key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// expired between SETNX and GET; the retry will claim it
		return ClaimInProgress, nil
	case err != nil:
		return ClaimInProgress, err
	case state == replayDone:
		return ClaimDone, nil
	default:
		return ClaimInProgress, nil
	}
}

// Complete implements ReplayStore.
func (r RedisReplay) Complete(ctx context.Context, key string, ttl time.Duration) error {
	return r.Client.Set(ctx, replayKeyPrefix+key, replayDone, ttl).Err()
}

// Forget implements ReplayStore.
func (r RedisReplay) Forget(ctx context.Context, key string) error {
	return r.Client.Del(ctx, replayKeyPrefix+key).Err()
}
