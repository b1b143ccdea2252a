package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// FixedWindow adapts a ulule limiter store to Allower. Counters reset at the
// end of each period instead of sliding.
type FixedWindow struct {
	Store limiter.Store
}

// NewFixedWindow builds a fixed window limiter backed by Redis, or by process
// memory when client is nil.
func NewFixedWindow(client *redis.Client, prefix string) (FixedWindow, error) {
	if client == nil {
		return FixedWindow{Store: memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: prefix})}, nil
	}
	store, err := limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return FixedWindow{}, err
	}
	return FixedWindow{Store: store}, nil
}

// Allow implements Allower.
func (f FixedWindow) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	if f.Store == nil || max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}
	l := limiter.New(f.Store, limiter.Rate{Period: window, Limit: int64(max)})
	res, err := l.Get(ctx, key)
	if err != nil {
		return false, 0, time.Now().Add(window), err
	}
	return !res.Reached, int(res.Remaining), time.Unix(res.Reset, 0), nil
}
