package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/concordpay-gateway/internal/config"
	"github.com/noah-isme/concordpay-gateway/internal/ratelimit"
)

func TestNewCallbackLimiterStrategies(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	sliding, err := NewCallbackLimiter("sliding", rdb)
	require.NoError(t, err)
	require.IsType(t, ratelimit.Limiter{}, sliding)

	fixed, err := NewCallbackLimiter("fixed", rdb)
	require.NoError(t, err)
	require.IsType(t, ratelimit.FixedWindow{}, fixed)

	for _, limiter := range []ratelimit.Allower{sliding, fixed} {
		ok, _, _, err := limiter.Allow(context.Background(), "1.2.3.4", time.Minute, 1)
		require.NoError(t, err)
		require.True(t, ok)
		ok, _, _, err = limiter.Allow(context.Background(), "1.2.3.4", time.Minute, 1)
		require.NoError(t, err)
		require.False(t, ok)
	}

	_, err = NewCallbackLimiter("leaky", rdb)
	require.Error(t, err)
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := OpenRedis(context.Background(), "redis://"+mr.Addr()+"/0", zerolog.Nop(), false)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = OpenRedis(context.Background(), "not a url", zerolog.Nop(), false)
	require.Error(t, err)
}

func TestTaskRedisOpt(t *testing.T) {
	opt, err := TaskRedisOpt(&config.Config{RedisURL: "redis://localhost:6379/2"})
	require.NoError(t, err)
	client, ok := opt.(asynq.RedisClientOpt)
	require.True(t, ok)
	require.Equal(t, "localhost:6379", client.Addr)
	require.Equal(t, 2, client.DB)
}

func TestDependenciesWiring(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{
		ConcordPay: config.ConcordPay{MerchantID: "merchant", SecretKey: "s3cr3t", AllowedCurrencies: []string{"UAH"}},
		Site:       config.Site{URL: "https://shop.example.com", Host: "shop.example.com"},
		Lock:       config.Lock{RetryBackoff: time.Millisecond},
		RateLimit:  config.RateLimit{Strategy: "fixed"},
	}
	deps := &Dependencies{Config: cfg, Logger: zerolog.Nop(), Redis: rdb}

	require.Equal(t, "merchant", deps.Verifier().MerchantID)
	require.Equal(t, "shop.example.com", deps.Builder().Settings.SiteHost)
	require.Equal(t, time.Millisecond, deps.Locker().RetryBackoff)
	limiter, err := deps.CallbackLimiter()
	require.NoError(t, err)
	require.IsType(t, ratelimit.FixedWindow{}, limiter)
	require.NotNil(t, deps.EventBus(nil).Store)
}
