// Package app assembles the infrastructure shared by the API and worker
// binaries.
package app

import (
	"context"
	"fmt"

	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/concordpay-gateway/internal/cart"
	"github.com/noah-isme/concordpay-gateway/internal/common"
	"github.com/noah-isme/concordpay-gateway/internal/concordpay"
	"github.com/noah-isme/concordpay-gateway/internal/config"
	"github.com/noah-isme/concordpay-gateway/internal/db"
	"github.com/noah-isme/concordpay-gateway/internal/events"
	"github.com/noah-isme/concordpay-gateway/internal/lock"
	"github.com/noah-isme/concordpay-gateway/internal/notify"
	"github.com/noah-isme/concordpay-gateway/internal/order"
	"github.com/noah-isme/concordpay-gateway/internal/ratelimit"
)

const callbackLimitPrefix = "concordpay:ratelimit:callback:"

// Dependencies enumerates the services shared across modules.
type Dependencies struct {
	Config    *config.Config
	Logger    zerolog.Logger
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Validator *validator.Validate
}

// Options tunes Open.
type Options struct {
	// RedisMetrics enables redisotel metric instrumentation.
	RedisMetrics bool
	// Migrate applies pending schema migrations after connecting.
	Migrate bool
}

// Open connects Postgres and Redis. Callers own Close.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Dependencies, error) {
	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if opts.Migrate {
		if err := db.Migrate(pool); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info().Msg("database migrations applied")
	}

	rdb, err := OpenRedis(ctx, cfg.RedisURL, logger, opts.RedisMetrics)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &Dependencies{
		Config:    cfg,
		Logger:    logger,
		DB:        pool,
		Redis:     rdb,
		Validator: common.NewValidator(),
	}, nil
}

// OpenRedis connects a Redis client with OpenTelemetry instrumentation.
// Instrumentation failures are logged and otherwise ignored.
func OpenRedis(ctx context.Context, url string, logger zerolog.Logger, metrics bool) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Close releases the connections.
func (d *Dependencies) Close() {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close redis")
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
}

// Orders returns the Postgres order repository.
func (d *Dependencies) Orders() *order.Store {
	return order.NewStore(d.DB)
}

// Carts returns the Redis cart session store.
func (d *Dependencies) Carts() cart.Store {
	return cart.Store{Client: d.Redis}
}

// Locker returns the per-key Redis lock.
func (d *Dependencies) Locker() lock.Locker {
	return lock.Locker{R: d.Redis, RetryBackoff: d.Config.Lock.RetryBackoff}
}

// Verifier returns the callback verifier bound to the order and cart stores.
func (d *Dependencies) Verifier() *concordpay.Verifier {
	return concordpay.NewVerifier(d.Config.ConcordPay.MerchantID, d.Config.ConcordPay.SecretKey, d.Orders(), d.Carts())
}

// Builder returns the payment request builder.
func (d *Dependencies) Builder() *concordpay.Builder {
	return concordpay.NewBuilder(d.Config.Settings())
}

// EventBus returns a bus persisting to payment_events and scheduling worker
// tasks through tasks.
func (d *Dependencies) EventBus(tasks notify.Enqueuer) *events.Bus {
	return &events.Bus{
		Store:     events.PGStore{DB: d.DB},
		Scheduler: notify.Scheduler{Client: tasks},
	}
}

// CallbackLimiter returns the limiter selected by RATE_LIMIT_STRATEGY.
func (d *Dependencies) CallbackLimiter() (ratelimit.Allower, error) {
	return NewCallbackLimiter(d.Config.RateLimit.Strategy, d.Redis)
}

// NewCallbackLimiter builds a sliding-window or fixed-window limiter on rdb.
func NewCallbackLimiter(strategy string, rdb *redis.Client) (ratelimit.Allower, error) {
	switch strategy {
	case "fixed":
		return ratelimit.NewFixedWindow(rdb, callbackLimitPrefix)
	case "sliding", "":
		return ratelimit.Limiter{Client: rdb, Prefix: callbackLimitPrefix}, nil
	default:
		return nil, fmt.Errorf("unknown rate limit strategy %q", strategy)
	}
}

// TaskRedisOpt returns the asynq connection options for cfg.
func TaskRedisOpt(cfg *config.Config) (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse task redis url: %w", err)
	}
	return opt, nil
}
