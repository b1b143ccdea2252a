package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/concordpay-gateway/internal/app"
	"github.com/noah-isme/concordpay-gateway/internal/config"
	"github.com/noah-isme/concordpay-gateway/internal/events"
	"github.com/noah-isme/concordpay-gateway/internal/notify"
	"github.com/noah-isme/concordpay-gateway/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	rdb, err := app.OpenRedis(startCtx, cfg.RedisURL, logger, false)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	taskOpt, err := app.TaskRedisOpt(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("configure task queue")
	}

	deps := &app.Dependencies{Config: cfg, Logger: logger, Redis: rdb}
	eventWorker := notify.EventWorker{
		Notifiers: []events.Notifier{
			notify.EmailNotifier{
				Mail:    notify.LogSender{Logger: logger.With().Str("component", "mail").Logger(), From: cfg.Notify.EmailFrom},
				Enabled: cfg.Notify.EmailEnabled,
				TopicToggles: map[string]bool{
					events.TopicOrderPaid: true,
				},
			},
		},
		Locker:  deps.Locker(),
		LockTTL: cfg.Lock.TTL,
		Logger:  logger,
	}

	mux := asynq.NewServeMux()
	eventWorker.Register(mux)

	srv := asynq.NewServer(taskOpt, asynq.Config{
		Concurrency: cfg.Notify.WorkerConcurrency,
		Logger:      asynqLogger{logger: logger},
	})
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	logger.Info().Int("concurrency", cfg.Notify.WorkerConcurrency).Msg("worker starting")

	<-ctx.Done()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

