package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/concordpay-gateway/internal/app"
	"github.com/noah-isme/concordpay-gateway/internal/auth"
	"github.com/noah-isme/concordpay-gateway/internal/cart"
	"github.com/noah-isme/concordpay-gateway/internal/checkout"
	"github.com/noah-isme/concordpay-gateway/internal/config"
	"github.com/noah-isme/concordpay-gateway/internal/health"
	"github.com/noah-isme/concordpay-gateway/internal/obs"
	"github.com/noah-isme/concordpay-gateway/internal/order"
	"github.com/noah-isme/concordpay-gateway/internal/payment"
	"github.com/noah-isme/concordpay-gateway/internal/ratelimit"
	"github.com/noah-isme/concordpay-gateway/internal/security"
)

const hostAPIBodyLimit = 1 << 20

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "concordpay")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "concordpay-gateway",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	deps, err := app.Open(startCtx, cfg, logger, app.Options{RedisMetrics: metricsEnabled, Migrate: cfg.DBAutoMigrate})
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()

	taskOpt, err := app.TaskRedisOpt(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("configure task queue")
	}
	tasks := asynq.NewClient(taskOpt)
	defer func() {
		if err := tasks.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	orders := deps.Orders()
	carts := deps.Carts()
	bus := deps.EventBus(tasks)

	checkoutHandler := &checkout.Handler{
		Orders:          orders,
		Builder:         deps.Builder(),
		Carts:           carts,
		GatewayURL:      cfg.ConcordPay.GatewayURL,
		WidgetEnabled:   cfg.ConcordPay.WidgetEnabled,
		WidgetScriptURL: cfg.ConcordPay.WidgetScriptURL,
		Logger:          logger.With().Str("component", "checkout").Logger(),
	}
	webhookHandler := payment.Webhook{
		Verifier:  deps.Verifier(),
		Validate:  deps.Validator,
		Replay:    payment.RedisReplay{Client: deps.Redis},
		ReplayTTL: cfg.Webhook.ReplayTTL,
		Locker:    deps.Locker(),
		LockTTL:   cfg.Lock.TTL,
		Events:    bus,
		Logger:    logger.With().Str("component", "webhook").Logger(),
	}
	callbackLimiter, err := deps.CallbackLimiter()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise callback rate limiter")
	}
	callbackLimit := ratelimit.Handler{
		Limiter: callbackLimiter,
		Config: ratelimit.Config{
			Key:    ratelimit.ByClientIP(""),
			Window: cfg.RateLimit.Window,
			Max:    cfg.RateLimit.Limit,
		},
		OnError: func(err error) { logger.Warn().Err(err).Msg("callback rate limiter unavailable") },
	}

	var hostAuth *auth.Middleware
	if strings.TrimSpace(cfg.HostAPI.JWTSecret) != "" {
		authService, err := auth.NewService(auth.Config{
			Secret:    cfg.HostAPI.JWTSecret,
			Issuer:    cfg.HostAPI.Issuer,
			Audience:  cfg.HostAPI.Audience,
			ClockSkew: 30 * time.Second,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise host api auth")
		}
		hostAuth = &auth.Middleware{Service: authService}
	} else {
		logger.Warn().Msg("HOST_API_JWT_SECRET not set; host api disabled")
	}
	orderHandler := &order.Handler{
		Orders:   orders,
		Carts:    carts,
		Validate: deps.Validator,
		Logger:   logger.With().Str("component", "orders").Logger(),
	}
	cartHandler := &cart.Handler{Store: carts}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      health.Deps{DB: deps.DB, Redis: deps.Redis},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	secureHTTPS := cfg.AppEnv == "production"
	r.Route("/checkout", func(c chi.Router) {
		c.Use(security.Headers{
			Enable:                true,
			EnableHSTS:            secureHTTPS,
			ContentSecurityPolicy: security.CheckoutCSP(cfg.ConcordPay.GatewayURL, cfg.ConcordPay.WidgetScriptURL),
		}.Middleware)
		c.Get("/message", checkoutHandler.Message)
		c.Get("/{orderId}/pay", checkoutHandler.Pay)
	})

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.Headers{Enable: true, EnableHSTS: secureHTTPS}.Middleware)

		v.With(
			security.BodyLimit{Max: cfg.Webhook.MaxBodyBytes}.Middleware,
			callbackLimit.Middleware,
		).Post("/webhooks/concordpay", webhookHandler.Handle)

		if hostAuth == nil {
			return
		}
		v.Group(func(host chi.Router) {
			host.Use(cors.Handler(cors.Options{
				AllowedOrigins: allowedOrigins(cfg),
				AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
				AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
				MaxAge:         300,
			}))
			host.Use(hostAuth.RequireAuth)
			host.Use(security.BodyLimit{Max: hostAPIBodyLimit}.Middleware)
			host.Post("/orders", orderHandler.Create)
			host.Get("/orders/{orderId}", orderHandler.Get)
			host.Get("/carts/{session}", cartHandler.Get)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
		health.SetReady(false)
		logger.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_TIMEOUT_MS", 15000))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
		logger.Info().Msg("server stopped")
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
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

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
