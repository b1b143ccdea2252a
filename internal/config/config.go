package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/noah-isme/concordpay-gateway/internal/concordpay"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string
	DBAutoMigrate      bool

	ConcordPay ConcordPay
	Site       Site
	HostAPI    HostAPI
	Webhook    Webhook
	RateLimit  RateLimit
	Lock       Lock
	Notify     Notify
}

// ConcordPay holds the merchant credentials and checkout URLs.
type ConcordPay struct {
	MerchantID         string
	SecretKey          string
	GatewayURL         string
	WidgetEnabled      bool
	WidgetScriptURL    string
	ApproveURL         string
	ApproveURLOverride string
	DeclineURL         string
	CancelURL          string
	CallbackURL        string
	Language           string
	AllowedCurrencies  []string
}

// Site describes the public storefront the gateway redirects back to.
type Site struct {
	URL  string
	Host string
}

// HostAPI configures bearer tokens accepted from the host shop.
type HostAPI struct {
	JWTSecret string
	Issuer    string
	Audience  string
}

// Webhook configures callback intake.
type Webhook struct {
	ReplayTTL    time.Duration
	MaxBodyBytes int64
}

// RateLimit configures callback throttling.
type RateLimit struct {
	Limit    int
	Window   time.Duration
	Strategy string
}

// Lock configures the per-order processing lock.
type Lock struct {
	TTL          time.Duration
	RetryBackoff time.Duration
}

// Notify configures the event worker.
type Notify struct {
	EmailEnabled      bool
	EmailFrom         string
	WorkerConcurrency int
}

const (
	defaultWidgetScriptURL = "https://pay.concord.ua/pay-widget/dist/app.js"
	callbackPath           = "/api/v1/webhooks/concordpay"
)

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	siteURL := strings.TrimRight(strings.TrimSpace(k.String("SITE_URL")), "/")
	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		DBAutoMigrate:      parseBool(k.String("DB_AUTO_MIGRATE")),
		ConcordPay: ConcordPay{
			MerchantID:         strings.TrimSpace(k.String("CONCORDPAY_MERCHANT_ID")),
			SecretKey:          k.String("CONCORDPAY_SECRET_KEY"),
			GatewayURL:         valueOrDefault(k.String("CONCORDPAY_URL"), concordpay.DefaultGatewayURL),
			WidgetEnabled:      parseBool(k.String("CONCORDPAY_WIDGET_ENABLED")),
			WidgetScriptURL:    valueOrDefault(k.String("CONCORDPAY_WIDGET_SCRIPT_URL"), defaultWidgetScriptURL),
			ApproveURL:         strings.TrimSpace(k.String("CONCORDPAY_APPROVE_URL")),
			ApproveURLOverride: strings.TrimSpace(k.String("CONCORDPAY_APPROVE_URL_OVERRIDE")),
			DeclineURL:         valueOrDefault(k.String("CONCORDPAY_DECLINE_URL"), siteURL+"/"),
			CancelURL:          valueOrDefault(k.String("CONCORDPAY_CANCEL_URL"), siteURL+"/"),
			CallbackURL:        valueOrDefault(k.String("CONCORDPAY_CALLBACK_URL"), siteURL+callbackPath),
			Language:           valueOrDefault(k.String("CONCORDPAY_LANGUAGE"), "uk"),
			AllowedCurrencies:  splitAndTrim(valueOrDefault(k.String("CONCORDPAY_ALLOWED_CURRENCIES"), "UAH")),
		},
		Site: Site{
			URL:  siteURL,
			Host: valueOrDefault(k.String("SITE_HOST"), hostOf(siteURL)),
		},
		HostAPI: HostAPI{
			JWTSecret: k.String("HOST_API_JWT_SECRET"),
			Issuer:    strings.TrimSpace(k.String("HOST_API_JWT_ISSUER")),
			Audience:  strings.TrimSpace(k.String("HOST_API_JWT_AUDIENCE")),
		},
		Webhook: Webhook{
			ReplayTTL:    parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
			MaxBodyBytes: int64(parseInt(k.String("WEBHOOK_MAX_BODY_BYTES"), 64<<10)),
		},
		RateLimit: RateLimit{
			Limit:    parseInt(k.String("CALLBACK_RATE_LIMIT"), 120),
			Window:   parseDuration(k.String("CALLBACK_RATE_WINDOW"), "1m"),
			Strategy: strings.ToLower(valueOrDefault(k.String("RATE_LIMIT_STRATEGY"), "sliding")),
		},
		Lock: Lock{
			TTL:          parseDuration(k.String("LOCK_TTL"), "10s"),
			RetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		},
		Notify: Notify{
			EmailEnabled:      parseBool(k.String("NOTIFY_EMAIL_ENABLED")),
			EmailFrom:         valueOrDefault(k.String("NOTIFY_EMAIL_FROM"), "noreply@localhost"),
			WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 5),
		},
	}

	if cfg.ConcordPay.MerchantID == "" {
		return nil, errors.New("CONCORDPAY_MERCHANT_ID is required")
	}
	if cfg.ConcordPay.SecretKey == "" {
		return nil, errors.New("CONCORDPAY_SECRET_KEY is required")
	}
	switch cfg.RateLimit.Strategy {
	case "sliding", "fixed":
	default:
		return nil, fmt.Errorf("RATE_LIMIT_STRATEGY %q is not supported", cfg.RateLimit.Strategy)
	}

	return cfg, nil
}

// Settings returns the request builder settings derived from the configuration.
func (c *Config) Settings() concordpay.Settings {
	return concordpay.Settings{
		MerchantID:         c.ConcordPay.MerchantID,
		SecretKey:          c.ConcordPay.SecretKey,
		Language:           c.ConcordPay.Language,
		SiteURL:            c.Site.URL,
		SiteHost:           c.Site.Host,
		ApproveURL:         c.ConcordPay.ApproveURL,
		ApproveURLOverride: c.ConcordPay.ApproveURLOverride,
		DeclineURL:         c.ConcordPay.DeclineURL,
		CancelURL:          c.ConcordPay.CancelURL,
		CallbackURL:        c.ConcordPay.CallbackURL,
		AllowedCurrencies:  c.ConcordPay.AllowedCurrencies,
	}
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func hostOf(siteURL string) string {
	host := siteURL
	if _, rest, ok := strings.Cut(host, "://"); ok {
		host = rest
	}
	host, _, _ = strings.Cut(host, "/")
	return host
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
