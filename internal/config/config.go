// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, storage, order limits, the staff bot, rate limiting and tracing.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "loyaltyd")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// TelegramConfig configures the staff bot. An empty Token disables it and
// staff messages go to the log instead.
type TelegramConfig struct {
	Token       string // TELEGRAM_TOKEN
	Mode        string // TELEGRAM_MODE polling|webhook
	WebhookURL  string // TELEGRAM_WEBHOOK_URL
	PollTimeout int    // TELEGRAM_POLL_TIMEOUT seconds
}

// NotifyConfig bounds staff notification delivery.
type NotifyConfig struct {
	Timeout     time.Duration // NOTIFY_TIMEOUT, whole fan-out
	SendTimeout time.Duration // NOTIFY_SEND_TIMEOUT, per copy
	Concurrency int           // NOTIFY_CONCURRENCY
	Language    string        // NOTIFY_LANGUAGE BCP 47 tag
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DBDriver string // sqlite|postgres
	DBPath   string // SQLite path
	DBDSN    string // postgres connection string

	// Orders
	MaxActiveOrders int           // per account, pending/approved/preparing
	MaxItemQty      int           // per line
	PendingTTL      time.Duration // pending orders older than this are cancelled
	SweepInterval   time.Duration // 0 disables the sweeper

	// Membership tiers, "name:min,..." and "name:multiplier,..."
	TierThresholds  string
	TierMultipliers string

	// Staff channel
	Telegram TelegramConfig
	Notify   NotifyConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DBDriver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
		DBPath:   getenv("DB_PATH", "loyalty.db"),
		DBDSN:    getenv("DB_DSN", ""),

		// Orders
		MaxActiveOrders: getint("MAX_ACTIVE_ORDERS", 3),
		MaxItemQty:      getint("MAX_ITEM_QTY", 10),
		PendingTTL:      getdur("PENDING_TTL", 30*time.Minute),
		SweepInterval:   getdur("SWEEP_INTERVAL", time.Minute),

		TierThresholds:  getenv("TIER_THRESHOLDS", "bronce:0,plata:500,oro:1500,platino:5000"),
		TierMultipliers: getenv("TIER_MULTIPLIERS", "bronce:1,plata:1.25,oro:1.5,platino:2"),

		Telegram: TelegramConfig{
			Token:       strings.TrimSpace(getenv("TELEGRAM_TOKEN", "")),
			Mode:        strings.ToLower(getenv("TELEGRAM_MODE", "polling")),
			WebhookURL:  getenv("TELEGRAM_WEBHOOK_URL", ""),
			PollTimeout: getint("TELEGRAM_POLL_TIMEOUT", 30),
		},
		Notify: NotifyConfig{
			Timeout:     getdur("NOTIFY_TIMEOUT", 15*time.Second),
			SendTimeout: getdur("NOTIFY_SEND_TIMEOUT", 5*time.Second),
			Concurrency: getint("NOTIFY_CONCURRENCY", 8),
			Language:    getenv("NOTIFY_LANGUAGE", "es"),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "loyaltyd"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DBDriver {
	case "sqlite":
		if strings.TrimSpace(cfg.DBPath) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DBDSN) == "" {
			return cfg, errors.New("DB_DSN is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.MaxActiveOrders < 1 {
		return cfg, errors.New("MAX_ACTIVE_ORDERS must be >= 1")
	}
	if cfg.MaxItemQty < 1 {
		return cfg, errors.New("MAX_ITEM_QTY must be >= 1")
	}
	if cfg.PendingTTL <= 0 {
		return cfg, errors.New("PENDING_TTL must be > 0")
	}
	if cfg.SweepInterval < 0 {
		return cfg, errors.New("SWEEP_INTERVAL must be >= 0")
	}
	if strings.TrimSpace(cfg.TierThresholds) == "" {
		return cfg, errors.New("TIER_THRESHOLDS must not be empty")
	}
	switch cfg.Telegram.Mode {
	case "polling":
	case "webhook":
		if cfg.Telegram.Token != "" && !strings.HasPrefix(cfg.Telegram.WebhookURL, "https://") {
			return cfg, errors.New("TELEGRAM_WEBHOOK_URL must be an https URL in webhook mode")
		}
	default:
		return cfg, errors.New("TELEGRAM_MODE must be one of: polling, webhook")
	}
	if cfg.Telegram.PollTimeout < 1 {
		return cfg, errors.New("TELEGRAM_POLL_TIMEOUT must be >= 1")
	}
	if cfg.Notify.Timeout <= 0 || cfg.Notify.SendTimeout <= 0 {
		return cfg, errors.New("notification timeouts must be positive durations")
	}
	if cfg.Notify.Concurrency < 1 {
		return cfg, errors.New("NOTIFY_CONCURRENCY must be >= 1")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
