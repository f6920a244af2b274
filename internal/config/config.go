// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as the TCP bind address, database connection, logging, the admin HTTP
// surface, per-connection rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Recognized APP_ENV values.
const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

// Recognized DB_INIT_MODE values.
const (
	DBInitSchema = "schema"
	DBInitNever  = "never"
)

// CORSConfig defines Cross-Origin Resource Sharing settings for the admin API.
type CORSConfig struct {
	AllowedOrigins []string
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-chat-server")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// TCP server
	Host        string        // SERVER_HOST, bind address for the chat listener
	Port        int           // SERVER_PORT, bind port for the chat listener
	ReadTimeout time.Duration // per-connection read deadline; a timeout alone never ends a session

	// App
	Env        string // dev|prod; dev enables seed hooks
	DBInitMode string // schema|never
	DBDSN      string // SQLite path / DSN
	DBUsername string // accepted for parity with server-managed stores; unused by sqlite
	DBPassword string

	// Admin HTTP surface (health, metrics, online snapshot)
	HTTPPort string // just the number
	GinMode  string // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Per-connection message rate limiting (0 RPS disables)
	RateRPS   float64
	RateBurst int

	// Web protection for the admin API
	CORS CORSConfig

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
		// TCP server
		Host:        getenv("SERVER_HOST", "localhost"),
		Port:        getint("SERVER_PORT", 8080),
		ReadTimeout: getdur("READ_TIMEOUT", 2*time.Second),

		// App
		Env:        strings.ToLower(getenv("APP_ENV", "prod")),
		DBInitMode: strings.ToLower(getenv("DB_INIT_MODE", "schema")),
		DBDSN:      getenv("DB_DSN", "chat.db"),
		DBUsername: getenv("DB_USERNAME", ""),
		DBPassword: getenv("DB_PASSWORD", ""),

		// Admin HTTP
		HTTPPort: getenv("HTTP_PORT", "8081"),
		GinMode:  strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 0),
		RateBurst: getint("RATE_BURST", 1),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-chat-server"),
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
	if strings.TrimSpace(cfg.Host) == "" {
		return cfg, errors.New("SERVER_HOST must not be empty")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return cfg, errors.New("SERVER_PORT must be in 1..65535")
	}
	if cfg.ReadTimeout <= 0 {
		return cfg, errors.New("READ_TIMEOUT must be a positive duration")
	}
	switch cfg.Env {
	case EnvDev, EnvProd:
	default:
		return cfg, errors.New("APP_ENV must be dev or prod")
	}
	switch cfg.DBInitMode {
	case DBInitSchema, DBInitNever:
	default:
		return cfg, errors.New("DB_INIT_MODE must be schema or never")
	}
	if strings.TrimSpace(cfg.DBDSN) == "" {
		return cfg, errors.New("DB_DSN must not be empty")
	}
	if strings.TrimSpace(cfg.HTTPPort) == "" {
		return cfg, errors.New("HTTP_PORT must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
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
