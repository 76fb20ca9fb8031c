// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes client settings such
// as backend endpoints, request throttling, the local OAuth callback server,
// logging, local cache storage, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// OAuthConfig defines the browser-based Google login flow settings.
type OAuthConfig struct {
	// CallbackAddr is the loopback address the callback server listens on.
	CallbackAddr string // OAUTH_CALLBACK_ADDR (e.g. "127.0.0.1:8765")
	// Timeout is the absolute ceiling for one login attempt.
	Timeout time.Duration // OAUTH_TIMEOUT
	// PollInterval controls how often the flow re-checks the session while
	// waiting for the browser callback.
	PollInterval time.Duration // OAUTH_POLL_INTERVAL
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the client.
type Config struct {
	// Remote collaborators
	BackendURL string        // BACKEND_URL, base URL of the assistant backend
	RAGURL     string        // RAG_URL, base URL of the RAG query engine
	Timeout    time.Duration // HTTP_TIMEOUT per request

	// Locale sent as Accept-Language on every request.
	Locale language.Tag // LOCALE (BCP 47, e.g. "es-ES")

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Local cache (conversation list, pending verification email)
	CachePath string // CACHE_PATH, SQLite file

	// Outbound request throttle
	RateRPS   float64 // RATE_RPS, tokens per second (>= 0, 0 disables)
	RateBurst int     // RATE_BURST, bucket size (>= 1)

	// Browser login
	OAuth OAuthConfig

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
		BackendURL: strings.TrimRight(getenv("BACKEND_URL", "http://localhost:3000"), "/"),
		RAGURL:     strings.TrimRight(getenv("RAG_URL", "http://localhost:8010"), "/"),
		Timeout:    getdur("HTTP_TIMEOUT", 30*time.Second),

		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		CachePath: getenv("CACHE_PATH", "assistant.db"),

		RateRPS:   getfloat("RATE_RPS", 10.0),
		RateBurst: getint("RATE_BURST", 20),

		OAuth: OAuthConfig{
			CallbackAddr: getenv("OAUTH_CALLBACK_ADDR", "127.0.0.1:8765"),
			Timeout:      getdur("OAUTH_TIMEOUT", 5*time.Minute),
			PollInterval: getdur("OAUTH_POLL_INTERVAL", time.Second),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "thesis-assistant-client"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	cfg.Locale = language.Und
	if raw := getenv("LOCALE", ""); raw != "" {
		tag, err := language.Parse(raw)
		if err != nil {
			return cfg, errors.New("LOCALE must be a valid BCP 47 tag")
		}
		cfg.Locale = tag
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if !isHTTPURL(cfg.BackendURL) {
		return cfg, errors.New("BACKEND_URL must be an http(s) URL")
	}
	if !isHTTPURL(cfg.RAGURL) {
		return cfg, errors.New("RAG_URL must be an http(s) URL")
	}
	if cfg.Timeout <= 0 {
		return cfg, errors.New("HTTP_TIMEOUT must be a positive duration")
	}
	if strings.TrimSpace(cfg.CachePath) == "" {
		return cfg, errors.New("CACHE_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if strings.TrimSpace(cfg.OAuth.CallbackAddr) == "" {
		return cfg, errors.New("OAUTH_CALLBACK_ADDR must not be empty")
	}
	if cfg.OAuth.Timeout <= 0 {
		return cfg, errors.New("OAUTH_TIMEOUT must be > 0")
	}
	if cfg.OAuth.PollInterval <= 0 {
		return cfg, errors.New("OAUTH_POLL_INTERVAL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
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
