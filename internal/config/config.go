// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Environment  string // "development", "staging", or "production"

	// Database settings. When DatabaseURL is empty the service falls back to
	// an embedded SQLite database at SQLitePath.
	DatabaseURL string
	SQLitePath  string

	// CORS.
	AllowedOrigins []string

	// Outbound probe settings.
	UserAgent    string
	ProbeTimeout time.Duration

	// External data source credentials. All optional; the matching probe
	// degrades or is skipped when a key is absent.
	GitHubToken string
	NVDAPIKey   string
	OTXAPIKey   string

	// LLM summarizer. Optional; the deterministic fallback is used when empty.
	LLMAPIKey string
	LLMModel  string

	// Auth settings.
	JWTSecret string

	// Credential sealing. When empty the key is derived from JWTSecret.
	EncryptionKey string

	// Rate limiting.
	RateLimitPerMinute int

	// Scheduler settings.
	SchedulerEnabled  bool
	SchedulerInterval time.Duration

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("PORT", 8080),
		ReadTimeout:         envDuration("THREATVEIL_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("THREATVEIL_WRITE_TIMEOUT", 60*time.Second),
		Environment:         envStr("ENVIRONMENT", "development"),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		SQLitePath:          envStr("THREATVEIL_SQLITE_PATH", "threatveil.db"),
		AllowedOrigins:      envList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		UserAgent:           envStr("USER_AGENT", "ThreatVeil-Scanner/1.0"),
		ProbeTimeout:        envDuration("THREATVEIL_PROBE_TIMEOUT", 10*time.Second),
		GitHubToken:         envStr("GITHUB_TOKEN", ""),
		NVDAPIKey:           envStr("NVD_API_KEY", ""),
		OTXAPIKey:           envStr("OTX_API_KEY", ""),
		LLMAPIKey:           envStr("LLM_API_KEY", ""),
		LLMModel:            envStr("LLM_MODEL", "gpt-4o-mini"),
		JWTSecret:           envStr("JWT_SECRET", ""),
		EncryptionKey:       envStr("ENCRYPTION_KEY", ""),
		RateLimitPerMinute:  envInt("RATE_LIMIT_PER_MINUTE", 60),
		SchedulerEnabled:    envBool("SCHEDULER_ENABLED", true),
		SchedulerInterval:   schedulerInterval(),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "threatveil"),
		LogLevel:            envStr("LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(envInt("THREATVEIL_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// schedulerInterval reads the scheduler tick. SCHEDULER_INTERVAL_MINUTES
// (integer minutes) is the primary form; SCHEDULER_INTERVAL accepts a Go
// duration as an alias. The minutes form wins when both are set.
func schedulerInterval() time.Duration {
	if m := envInt("SCHEDULER_INTERVAL_MINUTES", 0); m > 0 {
		return time.Duration(m) * time.Minute
	}
	return envDuration("SCHEDULER_INTERVAL", 5*time.Minute)
}

// SlogLevel maps LogLevel onto a slog level. Unrecognized values fall back
// to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required")
	}
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		return fmt.Errorf("config: one of DATABASE_URL or THREATVEIL_SQLITE_PATH is required")
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("config: RATE_LIMIT_PER_MINUTE must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: THREATVEIL_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
