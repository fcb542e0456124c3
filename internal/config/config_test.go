package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if v := envInt("TEST_INT", 0); v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	if v := envInt("TEST_INT_MISSING", 99); v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	if v := envInt("TEST_INT_BAD", 7); v != 7 {
		t.Fatalf("expected fallback 7 for non-integer value, got %d", v)
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "false")
	if envBool("TEST_BOOL", true) {
		t.Fatal("expected false")
	}
	t.Setenv("TEST_BOOL_BAD", "maybe")
	if !envBool("TEST_BOOL_BAD", true) {
		t.Fatal("expected fallback true for non-boolean value")
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	if v := envDuration("TEST_DUR", 0); v != 5*time.Second {
		t.Fatalf("expected 5s, got %s", v)
	}
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	if v := envDuration("TEST_DUR_BAD", time.Minute); v != time.Minute {
		t.Fatalf("expected fallback 1m for invalid duration, got %s", v)
	}
}

func TestEnvList(t *testing.T) {
	t.Setenv("TEST_LIST", "https://a.example, https://b.example ,")
	got := envList("TEST_LIST", nil)
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("unexpected list: %v", got)
	}
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to fail without JWT_SECRET")
	}
}

func TestLoadSchedulerIntervalMinutes(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("SCHEDULER_INTERVAL_MINUTES", "1")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.SchedulerInterval != time.Minute {
		t.Fatalf("expected SCHEDULER_INTERVAL_MINUTES=1 to yield 1m, got %s", cfg.SchedulerInterval)
	}

	// The duration alias applies when the minutes form is absent.
	t.Setenv("SCHEDULER_INTERVAL_MINUTES", "")
	t.Setenv("SCHEDULER_INTERVAL", "90s")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.SchedulerInterval != 90*time.Second {
		t.Fatalf("expected SCHEDULER_INTERVAL=90s to yield 90s, got %s", cfg.SchedulerInterval)
	}

	// Minutes win when both forms are set.
	t.Setenv("SCHEDULER_INTERVAL_MINUTES", "2")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.SchedulerInterval != 2*time.Minute {
		t.Fatalf("expected minutes form to win, got %s", cfg.SchedulerInterval)
	}
}

func TestSlogLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := (Config{LogLevel: tc.in}).SlogLevel(); got != tc.want {
			t.Fatalf("SlogLevel(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.RateLimitPerMinute != 60 {
		t.Fatalf("expected default rate limit 60, got %d", cfg.RateLimitPerMinute)
	}
	if !cfg.SchedulerEnabled {
		t.Fatal("expected scheduler enabled by default")
	}
	if cfg.SchedulerInterval != 5*time.Minute {
		t.Fatalf("expected default scheduler interval 5m, got %s", cfg.SchedulerInterval)
	}
}
