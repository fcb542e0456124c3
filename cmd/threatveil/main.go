package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/threatveil/threatveil/api"
	"github.com/threatveil/threatveil/internal/auth"
	"github.com/threatveil/threatveil/internal/cache"
	"github.com/threatveil/threatveil/internal/config"
	"github.com/threatveil/threatveil/internal/connector"
	"github.com/threatveil/threatveil/internal/decision"
	"github.com/threatveil/threatveil/internal/orgrisk"
	"github.com/threatveil/threatveil/internal/probe"
	"github.com/threatveil/threatveil/internal/ratelimit"
	"github.com/threatveil/threatveil/internal/scan"
	"github.com/threatveil/threatveil/internal/scheduler"
	"github.com/threatveil/threatveil/internal/server"
	"github.com/threatveil/threatveil/internal/storage"
	"github.com/threatveil/threatveil/internal/telemetry"
	"github.com/threatveil/threatveil/internal/verify"
	"github.com/threatveil/threatveil/internal/webhook"
	"github.com/threatveil/threatveil/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		return 1
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	slog.Info("threatveil starting", "version", version, "port", cfg.Port, "environment", cfg.Environment)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Open the database: Postgres when DATABASE_URL is set, embedded SQLite
	// otherwise.
	db, err := storage.Open(ctx, cfg.DatabaseURL, cfg.SQLitePath, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Probe response cache, shared by the external data source probes.
	probeCache := cache.New(db, logger)

	webProbe := probe.NewWeb(cfg.UserAgent)
	tlsProbe := probe.NewTLS()
	githubProbe := probe.NewGitHub(probeCache, cfg.GitHubToken)
	probes := scan.Probes{
		DNS:    probe.NewDNS(),
		Web:    webProbe,
		TLS:    tlsProbe,
		CT:     probe.NewCTLog(probeCache, cfg.UserAgent),
		OTX:    probe.NewOTX(probeCache, cfg.OTXAPIKey),
		NVD:    probe.NewNVD(probeCache, cfg.NVDAPIKey),
		GitHub: githubProbe,
	}
	if cfg.GitHubToken == "" {
		logger.Info("github probe: unauthenticated (low rate limit, no code scanning)")
	}

	dispatcher := webhook.NewDispatcher(db, logger)
	decisions := decision.NewEngine(db, dispatcher, logger)
	verifier := verify.NewEngine(db, webProbe, tlsProbe, githubProbe, decisions, dispatcher, logger)

	// Summarizer: LLM-backed when a key is configured, deterministic otherwise.
	var summarizer scan.Summarizer
	if cfg.LLMAPIKey != "" {
		summarizer = scan.NewLLMSummarizer("", cfg.LLMAPIKey, cfg.LLMModel)
		logger.Info("summarizer: llm", "model", cfg.LLMModel)
	} else {
		summarizer = scan.NullSummarizer{}
		logger.Info("summarizer: deterministic fallback (no LLM_API_KEY)")
	}

	orchestrator := scan.New(scan.Config{
		DB:         db,
		Probes:     probes,
		Summarizer: summarizer,
		Verifier:   verifier,
		Events:     dispatcher,
		Logger:     logger,
	})

	aggregator := orgrisk.New(db, dispatcher, logger)

	connectors, err := connector.New(db, cfg.EncryptionKey, cfg.JWTSecret, logger)
	if err != nil {
		return fmt.Errorf("connectors: %w", err)
	}

	tokens, err := auth.NewManager(cfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	limiter := ratelimit.NewPerMinute(cfg.RateLimitPerMinute)
	defer func() { _ = limiter.Close() }()

	var sched *scheduler.Scheduler
	if cfg.SchedulerEnabled {
		sched = scheduler.New(db, orchestrator, cfg.SchedulerInterval, logger)
		sched.Start(ctx)
		defer sched.Stop()
		logger.Info("scheduler: enabled", "interval", cfg.SchedulerInterval)
	} else {
		logger.Info("scheduler: disabled")
	}

	srv := server.New(server.Config{
		DB:                  db,
		Scanner:             orchestrator,
		Decisions:           decisions,
		Verifier:            verifier,
		Aggregator:          aggregator,
		Connectors:          connectors,
		Dispatcher:          dispatcher,
		Scheduler:           sched,
		Tokens:              tokens,
		Limiter:             limiter,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		AllowedOrigins:      cfg.AllowedOrigins,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         api.OpenAPISpec,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown: stop accepting requests and drain in-flight ones,
	// then let the deferred scheduler stop and close the rest.
	slog.Info("threatveil shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	return nil
}
