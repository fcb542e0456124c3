// Package threatveil is the public API for embedding the ThreatVeil scanner.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := threatveil.New(ctx,
//	    threatveil.WithVersion(version),
//	    threatveil.WithLogger(logger),
//	    threatveil.WithEventHook(myHook{}),
//	    threatveil.WithExtraRoutes(myRoutes),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: threatveil (root)
// imports internal/*, but internal/* never imports the root.
package threatveil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/threatveil/threatveil/api"
	"github.com/threatveil/threatveil/internal/auth"
	"github.com/threatveil/threatveil/internal/cache"
	"github.com/threatveil/threatveil/internal/config"
	"github.com/threatveil/threatveil/internal/connector"
	"github.com/threatveil/threatveil/internal/decision"
	"github.com/threatveil/threatveil/internal/model"
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

// App is the ThreatVeil server lifecycle. Construct with New(), run with
// Run(). App has no public fields; use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	sched        *scheduler.Scheduler // nil when disabled
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the ThreatVeil server. It opens the database, runs
// migrations, and wires all subsystems, but starts no goroutines and accepts
// no connections. Call Run().
func New(ctx context.Context, opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("threatveil starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.Open(ctx, cfg.DatabaseURL, cfg.SQLitePath, logger)
	if err != nil {
		_ = otelShutdown(ctx)
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		_ = db.Close()
		_ = otelShutdown(ctx)
		return nil, fmt.Errorf("migrations: %w", err)
	}

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

	dispatcher := webhook.NewDispatcher(db, logger)
	events := newFanout(dispatcher, o.eventHooks, logger)

	decisions := decision.NewEngine(db, events, logger)
	verifier := verify.NewEngine(db, webProbe, tlsProbe, githubProbe, decisions, events, logger)

	summarizer := o.summarizer
	if summarizer == nil && cfg.LLMAPIKey != "" {
		summarizer = scan.NewLLMSummarizer("", cfg.LLMAPIKey, cfg.LLMModel)
	}

	orchestrator := scan.New(scan.Config{
		DB:         db,
		Probes:     probes,
		Summarizer: summarizer,
		Verifier:   verifier,
		Events:     events,
		Logger:     logger,
	})

	connectors, err := connector.New(db, cfg.EncryptionKey, cfg.JWTSecret, logger)
	if err != nil {
		_ = db.Close()
		_ = otelShutdown(ctx)
		return nil, fmt.Errorf("connectors: %w", err)
	}

	tokens, err := auth.NewManager(cfg.JWTSecret)
	if err != nil {
		_ = db.Close()
		_ = otelShutdown(ctx)
		return nil, fmt.Errorf("auth: %w", err)
	}

	limiter := ratelimit.NewPerMinute(cfg.RateLimitPerMinute)

	var sched *scheduler.Scheduler
	if cfg.SchedulerEnabled {
		sched = scheduler.New(db, orchestrator, cfg.SchedulerInterval, logger)
	}

	srv := server.New(server.Config{
		DB:                  db,
		Scanner:             orchestrator,
		Decisions:           decisions,
		Verifier:            verifier,
		Aggregator:          orgrisk.New(db, events, logger),
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
		ExtraRoutes:         o.extraRoutes,
	})

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		sched:        sched,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Handler returns the root HTTP handler, for mounting inside another server
// or for tests.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run starts the scheduler and HTTP server and blocks until ctx is cancelled
// or the server fails, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	if a.sched != nil {
		a.sched.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		_ = a.Shutdown(context.Background())
		return err
	}
	return a.Shutdown(context.Background())
}

// Shutdown stops the HTTP server, scheduler, and telemetry, and closes the
// database. Safe to call once, after Run returns or instead of it.
func (a *App) Shutdown(ctx context.Context) error {
	httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	if a.sched != nil {
		a.sched.Stop()
	}
	_ = a.limiter.Close()
	if err := a.otelShutdown(ctx); err != nil {
		a.logger.Error("telemetry shutdown error", "error", err)
	}
	return a.db.Close()
}

// EventHook receives every domain event alongside webhook dispatch. Hooks run
// in goroutines; they must not block indefinitely. Failures are logged and
// never fail the originating operation.
type EventHook interface {
	OnEvent(ctx context.Context, orgID uuid.UUID, event EventType, data map[string]any) error
}

// fanout forwards each event to the webhook dispatcher and all registered
// hooks. It satisfies the Emitter interfaces of the scan, decision, verify,
// and orgrisk packages.
type fanout struct {
	dispatcher *webhook.Dispatcher
	hooks      []EventHook
	logger     *slog.Logger
}

func newFanout(d *webhook.Dispatcher, hooks []EventHook, logger *slog.Logger) *fanout {
	return &fanout{dispatcher: d, hooks: hooks, logger: logger}
}

func (f *fanout) Emit(ctx context.Context, orgID uuid.UUID, event model.EventType, data map[string]any) {
	f.dispatcher.Emit(ctx, orgID, event, data)
	for _, h := range f.hooks {
		h := h
		go func() {
			if err := h.OnEvent(context.WithoutCancel(ctx), orgID, event, data); err != nil {
				f.logger.Warn("event hook failed", "event", event, "error", err)
			}
		}()
	}
}
