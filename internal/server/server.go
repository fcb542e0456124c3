package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/threatveil/threatveil/internal/auth"
	"github.com/threatveil/threatveil/internal/connector"
	"github.com/threatveil/threatveil/internal/decision"
	"github.com/threatveil/threatveil/internal/model"
	"github.com/threatveil/threatveil/internal/orgrisk"
	"github.com/threatveil/threatveil/internal/ratelimit"
	"github.com/threatveil/threatveil/internal/scheduler"
	"github.com/threatveil/threatveil/internal/storage"
	"github.com/threatveil/threatveil/internal/webhook"
)

// ScanRunner executes one scan. Implemented by the scan orchestrator.
type ScanRunner interface {
	Run(ctx context.Context, domain, codeOrg string) (model.Scan, error)
}

// Verifier runs one on-demand decision verification. Implemented by the
// verify engine.
type Verifier interface {
	Verify(ctx context.Context, decisionID uuid.UUID) (model.VerificationRun, error)
}

// Server is the ThreatVeil HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Config holds all dependencies and settings for creating a Server.
// Optional fields (nil = disabled): Verifier, Connectors, Dispatcher,
// Scheduler, Tokens, Limiter.
type Config struct {
	DB         *storage.DB
	Scanner    ScanRunner
	Decisions  *decision.Engine
	Aggregator *orgrisk.Aggregator
	Logger     *slog.Logger

	Verifier   Verifier
	Connectors *connector.Service
	Dispatcher *webhook.Dispatcher
	Scheduler  *scheduler.Scheduler
	Tokens     *auth.Manager
	Limiter    ratelimit.Limiter

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	AllowedOrigins      []string
	MaxRequestBodyBytes int64

	// OpenAPISpec, when set, is served at GET /api/v1/openapi.yaml.
	OpenAPISpec []byte

	// ExtraRoutes, when set, is called with the mux after all built-in
	// routes are registered.
	ExtraRoutes func(mux *http.ServeMux)
}

// New creates an HTTP server with all routes configured.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &handlers{
		db:         cfg.DB,
		scanner:    cfg.Scanner,
		decisions:  cfg.Decisions,
		verifier:   cfg.Verifier,
		aggregator: cfg.Aggregator,
		connectors: cfg.Connectors,
		dispatcher: cfg.Dispatcher,
		scheduler:  cfg.Scheduler,
		logger:     cfg.Logger,
		version:    cfg.Version,
		maxBody:    cfg.MaxRequestBodyBytes,
	}

	scanRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc)
	internal := requireInternalToken(cfg.Tokens)

	mux := http.NewServeMux()

	// Scan surface. Only the scan trigger is rate limited; reads are cheap.
	mux.Handle("POST /api/v1/scan/vendor", scanRL(http.HandlerFunc(h.handleScanVendor)))
	mux.HandleFunc("GET /api/v1/scan/{id}", h.handleGetScan)
	mux.HandleFunc("DELETE /api/v1/scan/{id}", h.handleDeleteScan)
	mux.HandleFunc("GET /api/v1/scan/{id}/ai", h.handleGetAIScan)
	mux.HandleFunc("GET /api/v1/scan/{id}/previous", h.handlePreviousScan)

	// Decision surface.
	mux.HandleFunc("POST /api/v1/scans/{id}/decisions", h.handleGenerateDecisions)
	mux.HandleFunc("GET /api/v1/scans/{id}/decisions", h.handleListScanDecisions)
	mux.HandleFunc("PATCH /api/v1/decisions/{id}", h.handleTransitionDecision)
	mux.HandleFunc("GET /api/v1/decisions/{id}/impact", h.handleDecisionImpact)
	mux.HandleFunc("POST /api/v1/decisions/{id}/verify", h.handleVerifyDecision)
	mux.HandleFunc("GET /api/v1/decisions/{id}/verification", h.handleVerificationRuns)
	mux.HandleFunc("GET /api/v1/decisions/{id}/evidence", h.handleDecisionEvidence)

	// Org roll-up views.
	mux.HandleFunc("GET /api/v1/org/{id}/overview", h.handleOrgOverview)
	mux.HandleFunc("GET /api/v1/org/{id}/horizon", h.handleOrgHorizon)
	mux.HandleFunc("GET /api/v1/org/{id}/risk-timeline", h.handleOrgRiskTimeline)
	mux.HandleFunc("GET /api/v1/org/{id}/weekly-brief", h.handleOrgWeeklyBrief)
	mux.HandleFunc("GET /api/v1/org/{id}/ai-governance", h.handleOrgAIGovernance)
	mux.HandleFunc("GET /api/v1/org/{id}/ai-security", h.handleOrgAISecurity)
	mux.HandleFunc("GET /api/v1/org/{id}/signals", h.handleOrgSignals)
	mux.HandleFunc("GET /api/v1/org/{id}/summary", h.handleOrgSummary)
	mux.HandleFunc("GET /api/v1/org/{id}/decisions", h.handleOrgDecisions)

	// Asset management.
	mux.HandleFunc("GET /api/v1/org/{id}/assets", h.handleListAssets)
	mux.HandleFunc("POST /api/v1/org/{id}/assets", h.handleCreateAsset)
	mux.HandleFunc("GET /api/v1/org/{id}/assets/{asset_id}", h.handleGetAsset)
	mux.HandleFunc("PATCH /api/v1/org/{id}/assets/{asset_id}", h.handleUpdateAsset)
	mux.HandleFunc("DELETE /api/v1/org/{id}/assets/{asset_id}", h.handleDeleteAsset)

	// Webhooks.
	mux.HandleFunc("GET /api/v1/org/{id}/webhooks", h.handleListWebhooks)
	mux.HandleFunc("POST /api/v1/org/{id}/webhooks", h.handleCreateWebhook)
	mux.HandleFunc("PATCH /api/v1/org/{id}/webhooks/{webhook_id}", h.handleUpdateWebhook)
	mux.HandleFunc("DELETE /api/v1/org/{id}/webhooks/{webhook_id}", h.handleDeleteWebhook)
	mux.HandleFunc("POST /api/v1/org/{id}/webhooks/{webhook_id}/test", h.handleTestWebhook)
	mux.HandleFunc("GET /api/v1/org/{id}/webhooks/{webhook_id}/deliveries", h.handleWebhookDeliveries)

	// Connectors.
	mux.HandleFunc("GET /api/v1/org/{id}/connectors", h.handleListConnectors)
	mux.HandleFunc("POST /api/v1/org/{id}/connectors", h.handleCreateConnector)
	mux.HandleFunc("PATCH /api/v1/org/{id}/connectors/{connector_id}", h.handleUpdateConnector)
	mux.HandleFunc("DELETE /api/v1/org/{id}/connectors/{connector_id}", h.handleDeleteConnector)

	// Operator endpoints, guarded by the internal token.
	mux.Handle("POST /api/v1/internal/rescan", internal(http.HandlerFunc(h.handleInternalRescan)))
	mux.Handle("GET /api/v1/internal/scheduler", internal(http.HandlerFunc(h.handleSchedulerStatus)))

	mux.HandleFunc("GET /health", h.handleHealth)

	if len(cfg.OpenAPISpec) > 0 {
		spec := cfg.OpenAPISpec
		mux.HandleFunc("GET /api/v1/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/yaml")
			_, _ = w.Write(spec)
		})
	}
	if cfg.ExtraRoutes != nil {
		cfg.ExtraRoutes(mux)
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → CORS → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = corsMiddleware(cfg.AllowedOrigins, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
