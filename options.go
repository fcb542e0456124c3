package threatveil

import (
	"log/slog"
	"net/http"

	"github.com/threatveil/threatveil/internal/scan"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	port        int
	databaseURL string
	sqlitePath  string
	logger      *slog.Logger
	version     string
	summarizer  scan.Summarizer
	eventHooks  []EventHook
	extraRoutes func(mux *http.ServeMux)
}

// WithPort overrides the TCP port from config (PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the Postgres connection string from config
// (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithSQLitePath overrides the embedded database path used when no Postgres
// URL is configured (THREATVEIL_SQLITE_PATH env var).
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}

// WithLogger sets the structured logger for the App. If not set, the default
// slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithSummarizer replaces the scan summary provider. The default is the
// OpenAI-compatible LLM summarizer when LLM_API_KEY is set, and the
// deterministic fallback otherwise.
func WithSummarizer(s Summarizer) Option {
	return func(o *resolvedOptions) { o.summarizer = s }
}

// WithEventHook registers a hook that receives every domain event alongside
// webhook dispatch. Multiple hooks may be registered; all receive every event.
func WithEventHook(hook EventHook) Option {
	return func(o *resolvedOptions) { o.eventHooks = append(o.eventHooks, hook) }
}

// WithExtraRoutes registers additional routes on the shared HTTP mux. The
// function is called once after all built-in routes are registered; extra
// routes share the middleware chain with built-in ones.
func WithExtraRoutes(fn func(mux *http.ServeMux)) Option {
	return func(o *resolvedOptions) { o.extraRoutes = fn }
}
