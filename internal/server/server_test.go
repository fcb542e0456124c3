package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threatveil/threatveil/internal/auth"
	"github.com/threatveil/threatveil/internal/connector"
	"github.com/threatveil/threatveil/internal/decision"
	"github.com/threatveil/threatveil/internal/model"
	"github.com/threatveil/threatveil/internal/orgrisk"
	"github.com/threatveil/threatveil/internal/ratelimit"
	"github.com/threatveil/threatveil/internal/storage"
	"github.com/threatveil/threatveil/internal/webhook"
	"github.com/threatveil/threatveil/migrations"
)

func newTestDB(t *testing.T) *storage.DB {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	db, err := storage.Open(ctx, "", ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.RunMigrations(ctx, migrations.FS))
	return db
}

// fakeRunner persists a real scan row so handlers downstream of the scan
// pipeline see consistent state.
type fakeRunner struct {
	db     *storage.DB
	err    error
	score  int
	calls  int
	signal *model.Signal
}

func (f *fakeRunner) Run(ctx context.Context, domain, codeOrg string) (model.Scan, error) {
	f.calls++
	if f.err != nil {
		return model.Scan{}, f.err
	}
	org, err := f.db.GetOrCreateOrganizationByDomain(ctx, domain)
	if err != nil {
		return model.Scan{}, err
	}
	var signals []model.Signal
	if f.signal != nil {
		signals = append(signals, *f.signal)
	}
	return f.db.CreateScan(ctx, model.Scan{
		OrgID: org.ID, Domain: domain, CodeOrg: codeOrg,
		RiskScore: f.score, Signals: signals,
	})
}

type stubVerifier struct {
	run model.VerificationRun
	err error
}

func (s *stubVerifier) Verify(context.Context, uuid.UUID) (model.VerificationRun, error) {
	return s.run, s.err
}

type testEnv struct {
	db     *storage.DB
	runner *fakeRunner
	tokens *auth.Manager
	srv    *Server
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	runner := &fakeRunner{db: db, score: 40}
	tokens, err := auth.NewManager("test-secret")
	require.NoError(t, err)
	connectors, err := connector.New(db, strings.Repeat("k", 32), "", logger)
	require.NoError(t, err)

	srv := New(Config{
		DB:                  db,
		Scanner:             runner,
		Decisions:           decision.NewEngine(db, nil, logger),
		Aggregator:          orgrisk.New(db, nil, logger),
		Verifier:            &stubVerifier{run: model.VerificationRun{Result: model.VerifyUnknown, Confidence: 0.4}},
		Connectors:          connectors,
		Dispatcher:          webhook.NewDispatcher(db, logger),
		Tokens:              tokens,
		Logger:              logger,
		Port:                0,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})
	return &testEnv{db: db, runner: runner, tokens: tokens, srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.1:1000"
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	e := newTestServer(t)
	rec := e.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestScanVendor(t *testing.T) {
	e := newTestServer(t)

	rec := e.do(t, http.MethodPost, "/api/v1/scan/vendor", map[string]string{"domain": "example.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	scan := decodeBody[model.Scan](t, rec)
	assert.Equal(t, "example.com", scan.Domain)
	assert.Equal(t, 40, scan.RiskScore)
	assert.Equal(t, 1, e.runner.calls)
}

func TestScanVendorRejectsInvalidDomain(t *testing.T) {
	e := newTestServer(t)

	for _, domain := range []string{"", "https://example.com", "127.0.0.1", "localhost"} {
		rec := e.do(t, http.MethodPost, "/api/v1/scan/vendor", map[string]string{"domain": domain})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "domain %q", domain)
		body := decodeBody[map[string]string](t, rec)
		assert.NotEmpty(t, body["detail"])
	}
	assert.Equal(t, 0, e.runner.calls)
}

func TestScanVendorQuotaExceeded(t *testing.T) {
	ctx := context.Background()
	e := newTestServer(t)

	org, err := e.db.GetOrCreateOrganizationByDomain(ctx, "example.com")
	require.NoError(t, err)
	org.ScansThisMonth = org.ScansLimit
	require.NoError(t, e.db.UpdateOrganization(ctx, org))

	rec := e.do(t, http.MethodPost, "/api/v1/scan/vendor", map[string]string{"domain": "example.com"})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Contains(t, body["detail"], "upgrade")
	assert.Equal(t, 0, e.runner.calls)
}

func TestScanVendorRateLimited(t *testing.T) {
	db := newTestDB(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	limiter := ratelimit.NewMemoryLimiter(0.001, 1)
	t.Cleanup(func() { _ = limiter.Close() })

	srv := New(Config{
		DB:         db,
		Scanner:    &fakeRunner{db: db},
		Decisions:  decision.NewEngine(db, nil, logger),
		Aggregator: orgrisk.New(db, nil, logger),
		Limiter:    limiter,
		Logger:     logger,
	})
	e := &testEnv{db: db, srv: srv}

	rec := e.do(t, http.MethodPost, "/api/v1/scan/vendor", map[string]string{"domain": "example.com"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/scan/vendor", map[string]string{"domain": "example.com"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestGetDeletePreviousScan(t *testing.T) {
	e := newTestServer(t)

	rec := e.do(t, http.MethodPost, "/api/v1/scan/vendor", map[string]string{"domain": "example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	first := decodeBody[model.Scan](t, rec)

	// First scan has no predecessor.
	rec = e.do(t, http.MethodGet, "/api/v1/scan/"+first.ID.String()+"/previous", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	prev := decodeBody[map[string]any](t, rec)
	assert.Nil(t, prev["previous_scan_id"])

	e.runner.score = 55
	time.Sleep(10 * time.Millisecond)
	rec = e.do(t, http.MethodPost, "/api/v1/scan/vendor", map[string]string{"domain": "example.com"})
	second := decodeBody[model.Scan](t, rec)

	rec = e.do(t, http.MethodGet, "/api/v1/scan/"+second.ID.String()+"/previous", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	prev = decodeBody[map[string]any](t, rec)
	assert.Equal(t, first.ID.String(), prev["previous_scan_id"])
	assert.Equal(t, float64(40), prev["previous_score"])

	rec = e.do(t, http.MethodGet, "/api/v1/scan/"+first.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodDelete, "/api/v1/scan/"+first.ID.String(), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/scan/"+first.ID.String(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/scan/"+uuid.New().String(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/scan/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecisionGenerationIsIdempotentOverHTTP(t *testing.T) {
	e := newTestServer(t)
	e.runner.signal = &model.Signal{
		ID: "tls_certificate_expiring", Type: "tls", Severity: model.SeverityHigh,
		Category: model.CategoryNetwork,
		Evidence: model.Evidence{Source: "tls", ObservedAt: time.Now().UTC(), Raw: map[string]any{}},
	}

	rec := e.do(t, http.MethodPost, "/api/v1/scan/vendor", map[string]string{"domain": "example.com"})
	scan := decodeBody[model.Scan](t, rec)

	rec = e.do(t, http.MethodPost, "/api/v1/scans/"+scan.ID.String()+"/decisions", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	firstBody := decodeBody[map[string][]model.Decision](t, rec)
	first := firstBody["decisions"]
	require.NotEmpty(t, first)

	rec = e.do(t, http.MethodPost, "/api/v1/scans/"+scan.ID.String()+"/decisions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	secondBody := decodeBody[map[string][]model.Decision](t, rec)
	second := secondBody["decisions"]

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Priority, second[i].Priority)
	}

	rec = e.do(t, http.MethodGet, "/api/v1/scans/"+scan.ID.String()+"/decisions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDecisionTransitionStatusMapping(t *testing.T) {
	ctx := context.Background()
	e := newTestServer(t)

	org, err := e.db.GetOrCreateOrganizationByDomain(ctx, "example.com")
	require.NoError(t, err)
	scan, err := e.db.CreateScan(ctx, model.Scan{OrgID: org.ID, Domain: "example.com", RiskScore: 50})
	require.NoError(t, err)
	d, err := e.db.CreateDecision(ctx, model.Decision{
		OrgID: org.ID, ScanID: scan.ID, ActionID: "update-tls",
		Title: "Update Certificate Configuration", Status: model.DecisionPending, Priority: 5,
	})
	require.NoError(t, err)

	// Unknown status is a validation error.
	rec := e.do(t, http.MethodPatch, "/api/v1/decisions/"+d.ID.String(), map[string]string{"status": "done"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Disallowed transition is a conflict.
	rec = e.do(t, http.MethodPatch, "/api/v1/decisions/"+d.ID.String(), map[string]string{"status": "verified"})
	require.Equal(t, http.StatusConflict, rec.Code)

	// Unknown decision is 404.
	rec = e.do(t, http.MethodPatch, "/api/v1/decisions/"+uuid.New().String(), map[string]string{"status": "accepted"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPatch, "/api/v1/decisions/"+d.ID.String(), map[string]string{"status": "accepted"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]model.Decision](t, rec)
	assert.Equal(t, model.DecisionAccepted, body["decision"].Status)

	rec = e.do(t, http.MethodPatch, "/api/v1/decisions/"+d.ID.String(), map[string]string{"status": "resolved"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Resolution computed an impact row.
	rec = e.do(t, http.MethodGet, "/api/v1/decisions/"+d.ID.String()+"/impact", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	impact := decodeBody[model.DecisionImpact](t, rec)
	assert.Equal(t, d.ID, impact.DecisionID)
}

func TestVerifyEndpointUsesVerifier(t *testing.T) {
	e := newTestServer(t)
	rec := e.do(t, http.MethodPost, "/api/v1/decisions/"+uuid.New().String()+"/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	run := decodeBody[model.VerificationRun](t, rec)
	assert.Equal(t, model.VerifyUnknown, run.Result)
}

func TestOrgViews(t *testing.T) {
	e := newTestServer(t)

	rec := e.do(t, http.MethodPost, "/api/v1/scan/vendor", map[string]string{"domain": "example.com"})
	scan := decodeBody[model.Scan](t, rec)
	orgID := scan.OrgID.String()

	for _, path := range []string{
		"/overview", "/horizon", "/weekly-brief", "/ai-governance",
		"/ai-security", "/signals", "/summary", "/decisions",
	} {
		rec := e.do(t, http.MethodGet, "/api/v1/org/"+orgID+path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec = e.do(t, http.MethodGet, "/api/v1/org/"+orgID+"/risk-timeline?weeks=4", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	timeline := decodeBody[map[string][]orgrisk.TimelinePoint](t, rec)
	assert.Len(t, timeline["weeks"], 4)

	rec = e.do(t, http.MethodGet, "/api/v1/org/"+orgID+"/risk-timeline?weeks=zero", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/org/"+uuid.New().String()+"/overview", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAssetCRUD(t *testing.T) {
	ctx := context.Background()
	e := newTestServer(t)

	org, err := e.db.GetOrCreateOrganizationByDomain(ctx, "example.com")
	require.NoError(t, err)
	orgID := org.ID.String()

	rec := e.do(t, http.MethodPost, "/api/v1/org/"+orgID+"/assets", map[string]any{
		"type": "domain", "name": "shop.example.com", "scan_frequency": "daily", "risk_weight": 1.5,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	asset := decodeBody[model.Asset](t, rec)
	assert.Equal(t, 1.5, asset.RiskWeight)

	rec = e.do(t, http.MethodPost, "/api/v1/org/"+orgID+"/assets", map[string]any{
		"type": "mainframe", "name": "x",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/org/"+orgID+"/assets", map[string]any{
		"type": "domain", "name": "x.example.com", "risk_weight": 5.0,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/org/"+orgID+"/assets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[map[string][]model.Asset](t, rec)
	require.Len(t, list["assets"], 1)

	rec = e.do(t, http.MethodPatch, "/api/v1/org/"+orgID+"/assets/"+asset.ID.String(), map[string]any{
		"status": "paused",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeBody[model.Asset](t, rec)
	assert.Equal(t, model.AssetPaused, updated.Status)

	rec = e.do(t, http.MethodGet, "/api/v1/org/"+orgID+"/assets/"+asset.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodDelete, "/api/v1/org/"+orgID+"/assets/"+asset.ID.String(), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/org/"+orgID+"/assets/"+asset.ID.String(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookCRUDAndTest(t *testing.T) {
	ctx := context.Background()
	e := newTestServer(t)

	org, err := e.db.GetOrCreateOrganizationByDomain(ctx, "example.com")
	require.NoError(t, err)
	orgID := org.ID.String()

	var received http.Header
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer target.Close()

	rec := e.do(t, http.MethodPost, "/api/v1/org/"+orgID+"/webhooks", map[string]any{
		"url": target.URL, "events": []string{"decision.created", "test"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[map[string]json.RawMessage](t, rec)
	var hook model.Webhook
	require.NoError(t, json.Unmarshal(created["webhook"], &hook))
	var secret string
	require.NoError(t, json.Unmarshal(created["secret"], &secret))
	assert.Len(t, secret, 64) // 32 random bytes, hex encoded

	rec = e.do(t, http.MethodPost, "/api/v1/org/"+orgID+"/webhooks", map[string]any{
		"url": target.URL, "events": []string{"everything"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/org/"+orgID+"/webhooks/"+hook.ID.String()+"/test", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	outcome := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, outcome["delivered"])
	assert.Equal(t, "test", received.Get("X-ThreatVeil-Event"))
	assert.True(t, strings.HasPrefix(received.Get("X-ThreatVeil-Signature"), "sha256="))

	rec = e.do(t, http.MethodGet, "/api/v1/org/"+orgID+"/webhooks/"+hook.ID.String()+"/deliveries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	deliveries := decodeBody[map[string][]model.WebhookDelivery](t, rec)
	require.Len(t, deliveries["deliveries"], 1)
	assert.Equal(t, model.DeliverySuccess, deliveries["deliveries"][0].Status)

	rec = e.do(t, http.MethodPatch, "/api/v1/org/"+orgID+"/webhooks/"+hook.ID.String(), map[string]any{
		"active": false,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	patched := decodeBody[model.Webhook](t, rec)
	assert.False(t, patched.Active)

	rec = e.do(t, http.MethodDelete, "/api/v1/org/"+orgID+"/webhooks/"+hook.ID.String(), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestConnectorEndpoints(t *testing.T) {
	ctx := context.Background()
	e := newTestServer(t)

	org, err := e.db.GetOrCreateOrganizationByDomain(ctx, "example.com")
	require.NoError(t, err)
	orgID := org.ID.String()

	rec := e.do(t, http.MethodPost, "/api/v1/org/"+orgID+"/connectors", map[string]any{
		"type": "github", "credentials": map[string]string{"token": "ghp_x"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[model.Connector](t, rec)
	assert.Equal(t, model.ConnectorGitHub, created.Type)
	assert.NotContains(t, rec.Body.String(), "ghp_x")

	rec = e.do(t, http.MethodPost, "/api/v1/org/"+orgID+"/connectors", map[string]any{
		"type": "jira",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/org/"+orgID+"/connectors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[map[string][]model.Connector](t, rec)
	require.Len(t, list["connectors"], 1)

	rec = e.do(t, http.MethodPatch, "/api/v1/org/"+orgID+"/connectors/"+created.ID.String(), map[string]any{
		"status": "paused",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodDelete, "/api/v1/org/"+orgID+"/connectors/"+created.ID.String(), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestInternalRescanRequiresToken(t *testing.T) {
	e := newTestServer(t)

	rec := e.do(t, http.MethodPost, "/api/v1/internal/rescan", map[string]string{"domain": "example.com"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, e.runner.calls)

	token, _, err := e.tokens.Issue("ops", auth.ScopeInternal, time.Hour)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(map[string]string{"domain": "example.com"}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/rescan", &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	rec2 := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec2, req)
	require.Equal(t, http.StatusOK, rec2.Code, rec2.Body.String())
	assert.Equal(t, 1, e.runner.calls)

	// Non-internal scope is rejected.
	readonly, _, err := e.tokens.Issue("reader", "readonly", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/internal/rescan", strings.NewReader(`{"domain":"example.com"}`))
	req.Header.Set("Authorization", "Bearer "+readonly)
	rec3 := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec3, req)
	require.Equal(t, http.StatusUnauthorized, rec3.Code)
}

func TestCORSPreflight(t *testing.T) {
	db := newTestDB(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	srv := New(Config{
		DB:             db,
		Scanner:        &fakeRunner{db: db},
		Decisions:      decision.NewEngine(db, nil, logger),
		Aggregator:     orgrisk.New(db, nil, logger),
		Logger:         logger,
		AllowedOrigins: []string{"https://app.threatveil.io"},
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/scan/vendor", nil)
	req.Header.Set("Origin", "https://app.threatveil.io")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.threatveil.io", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestScannerFailureMapsTo500(t *testing.T) {
	e := newTestServer(t)
	e.runner.err = fmt.Errorf("probe pipeline unavailable")
	rec := e.do(t, http.MethodPost, "/api/v1/scan/vendor", map[string]string{"domain": "example.com"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "internal server error", body["detail"])
}
