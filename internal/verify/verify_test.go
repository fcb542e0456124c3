package verify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threatveil/threatveil/internal/cache"
	"github.com/threatveil/threatveil/internal/decision"
	"github.com/threatveil/threatveil/internal/model"
	"github.com/threatveil/threatveil/internal/probe"
	"github.com/threatveil/threatveil/internal/storage"
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

func newEngine(t *testing.T, db *storage.DB, github *probe.GitHub) *Engine {
	t.Helper()
	return NewEngine(db, nil, nil, github, decision.NewEngine(db, nil, nil), nil, nil)
}

func cveSignal(id string) model.Signal {
	return model.NewSignal(model.SignalParams{
		ID: "cve_" + id, Type: "cve", Detail: id,
		Severity: model.SeverityHigh, Category: model.CategorySoftware, Source: "nvd",
	})
}

func seedScan(t *testing.T, db *storage.DB, domain string, score int, signals []model.Signal) model.Scan {
	t.Helper()
	ctx := context.Background()
	org, err := db.GetOrCreateOrganizationByDomain(ctx, domain)
	require.NoError(t, err)
	s, err := db.CreateScan(ctx, model.Scan{
		OrgID: org.ID, Domain: domain, CodeOrg: "acme", RiskScore: score, Signals: signals,
	})
	require.NoError(t, err)
	return s
}

func seedResolvedDecision(t *testing.T, db *storage.DB, s model.Scan, actionID string) model.Decision {
	t.Helper()
	before := s.RiskScore
	resolved := time.Now().UTC()
	d, err := db.CreateDecision(context.Background(), model.Decision{
		OrgID: s.OrgID, ScanID: s.ID, ActionID: actionID,
		Title: actionID, RecommendedFix: "fix", EffortEstimate: "1h",
		EstimatedRiskReduction: 10, Priority: 2,
		Status: model.DecisionResolved, BeforeScore: &before, ResolvedAt: &resolved,
	})
	require.NoError(t, err)
	return d
}

func TestVerifyUnknownAction(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	e := newEngine(t, db, nil)

	s := seedScan(t, db, "example.com", 40, nil)
	d := seedResolvedDecision(t, db, s, "rotate-dns")

	run, err := e.Verify(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VerifyUnknown, run.Result)
	assert.InDelta(t, 0.4, run.Confidence, 1e-9)

	got, err := db.GetDecision(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DecisionResolved, got.Status)
}

func TestVerifyPatchCVEsPass(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	e := newEngine(t, db, nil)

	before := seedScan(t, db, "example.com", 50, []model.Signal{
		cveSignal("CVE-2024-0001"), cveSignal("CVE-2024-0002"),
	})
	d := seedResolvedDecision(t, db, before, "patch-cves")
	after := seedScan(t, db, "example.com", 20, nil)

	run, err := e.Verify(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VerifyPass, run.Result)
	assert.InDelta(t, 1.0, run.Confidence, 1e-9)
	require.NotNil(t, run.CompletedAt)

	got, err := db.GetDecision(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DecisionVerified, got.Status)
	require.NotNil(t, got.VerifiedAt)
	require.NotNil(t, got.VerificationScanID)
	assert.Equal(t, after.ID, *got.VerificationScanID)
	assert.InDelta(t, 1.0, got.ConfidenceScore, 1e-9)
	assert.NotEmpty(t, got.ConfidenceReason)

	evidence, err := db.ListDecisionEvidence(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, evidence, 2)
	assert.Equal(t, model.EvidenceBefore, evidence[0].Kind)
	assert.Equal(t, model.EvidenceAfter, evidence[1].Kind)

	runs, err := db.ListVerificationRuns(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestVerifyPatchCVEsFailDoesNotAdvance(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	e := newEngine(t, db, nil)

	before := seedScan(t, db, "example.com", 50, []model.Signal{cveSignal("CVE-2024-0001")})
	d := seedResolvedDecision(t, db, before, "patch-cves")
	seedScan(t, db, "example.com", 50, []model.Signal{cveSignal("CVE-2024-0001")})

	run, err := e.Verify(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VerifyFail, run.Result)

	got, err := db.GetDecision(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DecisionResolved, got.Status)
	assert.Nil(t, got.VerifiedAt)
}

func TestVerifyWithoutComparisonScan(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	e := newEngine(t, db, nil)

	before := seedScan(t, db, "example.com", 50, []model.Signal{cveSignal("CVE-2024-0001")})
	d := seedResolvedDecision(t, db, before, "patch-cves")

	run, err := e.Verify(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VerifyUnknown, run.Result)
	assert.InDelta(t, float64(model.TierNoAfterScan), run.Confidence, 1e-9)
}

func TestVerifyKeyRotation(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	// Code search now returns nothing: the leaked key is gone.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"total_count": 0, "items": []any{}})
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	github := probe.NewGitHub(cache.New(db, logger), "ghp_test")
	github.BaseURL = srv.URL
	e := newEngine(t, db, github)

	before := seedScan(t, db, "example.com", 50, nil)
	_, err := db.CreateAIScan(ctx, model.AIScan{
		ScanID: before.ID,
		Keys:   []model.AIKeyLeak{{KeyType: "openai", Repository: "acme/app", Path: ".env"}},
	})
	require.NoError(t, err)
	d := seedResolvedDecision(t, db, before, "key-rotation")

	run, err := e.Verify(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VerifyPass, run.Result)
	assert.InDelta(t, 1.0, run.Confidence, 1e-9)

	got, err := db.GetDecision(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DecisionVerified, got.Status)
}

func TestAutoVerify(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	e := newEngine(t, db, nil)

	before := seedScan(t, db, "example.com", 50, []model.Signal{
		model.NewSignal(model.SignalParams{
			ID: "github_secret_x", Type: "secret", Detail: "leak",
			Severity: model.SeverityHigh, Category: model.CategoryDataExposure, Source: "github",
		}),
	})
	d := seedResolvedDecision(t, db, before, "audit-data")
	skipped := seedResolvedDecision(t, db, before, "audit-ai-tools")

	fresh := seedScan(t, db, "example.com", 20, nil)
	e.AutoVerify(ctx, fresh, nil)

	got, err := db.GetDecision(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DecisionVerified, got.Status)
	require.NotNil(t, got.VerificationScanID)
	assert.Equal(t, fresh.ID, *got.VerificationScanID)
	assert.InDelta(t, 1.0, got.ConfidenceScore, 1e-9)

	still, err := db.GetDecision(ctx, skipped.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DecisionResolved, still.Status)
}

func TestAutoVerifyIgnoresLaterResolutions(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	e := newEngine(t, db, nil)

	before := seedScan(t, db, "example.com", 50, []model.Signal{cveSignal("CVE-2024-0001")})
	fresh := seedScan(t, db, "example.com", 20, nil)
	// Resolved after the fresh scan ran; it cannot be judged by it.
	d := seedResolvedDecision(t, db, before, "patch-cves")

	e.AutoVerify(ctx, fresh, nil)

	got, err := db.GetDecision(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DecisionResolved, got.Status)
}
