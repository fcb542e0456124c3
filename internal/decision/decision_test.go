package decision

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threatveil/threatveil/internal/model"
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

func sig(id string, sev model.Severity, cat model.Category, source string) model.Signal {
	return model.NewSignal(model.SignalParams{
		ID: id, Type: "config", Detail: id, Severity: sev, Category: cat, Source: source,
	})
}

func seedScan(t *testing.T, db *storage.DB, domain string, score int, signals []model.Signal) model.Scan {
	t.Helper()
	ctx := context.Background()
	org, err := db.GetOrCreateOrganizationByDomain(ctx, domain)
	require.NoError(t, err)
	s, err := db.CreateScan(ctx, model.Scan{
		OrgID: org.ID, Domain: domain, RiskScore: score, Signals: signals,
	})
	require.NoError(t, err)
	return s
}

type recordingEmitter struct {
	events []model.EventType
}

func (r *recordingEmitter) Emit(_ context.Context, _ uuid.UUID, event model.EventType, _ map[string]any) {
	r.events = append(r.events, event)
}

func TestGenerateKeyLeakAndAgentFramework(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	emitter := &recordingEmitter{}
	e := NewEngine(db, emitter, nil)

	s := seedScan(t, db, "example.com", 40, nil)
	_, err := db.CreateAIScan(ctx, model.AIScan{
		ScanID: s.ID,
		Tools:  []string{"langchain"},
		Keys:   []model.AIKeyLeak{{KeyType: "openai", Repository: "acme/app", Path: ".env"}},
		Score:  50,
	})
	require.NoError(t, err)

	decisions, err := e.Generate(ctx, s.ID)
	require.NoError(t, err)
	// Exactly these two: the agent framework takes review-agents, not the
	// generic AI audit.
	require.Len(t, decisions, 2)
	assert.Equal(t, "key-rotation", decisions[0].ActionID)
	assert.Equal(t, 1, decisions[0].Priority)
	assert.Equal(t, "review-agents", decisions[1].ActionID)
	assert.Equal(t, 3, decisions[1].Priority)

	require.NotNil(t, decisions[0].BeforeScore)
	assert.Equal(t, 40, *decisions[0].BeforeScore)
	assert.Equal(t, model.DecisionPending, decisions[0].Status)
	assert.Len(t, emitter.events, 2)
	assert.Equal(t, model.EventDecisionCreated, emitter.events[0])
}

func TestGenerateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	e := NewEngine(db, nil, nil)

	s := seedScan(t, db, "example.com", 30, []model.Signal{
		sig("cve_CVE-2024-0001", model.SeverityHigh, model.CategorySoftware, "nvd"),
	})

	first, err := e.Generate(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := e.Generate(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)

	all, err := db.ListDecisionsByScan(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGenerateCapsAtThree(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	e := NewEngine(db, nil, nil)

	s := seedScan(t, db, "example.com", 80, []model.Signal{
		sig("cve_CVE-2024-0001", model.SeverityHigh, model.CategorySoftware, "nvd"),
		sig("github_secret_x", model.SeverityHigh, model.CategoryDataExposure, "github"),
		sig("tls_cert_expiry", model.SeverityMedium, model.CategoryNetwork, "tls"),
		sig("http_no_https_redirect", model.SeverityHigh, model.CategoryNetwork, "http"),
	})
	_, err := db.CreateAIScan(ctx, model.AIScan{
		ScanID: s.ID,
		Tools:  []string{"langchain"},
		Keys:   []model.AIKeyLeak{{KeyType: "openai"}},
	})
	require.NoError(t, err)

	decisions, err := e.Generate(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, decisions, 3)
	assert.Equal(t, "key-rotation", decisions[0].ActionID)
	assert.Equal(t, "patch-cves", decisions[1].ActionID)
	assert.Equal(t, "review-agents", decisions[2].ActionID)
}

func TestGenerateCleanScanYieldsNothing(t *testing.T) {
	db := newTestDB(t)
	e := NewEngine(db, nil, nil)

	s := seedScan(t, db, "example.com", 0, []model.Signal{
		sig("scan_completed_no_findings", model.SeverityLow, model.CategoryNetwork, "scanner"),
	})
	decisions, err := e.Generate(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Empty(t, decisions)
}

func TestGenerateAuditAIToolsForNonAgentTools(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	e := NewEngine(db, nil, nil)

	s := seedScan(t, db, "example.com", 10, nil)
	_, err := db.CreateAIScan(ctx, model.AIScan{ScanID: s.ID, Tools: []string{"openai"}})
	require.NoError(t, err)

	decisions, err := e.Generate(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "audit-ai-tools", decisions[0].ActionID)
	assert.Equal(t, 7, decisions[0].Priority)
}

func seedDecision(t *testing.T, db *storage.DB, s model.Scan, actionID string) model.Decision {
	t.Helper()
	before := s.RiskScore
	d, err := db.CreateDecision(context.Background(), model.Decision{
		OrgID: s.OrgID, ScanID: s.ID, ActionID: actionID,
		Title: actionID, RecommendedFix: "fix", EffortEstimate: "1h",
		EstimatedRiskReduction: 10, Priority: 1,
		Status: model.DecisionPending, BeforeScore: &before,
	})
	require.NoError(t, err)
	return d
}

func TestTransitionRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	e := NewEngine(db, nil, nil)
	s := seedScan(t, db, "example.com", 50, nil)
	d := seedDecision(t, db, s, "patch-cves")

	_, err := e.Transition(ctx, d.ID, model.DecisionStatus("bogus"))
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = e.Transition(ctx, d.ID, model.DecisionVerified)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = e.Transition(ctx, uuid.New(), model.DecisionAccepted)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTransitionResolvedSetsImpactAndDelta(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	e := NewEngine(db, nil, nil)
	s := seedScan(t, db, "example.com", 50, []model.Signal{
		sig("cve_CVE-2024-0001", model.SeverityHigh, model.CategorySoftware, "nvd"),
	})
	d := seedDecision(t, db, s, "patch-cves")

	res, err := e.Transition(ctx, d.ID, model.DecisionResolved)
	require.NoError(t, err)
	assert.Equal(t, model.DecisionResolved, res.Decision.Status)
	require.NotNil(t, res.Decision.ResolvedAt)
	require.NotNil(t, res.Decision.AfterScore)
	assert.Equal(t, 50, *res.Decision.AfterScore)
	require.NotNil(t, res.RiskDelta)
	assert.Equal(t, 0, *res.RiskDelta)

	imp, err := db.GetDecisionImpact(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, imp.RiskBefore)
	// No scan has run after the resolution yet.
	assert.InDelta(t, float64(model.TierNoAfterScan), imp.Confidence, 1e-9)
}

func TestTransitionReopenClearsResolution(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	e := NewEngine(db, nil, nil)
	s := seedScan(t, db, "example.com", 50, nil)
	d := seedDecision(t, db, s, "audit-data")

	_, err := e.Transition(ctx, d.ID, model.DecisionResolved)
	require.NoError(t, err)

	res, err := e.Transition(ctx, d.ID, model.DecisionInProgress)
	require.NoError(t, err)
	assert.Nil(t, res.Decision.ResolvedAt)
	assert.Nil(t, res.Decision.AfterScore)
	assert.Nil(t, res.Decision.VerificationScanID)

	_, err = db.GetDecisionImpact(ctx, d.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTransitionVerifiedBindsLaterScan(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	e := NewEngine(db, nil, nil)
	s := seedScan(t, db, "example.com", 50, nil)
	d := seedDecision(t, db, s, "update-tls")

	_, err := e.Transition(ctx, d.ID, model.DecisionResolved)
	require.NoError(t, err)

	later := seedScan(t, db, "example.com", 30, nil)

	res, err := e.Transition(ctx, d.ID, model.DecisionVerified)
	require.NoError(t, err)
	require.NotNil(t, res.Decision.VerifiedAt)
	require.NotNil(t, res.Decision.VerificationScanID)
	assert.Equal(t, later.ID, *res.Decision.VerificationScanID)

	// Stepping back out of verified drops the proof but keeps the resolution.
	res, err = e.Transition(ctx, d.ID, model.DecisionResolved)
	require.NoError(t, err)
	assert.Nil(t, res.Decision.VerifiedAt)
	assert.Nil(t, res.Decision.VerificationScanID)
	assert.NotNil(t, res.Decision.ResolvedAt)
}

func TestComputeImpactTiers(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	e := NewEngine(db, nil, nil)

	cveSig := sig("cve_CVE-2024-0001", model.SeverityHigh, model.CategorySoftware, "nvd")

	t.Run("confirmed when trigger disappeared recently", func(t *testing.T) {
		s := seedScan(t, db, "tier1.example.com", 50, []model.Signal{cveSig})
		d := seedDecision(t, db, s, "patch-cves")
		now := time.Now().UTC()
		d.ResolvedAt = &now
		require.NoError(t, db.UpdateDecision(ctx, d))

		seedScan(t, db, "tier1.example.com", 20, nil)

		imp, err := e.ComputeImpact(ctx, d)
		require.NoError(t, err)
		assert.InDelta(t, float64(model.TierConfirmed), imp.Confidence, 1e-9)
		require.NotNil(t, imp.Delta)
		assert.Equal(t, -30, *imp.Delta)
	})

	t.Run("unclear when trigger persists", func(t *testing.T) {
		s := seedScan(t, db, "tier2.example.com", 50, []model.Signal{cveSig})
		d := seedDecision(t, db, s, "patch-cves")
		now := time.Now().UTC()
		d.ResolvedAt = &now
		require.NoError(t, db.UpdateDecision(ctx, d))

		seedScan(t, db, "tier2.example.com", 50, []model.Signal{cveSig})

		imp, err := e.ComputeImpact(ctx, d)
		require.NoError(t, err)
		assert.InDelta(t, float64(model.TierRecentUnclear), imp.Confidence, 1e-9)
		assert.NotEmpty(t, imp.Notes)
	})

	t.Run("stale after-scan", func(t *testing.T) {
		org, err := db.GetOrCreateOrganizationByDomain(ctx, "tier3.example.com")
		require.NoError(t, err)
		s, err := db.CreateScan(ctx, model.Scan{
			OrgID: org.ID, Domain: "tier3.example.com", RiskScore: 50,
			Signals:   []model.Signal{cveSig},
			CreatedAt: time.Now().UTC().Add(-40 * 24 * time.Hour),
		})
		require.NoError(t, err)
		d := seedDecision(t, db, s, "patch-cves")
		resolved := time.Now().UTC().Add(-30 * 24 * time.Hour)
		d.ResolvedAt = &resolved
		require.NoError(t, db.UpdateDecision(ctx, d))

		_, err = db.CreateScan(ctx, model.Scan{
			OrgID: org.ID, Domain: "tier3.example.com", RiskScore: 40,
			CreatedAt: time.Now().UTC().Add(-10 * 24 * time.Hour),
		})
		require.NoError(t, err)

		imp, err := e.ComputeImpact(ctx, d)
		require.NoError(t, err)
		assert.InDelta(t, float64(model.TierStaleScan), imp.Confidence, 1e-9)
	})

	t.Run("no after-scan", func(t *testing.T) {
		s := seedScan(t, db, "tier4.example.com", 50, []model.Signal{cveSig})
		d := seedDecision(t, db, s, "patch-cves")
		now := time.Now().UTC()
		d.ResolvedAt = &now
		require.NoError(t, db.UpdateDecision(ctx, d))

		imp, err := e.ComputeImpact(ctx, d)
		require.NoError(t, err)
		assert.InDelta(t, float64(model.TierNoAfterScan), imp.Confidence, 1e-9)
		assert.Nil(t, imp.RiskAfter)
		assert.Nil(t, imp.Delta)
	})
}

func TestTriggerCount(t *testing.T) {
	s := model.Scan{Signals: []model.Signal{
		sig("a", model.SeverityHigh, model.CategorySoftware, "nvd"),
		sig("b", model.SeverityMedium, model.CategoryNetwork, "tls"),
		sig("c", model.SeverityLow, model.CategoryNetwork, "dns"),
		sig("d", model.SeverityHigh, model.CategoryDataExposure, "github"),
	}}
	ai := &model.AIScan{
		Tools: []string{"openai", "langchain"},
		Keys:  []model.AIKeyLeak{{KeyType: "openai"}},
	}

	cases := []struct {
		action string
		want   int
	}{
		{"key-rotation", 1},
		{"patch-cves", 1},
		{"review-agents", 1},
		{"audit-data", 1},
		{"update-tls", 1},
		{"review-network", 1},
		{"audit-ai-tools", 2},
	}
	for _, tc := range cases {
		got, known := TriggerCount(tc.action, s, ai)
		require.True(t, known, tc.action)
		assert.Equal(t, tc.want, got, tc.action)
	}

	_, known := TriggerCount("enable-hsts", s, ai)
	assert.False(t, known)
}
