package scheduler

import (
	"context"
	"fmt"
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

type fakeRunner struct {
	db    *storage.DB
	err   error
	calls int
	score int
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
	return f.db.CreateScan(ctx, model.Scan{
		OrgID: org.ID, Domain: domain, CodeOrg: codeOrg, RiskScore: f.score,
	})
}

func seedDueAsset(t *testing.T, db *storage.DB, domain string) (model.Asset, model.ScanSchedule) {
	t.Helper()
	ctx := context.Background()
	org, err := db.GetOrCreateOrganizationByDomain(ctx, domain)
	require.NoError(t, err)
	asset, err := db.CreateAsset(ctx, model.Asset{
		OrgID: org.ID, Type: model.AssetDomain, Name: domain, Frequency: model.FrequencyDaily,
	})
	require.NoError(t, err)

	schedules, err := db.ListSchedules(ctx)
	require.NoError(t, err)
	var sched model.ScanSchedule
	for _, s := range schedules {
		if s.AssetID == asset.ID {
			sched = s
		}
	}
	require.NotEqual(t, uuid.Nil, sched.ID)

	past := time.Now().UTC().Add(-time.Minute)
	sched.NextRunAt = &past
	require.NoError(t, db.UpdateSchedule(ctx, sched))
	return asset, sched
}

func TestTickRunsDueSchedule(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	runner := &fakeRunner{db: db, score: 33}
	s := New(db, runner, time.Minute, nil)

	asset, sched := seedDueAsset(t, db, "example.com")

	s.Tick(ctx)
	assert.Equal(t, 1, runner.calls)

	schedules, err := db.ListSchedules(ctx)
	require.NoError(t, err)
	var got model.ScanSchedule
	for _, sc := range schedules {
		if sc.ID == sched.ID {
			got = sc
		}
	}
	assert.Equal(t, 1, got.RunCount)
	assert.Equal(t, 0, got.ErrorCount)
	assert.Empty(t, got.LastError)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(time.Now().UTC()))
	assert.NotNil(t, got.LastScanID)

	updated, err := db.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.LastRiskScore)
	assert.Equal(t, 33, *updated.LastRiskScore)
	assert.NotNil(t, updated.LastScanAt)

	logs, err := db.ListAuditLogs(ctx, asset.OrgID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "scheduled_scan", logs[0].Action)

	// Nothing is due anymore.
	s.Tick(ctx)
	assert.Equal(t, 1, runner.calls)
}

func TestTickIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	runner := &fakeRunner{db: db, err: fmt.Errorf("probe blew up")}
	s := New(db, runner, time.Minute, nil)

	_, sched := seedDueAsset(t, db, "a.example.com")
	_, sched2 := seedDueAsset(t, db, "b.example.com")

	s.Tick(ctx)
	assert.Equal(t, 2, runner.calls)

	schedules, err := db.ListSchedules(ctx)
	require.NoError(t, err)
	for _, sc := range schedules {
		if sc.ID != sched.ID && sc.ID != sched2.ID {
			continue
		}
		assert.Equal(t, 1, sc.ErrorCount)
		assert.Contains(t, sc.LastError, "probe blew up")
		assert.Equal(t, 0, sc.RunCount)
		require.NotNil(t, sc.NextRunAt)
		assert.True(t, sc.NextRunAt.After(time.Now().UTC()))
	}
}

func TestTickSkipsPausedAssets(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	runner := &fakeRunner{db: db}
	s := New(db, runner, time.Minute, nil)

	asset, _ := seedDueAsset(t, db, "example.com")
	asset.Status = model.AssetPaused
	require.NoError(t, db.UpdateAsset(ctx, asset))

	s.Tick(ctx)
	assert.Equal(t, 0, runner.calls)
}

func TestStartStopIdempotent(t *testing.T) {
	db := newTestDB(t)
	s := New(db, &fakeRunner{db: db}, time.Hour, nil)

	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx)

	status, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, status.Running)

	s.Stop()
	s.Stop()

	status, err = s.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, status.Running)
}

func TestSnapshotListsJobs(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	s := New(db, &fakeRunner{db: db}, time.Hour, nil)

	seedDueAsset(t, db, "example.com")

	status, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, status.Jobs, 1)
	assert.Equal(t, "example.com", status.Jobs[0].Name)
	assert.NotNil(t, status.Jobs[0].NextRunTime)
}
