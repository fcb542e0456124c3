// Package scheduler drives continuous monitoring: a single periodic tick
// picks up due scan schedules and re-scans their assets, isolating per-asset
// failures from each other.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/threatveil/threatveil/internal/model"
	"github.com/threatveil/threatveil/internal/storage"
)

// DefaultInterval is the tick period.
const DefaultInterval = 5 * time.Minute

// Runner executes one scan. Implemented by the scan orchestrator.
type Runner interface {
	Run(ctx context.Context, domain, codeOrg string) (model.Scan, error)
}

// Scheduler owns the periodic tick and the per-schedule bookkeeping.
type Scheduler struct {
	db       *storage.DB
	runner   Runner
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a scheduler. A non-positive interval falls back to the default.
func New(db *storage.DB, runner Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{db: db, runner: runner, interval: interval, logger: logger}
}

// Start launches the tick loop. Starting an already running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		s.logger.Info("scheduler started", "interval", s.interval)
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("scheduler stopped")
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop cancels the tick loop and waits for in-flight work to drain. Stopping
// a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
}

// Tick processes every due schedule once. Exported so the API layer can
// trigger an immediate pass.
func (s *Scheduler) Tick(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.db.ListDueSchedules(ctx, now)
	if err != nil {
		s.logger.Error("list due schedules failed", "error", err)
		return
	}
	for _, sched := range due {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.runOne(ctx, sched)
	}
}

// runOne scans a single due asset. A failure is recorded on the schedule and
// never halts the other assets.
func (s *Scheduler) runOne(ctx context.Context, sched model.ScanSchedule) {
	asset, err := s.db.GetAsset(ctx, sched.AssetID)
	if err != nil {
		s.logger.Warn("load asset for schedule failed", "schedule_id", sched.ID, "error", err)
		return
	}
	if asset.Status != model.AssetActive || !asset.Probeable() || asset.Frequency == model.FrequencyManual {
		return
	}

	domain, codeOrg, ok := s.scanTarget(ctx, asset)
	if !ok {
		return
	}

	now := time.Now().UTC()
	next := now.Add(asset.Frequency.Interval())

	scan, err := s.runner.Run(ctx, domain, codeOrg)
	if err != nil {
		sched.ErrorCount++
		sched.LastError = err.Error()
		sched.NextRunAt = &next
		if uerr := s.db.UpdateSchedule(ctx, sched); uerr != nil {
			s.logger.Warn("record schedule failure failed", "schedule_id", sched.ID, "error", uerr)
		}
		s.logger.Warn("scheduled scan failed", "asset_id", asset.ID, "domain", domain, "error", err)
		return
	}

	sched.RunCount++
	sched.LastRunAt = &now
	sched.NextRunAt = &next
	sched.LastScanID = &scan.ID
	sched.LastError = ""
	if err := s.db.UpdateSchedule(ctx, sched); err != nil {
		s.logger.Warn("update schedule failed", "schedule_id", sched.ID, "error", err)
	}

	score := scan.RiskScore
	asset.LastScanAt = &now
	asset.NextScanAt = &next
	asset.LastRiskScore = &score
	if err := s.db.UpdateAsset(ctx, asset); err != nil {
		s.logger.Warn("update asset after scan failed", "asset_id", asset.ID, "error", err)
	}

	if _, err := s.db.CreateAuditLog(ctx, model.AuditLog{
		OrgID:        asset.OrgID,
		Action:       "scheduled_scan",
		ResourceType: "scan",
		ResourceID:   scan.ID.String(),
		Details: map[string]any{
			"asset_id":   asset.ID.String(),
			"domain":     domain,
			"risk_score": scan.RiskScore,
		},
	}); err != nil {
		s.logger.Warn("audit scheduled scan failed", "asset_id", asset.ID, "error", err)
	}

	s.logger.Info("scheduled scan completed",
		"asset_id", asset.ID, "domain", domain, "risk_score", scan.RiskScore, "next_run", next)
}

// scanTarget resolves what to scan for an asset: domain assets scan their own
// name; code-org assets scan the org's primary domain with code search on.
func (s *Scheduler) scanTarget(ctx context.Context, asset model.Asset) (domain, codeOrg string, ok bool) {
	switch asset.Type {
	case model.AssetDomain:
		return asset.Name, "", true
	case model.AssetCodeOrg:
		org, err := s.db.GetOrganization(ctx, asset.OrgID)
		if err != nil {
			s.logger.Warn("load organization for code-org asset failed", "asset_id", asset.ID, "error", err)
			return "", "", false
		}
		return org.PrimaryDomain, asset.Name, true
	default:
		return "", "", false
	}
}

// JobStatus is one schedule in the status snapshot.
type JobStatus struct {
	JobID       uuid.UUID  `json:"job_id"`
	Name        string     `json:"name"`
	NextRunTime *time.Time `json:"next_run_time,omitempty"`
}

// Status is the scheduler's observable state.
type Status struct {
	Running bool        `json:"running"`
	Jobs    []JobStatus `json:"jobs"`
}

// Snapshot reports whether the loop is running and every known schedule.
func (s *Scheduler) Snapshot(ctx context.Context) (Status, error) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	schedules, err := s.db.ListSchedules(ctx)
	if err != nil {
		return Status{}, err
	}
	jobs := make([]JobStatus, 0, len(schedules))
	for _, sched := range schedules {
		name := sched.AssetID.String()
		if asset, err := s.db.GetAsset(ctx, sched.AssetID); err == nil {
			name = asset.Name
		}
		jobs = append(jobs, JobStatus{
			JobID:       sched.ID,
			Name:        name,
			NextRunTime: sched.NextRunAt,
		})
	}
	return Status{Running: running, Jobs: jobs}, nil
}
