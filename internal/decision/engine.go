// Package decision derives remediation decisions from scans by a fixed rule
// table, drives their lifecycle state machine, and measures the risk impact
// of resolved decisions.
package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/threatveil/threatveil/internal/model"
	"github.com/threatveil/threatveil/internal/storage"
)

// maxDecisionsPerScan caps how many decisions one scan generates.
const maxDecisionsPerScan = 3

// Lifecycle errors, mapped to HTTP statuses at the API boundary.
var (
	ErrInvalidStatus     = errors.New("decision: unknown status")
	ErrInvalidTransition = errors.New("decision: transition not allowed")
)

// Emitter fans a domain event out to subscribed webhooks. Optional.
type Emitter interface {
	Emit(ctx context.Context, orgID uuid.UUID, event model.EventType, data map[string]any)
}

// rule is one row of the fixed, priority-ordered rule table. The two lowest
// priority rules (review-network, audit-ai-tools) fire only while fewer than
// maxDecisionsPerScan candidates matched, which the generation cap enforces.
type rule struct {
	actionID       string
	title          string
	recommendedFix string
	effort         string
	reduction      int // estimated risk reduction, percent
	priority       int
	match          func(scan model.Scan, ai *model.AIScan) bool
}

var rules = []rule{
	{
		actionID:       "key-rotation",
		title:          "Rotate Exposed Credentials",
		recommendedFix: "Revoke the leaked API keys, issue replacements, and purge the secrets from public history.",
		effort:         "~1h",
		reduction:      25,
		priority:       1,
		match: func(_ model.Scan, ai *model.AIScan) bool {
			return ai != nil && len(ai.Keys) > 0
		},
	},
	{
		actionID:       "patch-cves",
		title:          "Patch Critical Vulnerabilities",
		recommendedFix: "Upgrade the affected components to versions without known high-severity CVEs.",
		effort:         "2-4h",
		reduction:      20,
		priority:       2,
		match: func(s model.Scan, _ *model.AIScan) bool {
			return countSignals(s, model.CategorySoftware, model.SeverityHigh) > 0
		},
	},
	{
		actionID:       "review-agents",
		title:          "Review Agent Access Controls",
		recommendedFix: "Audit what your AI agent frameworks can reach and scope their credentials to the minimum.",
		effort:         "2h",
		reduction:      15,
		priority:       3,
		match: func(_ model.Scan, ai *model.AIScan) bool {
			return ai != nil && len(model.AgentTools(ai.Tools)) > 0
		},
	},
	{
		actionID:       "audit-data",
		title:          "Audit Data Access Policies",
		recommendedFix: "Review what data is publicly reachable and lock down exposed stores and repositories.",
		effort:         "1-2h",
		reduction:      15,
		priority:       4,
		match: func(s model.Scan, _ *model.AIScan) bool {
			return countCategory(s, model.CategoryDataExposure) > 0
		},
	},
	{
		actionID:       "update-tls",
		title:          "Update Certificate Configuration",
		recommendedFix: "Renew the TLS certificate and enable automated renewal before it lapses again.",
		effort:         "30m",
		reduction:      10,
		priority:       5,
		match: func(s model.Scan, _ *model.AIScan) bool {
			return countTLS(s) > 0
		},
	},
	{
		actionID:       "review-network",
		title:          "Review Network Exposure",
		recommendedFix: "Close the gaps in DNS, HTTP, and TLS posture surfaced by the scan.",
		effort:         "1h",
		reduction:      10,
		priority:       6,
		match: func(s model.Scan, _ *model.AIScan) bool {
			return countNetwork(s) > 0
		},
	},
	{
		actionID:       "audit-ai-tools",
		title:          "Audit AI Tool Usage",
		recommendedFix: "Inventory the AI libraries in use and confirm each has an owner and a data-handling review.",
		effort:         "1h",
		reduction:      5,
		priority:       7,
		match: func(_ model.Scan, ai *model.AIScan) bool {
			// Agent frameworks already get the stronger review-agents action.
			return ai != nil && len(ai.Tools) > 0 && len(model.AgentTools(ai.Tools)) == 0
		},
	},
}

// Engine generates decisions and drives their lifecycle.
type Engine struct {
	db     *storage.DB
	events Emitter
	logger *slog.Logger
}

// NewEngine creates the decision engine. events may be nil.
func NewEngine(db *storage.DB, events Emitter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{db: db, events: events, logger: logger}
}

// Generate derives the decision set for a scan. Idempotent per scan: when
// decisions already exist for the scan they are returned unchanged.
func (e *Engine) Generate(ctx context.Context, scanID uuid.UUID) ([]model.Decision, error) {
	existing, err := e.db.ListDecisionsByScan(ctx, scanID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	s, err := e.db.GetScan(ctx, scanID)
	if err != nil {
		return nil, err
	}
	var ai *model.AIScan
	if a, err := e.db.GetAIScanByScanID(ctx, scanID); err == nil {
		ai = &a
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	var out []model.Decision
	for _, r := range rules {
		// limited rules fire only while the set is not full; the cap below
		// makes that the stopping condition for every rule.
		if len(out) >= maxDecisionsPerScan {
			break
		}
		if !r.match(s, ai) {
			continue
		}
		before := s.RiskScore
		d, err := e.db.CreateDecision(ctx, model.Decision{
			OrgID:                  s.OrgID,
			ScanID:                 s.ID,
			ActionID:               r.actionID,
			Title:                  r.title,
			RecommendedFix:         r.recommendedFix,
			EffortEstimate:         r.effort,
			EstimatedRiskReduction: r.reduction,
			Priority:               r.priority,
			Status:                 model.DecisionPending,
			BeforeScore:            &before,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, d)
		if e.events != nil {
			e.events.Emit(ctx, s.OrgID, model.EventDecisionCreated, map[string]any{
				"decision_id": d.ID.String(),
				"scan_id":     s.ID.String(),
				"action_id":   d.ActionID,
				"title":       d.Title,
				"priority":    d.Priority,
			})
		}
	}
	if out == nil {
		out = []model.Decision{}
	}
	return out, nil
}

// TransitionResult is returned from a lifecycle change. RiskDelta is set only
// when entering resolved with a known after-score.
type TransitionResult struct {
	Decision  model.Decision
	RiskDelta *int
}

// Transition moves a decision to next, enforcing the state machine and its
// timestamp invariants.
func (e *Engine) Transition(ctx context.Context, id uuid.UUID, next model.DecisionStatus) (TransitionResult, error) {
	if !next.Valid() {
		return TransitionResult{}, fmt.Errorf("%w: %q", ErrInvalidStatus, next)
	}
	d, err := e.db.GetDecision(ctx, id)
	if err != nil {
		return TransitionResult{}, err
	}
	if !d.Status.CanTransitionTo(next) {
		return TransitionResult{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, d.Status, next)
	}

	now := time.Now().UTC()
	var riskDelta *int

	switch next {
	case model.DecisionAccepted:
		// A step-back from in_progress keeps the original accepted_at.
		if d.AcceptedAt == nil {
			d.AcceptedAt = &now
		}

	case model.DecisionInProgress:
		if d.Status == model.DecisionResolved {
			e.reopen(ctx, &d)
		}

	case model.DecisionResolved:
		if d.Status == model.DecisionVerified {
			// Leaving verified keeps the resolution but drops the proof.
			d.VerifiedAt = nil
			d.VerificationScanID = nil
			break
		}
		d.ResolvedAt = &now
		riskDelta = e.recordResolution(ctx, &d)

	case model.DecisionVerified:
		d.VerifiedAt = &now
		e.bindVerificationScan(ctx, &d)
	}

	d.Status = next
	if err := e.db.UpdateDecision(ctx, d); err != nil {
		return TransitionResult{}, err
	}
	return TransitionResult{Decision: d, RiskDelta: riskDelta}, nil
}

// reopen clears the resolution state when a decision steps back out of
// resolved.
func (e *Engine) reopen(ctx context.Context, d *model.Decision) {
	d.ResolvedAt = nil
	d.VerifiedAt = nil
	d.AfterScore = nil
	d.VerificationScanID = nil
	if err := e.db.DeleteDecisionImpact(ctx, d.ID); err != nil {
		e.logger.Warn("delete decision impact failed", "decision_id", d.ID, "error", err)
	}
}

// recordResolution captures the after-score from the latest scan and invokes
// impact computation. Impact failures never block the transition.
func (e *Engine) recordResolution(ctx context.Context, d *model.Decision) *int {
	s, err := e.db.GetScan(ctx, d.ScanID)
	if err != nil {
		e.logger.Warn("load originating scan failed", "decision_id", d.ID, "error", err)
		return nil
	}

	var riskDelta *int
	latest, err := e.db.GetLatestScanForDomain(ctx, s.Domain)
	if err == nil {
		after := latest.RiskScore
		d.AfterScore = &after
		if d.BeforeScore != nil {
			delta := *d.BeforeScore - after
			riskDelta = &delta
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		e.logger.Warn("load latest scan failed", "decision_id", d.ID, "error", err)
	}

	if _, err := e.ComputeImpact(ctx, *d); err != nil {
		e.logger.Warn("impact computation failed", "decision_id", d.ID, "error", err)
	}
	return riskDelta
}

// bindVerificationScan attaches the most recent scan strictly after the
// decision was resolved, when one exists.
func (e *Engine) bindVerificationScan(ctx context.Context, d *model.Decision) {
	if d.ResolvedAt == nil || d.VerificationScanID != nil {
		return
	}
	s, err := e.db.GetScan(ctx, d.ScanID)
	if err != nil {
		return
	}
	latest, err := e.db.GetLatestScanForDomain(ctx, s.Domain)
	if err != nil || !latest.CreatedAt.After(*d.ResolvedAt) {
		return
	}
	id := latest.ID
	d.VerificationScanID = &id
}
