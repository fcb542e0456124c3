// Package orgrisk aggregates scan, decision, and asset state into the
// organization-level views served by the API: overview, risk timeline,
// weekly brief, and the AI posture reports.
package orgrisk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/threatveil/threatveil/internal/model"
	"github.com/threatveil/threatveil/internal/storage"
)

// Emitter fans a domain event out to subscribed webhooks. Optional.
type Emitter interface {
	Emit(ctx context.Context, orgID uuid.UUID, event model.EventType, data map[string]any)
}

// Aggregator computes org-level roll-ups. It only reads scan history; all
// numbers are derived, never stored.
type Aggregator struct {
	db     *storage.DB
	events Emitter
	logger *slog.Logger
}

// New creates an aggregator. events may be nil.
func New(db *storage.DB, events Emitter, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{db: db, events: events, logger: logger}
}

// Overview is the org dashboard head: current weighted risk and the decision
// pipeline state.
type Overview struct {
	Organization  model.Organization                     `json:"organization"`
	RiskScore     int                                    `json:"risk_score"`
	Likelihood30d float64                                `json:"breach_likelihood_30d"`
	Likelihood90d float64                                `json:"breach_likelihood_90d"`
	LastScanAt    *time.Time                             `json:"last_scan_at,omitempty"`
	AssetCount    int                                    `json:"asset_count"`
	Decisions     storage.DecisionRollup                 `json:"decisions"`
	Categories    map[model.Category]model.CategoryScore `json:"categories,omitempty"`
}

// Overview assembles the dashboard head for an org.
func (a *Aggregator) Overview(ctx context.Context, orgID uuid.UUID) (Overview, error) {
	org, err := a.db.GetOrganization(ctx, orgID)
	if err != nil {
		return Overview{}, err
	}
	assets, err := a.db.ListAssetsByOrg(ctx, orgID)
	if err != nil {
		return Overview{}, err
	}
	rollup, err := a.db.GetDecisionRollup(ctx, orgID)
	if err != nil {
		return Overview{}, err
	}

	out := Overview{
		Organization: org,
		AssetCount:   len(assets),
		Decisions:    rollup,
		RiskScore:    a.weightedRisk(assets),
	}

	latest, err := a.db.GetLatestScanForDomain(ctx, org.PrimaryDomain)
	switch {
	case err == nil:
		out.Likelihood30d = latest.Likelihood30d
		out.Likelihood90d = latest.Likelihood90d
		out.LastScanAt = &latest.CreatedAt
		out.Categories = latest.Categories
		if out.RiskScore == 0 {
			out.RiskScore = latest.RiskScore
		}
	case errors.Is(err, storage.ErrNotFound):
		// A fresh org with no scan history reads as zero risk.
	default:
		return Overview{}, err
	}
	return out, nil
}

// weightedRisk rolls asset scores up by their risk weight. Assets that have
// never been scanned do not contribute.
func (a *Aggregator) weightedRisk(assets []model.Asset) int {
	var sum, weight float64
	for _, asset := range assets {
		if asset.LastRiskScore == nil || asset.Status != model.AssetActive {
			continue
		}
		w := asset.RiskWeight
		if w <= 0 {
			w = 1.0
		}
		sum += float64(*asset.LastRiskScore) * w
		weight += w
	}
	if weight == 0 {
		return 0
	}
	return int(math.Round(sum / weight))
}

// HorizonItem is one open decision projected onto the risk horizon.
type HorizonItem struct {
	DecisionID         uuid.UUID `json:"decision_id"`
	ActionID           string    `json:"action_id"`
	Title              string    `json:"title"`
	Priority           int       `json:"priority"`
	EstimatedReduction int       `json:"estimated_risk_reduction"`
	EffortEstimate     string    `json:"effort_estimate"`
}

// Horizon is the forward-looking view: where risk is headed and what would
// move it.
type Horizon struct {
	RiskScore      int           `json:"risk_score"`
	Likelihood30d  float64       `json:"breach_likelihood_30d"`
	Likelihood90d  float64       `json:"breach_likelihood_90d"`
	ProjectedScore int           `json:"projected_score_if_resolved"`
	OpenDecisions  []HorizonItem `json:"open_decisions"`
	NextScheduled  *time.Time    `json:"next_scheduled_scan,omitempty"`
}

// Horizon projects the org's risk forward over the open decision set.
func (a *Aggregator) Horizon(ctx context.Context, orgID uuid.UUID) (Horizon, error) {
	org, err := a.db.GetOrganization(ctx, orgID)
	if err != nil {
		return Horizon{}, err
	}

	out := Horizon{OpenDecisions: []HorizonItem{}}
	latest, err := a.db.GetLatestScanForDomain(ctx, org.PrimaryDomain)
	if err == nil {
		out.RiskScore = latest.RiskScore
		out.Likelihood30d = latest.Likelihood30d
		out.Likelihood90d = latest.Likelihood90d
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Horizon{}, err
	}

	open, err := a.db.ListOpenDecisionsByOrg(ctx, orgID)
	if err != nil {
		return Horizon{}, err
	}
	projected := float64(out.RiskScore)
	for _, d := range open {
		out.OpenDecisions = append(out.OpenDecisions, HorizonItem{
			DecisionID:         d.ID,
			ActionID:           d.ActionID,
			Title:              d.Title,
			Priority:           d.Priority,
			EstimatedReduction: d.EstimatedRiskReduction,
			EffortEstimate:     d.EffortEstimate,
		})
		projected -= projected * float64(d.EstimatedRiskReduction) / 100
	}
	out.ProjectedScore = int(math.Round(projected))

	assets, err := a.db.ListAssetsByOrg(ctx, orgID)
	if err != nil {
		return Horizon{}, err
	}
	for _, asset := range assets {
		if asset.NextScanAt == nil || asset.Status != model.AssetActive {
			continue
		}
		if out.NextScheduled == nil || asset.NextScanAt.Before(*out.NextScheduled) {
			out.NextScheduled = asset.NextScanAt
		}
	}
	return out, nil
}

// TimelinePoint is one weekly bucket of scan history.
type TimelinePoint struct {
	WeekStart time.Time `json:"week_start"`
	Score     *int      `json:"score,omitempty"`
	ScanCount int       `json:"scan_count"`
}

// RiskTimeline buckets the org's scans into weeks, newest last. A bucket
// without scans carries the previous bucket's score forward.
func (a *Aggregator) RiskTimeline(ctx context.Context, orgID uuid.UUID, weeks int) ([]TimelinePoint, error) {
	if weeks <= 0 {
		weeks = 12
	}
	if weeks > 104 {
		weeks = 104
	}

	now := time.Now().UTC()
	start := now.AddDate(0, 0, -7*weeks).Truncate(24 * time.Hour)
	scans, err := a.db.ListScansSince(ctx, orgID, start)
	if err != nil {
		return nil, err
	}

	points := make([]TimelinePoint, weeks)
	for i := range points {
		points[i].WeekStart = start.AddDate(0, 0, 7*i)
	}
	for _, s := range scans {
		idx := int(s.CreatedAt.Sub(start) / (7 * 24 * time.Hour))
		if idx < 0 || idx >= weeks {
			continue
		}
		score := s.RiskScore
		points[idx].Score = &score // scans arrive oldest first, last wins
		points[idx].ScanCount++
	}
	var carry *int
	for i := range points {
		if points[i].Score != nil {
			carry = points[i].Score
		} else if carry != nil {
			v := *carry
			points[i].Score = &v
		}
	}
	return points, nil
}

// WeeklyBrief is the digest generated over the trailing seven days.
type WeeklyBrief struct {
	OrgID             uuid.UUID      `json:"org_id"`
	PeriodStart       time.Time      `json:"period_start"`
	PeriodEnd         time.Time      `json:"period_end"`
	ScansRun          int            `json:"scans_run"`
	CurrentScore      int            `json:"current_score"`
	ScoreDelta        int            `json:"score_delta"`
	NewDecisions      int            `json:"new_decisions"`
	VerifiedDecisions int            `json:"verified_decisions"`
	TopSignals        []model.Signal `json:"top_signals"`
	Summary           string         `json:"summary"`
}

// WeeklyBrief assembles the trailing-week digest and announces it to
// subscribed webhooks.
func (a *Aggregator) WeeklyBrief(ctx context.Context, orgID uuid.UUID) (WeeklyBrief, error) {
	now := time.Now().UTC()
	start := now.AddDate(0, 0, -7)

	scans, err := a.db.ListScansSince(ctx, orgID, start)
	if err != nil {
		return WeeklyBrief{}, err
	}
	decisions, err := a.db.ListDecisionsByOrg(ctx, orgID, 0)
	if err != nil {
		return WeeklyBrief{}, err
	}

	brief := WeeklyBrief{
		OrgID:       orgID,
		PeriodStart: start,
		PeriodEnd:   now,
		ScansRun:    len(scans),
		TopSignals:  []model.Signal{},
	}
	if len(scans) > 0 {
		first, last := scans[0], scans[len(scans)-1]
		brief.CurrentScore = last.RiskScore
		brief.ScoreDelta = last.RiskScore - first.RiskScore
		for _, sig := range last.Signals {
			if sig.Severity == model.SeverityHigh || sig.Severity == model.SeverityCritical {
				brief.TopSignals = append(brief.TopSignals, sig)
				if len(brief.TopSignals) == 5 {
					break
				}
			}
		}
	}
	for _, d := range decisions {
		if d.CreatedAt.After(start) {
			brief.NewDecisions++
		}
		if d.VerifiedAt != nil && d.VerifiedAt.After(start) {
			brief.VerifiedDecisions++
		}
	}
	brief.Summary = fmt.Sprintf(
		"%d scan(s) ran this week. Risk score is %d (%+d vs last week). %d new decision(s), %d verified.",
		brief.ScansRun, brief.CurrentScore, brief.ScoreDelta, brief.NewDecisions, brief.VerifiedDecisions)

	if a.events != nil {
		a.events.Emit(ctx, orgID, model.EventWeeklyBrief, map[string]any{
			"current_score":      brief.CurrentScore,
			"score_delta":        brief.ScoreDelta,
			"scans_run":          brief.ScansRun,
			"new_decisions":      brief.NewDecisions,
			"verified_decisions": brief.VerifiedDecisions,
		})
	}
	return brief, nil
}

// AIGovernance is the org-wide AI usage inventory.
type AIGovernance struct {
	Tools      []string         `json:"ai_tools"`
	AgentTools []string         `json:"agent_tools"`
	LeakCount  int              `json:"leaked_key_count"`
	AIScore    int              `json:"ai_score"`
	Decisions  []model.Decision `json:"ai_decisions"`
}

// AIGovernance reports detected AI usage and the decisions it produced.
func (a *Aggregator) AIGovernance(ctx context.Context, orgID uuid.UUID) (AIGovernance, error) {
	out := AIGovernance{Tools: []string{}, AgentTools: []string{}, Decisions: []model.Decision{}}

	ai, err := a.latestAIScan(ctx, orgID)
	if err != nil {
		return AIGovernance{}, err
	}
	if ai != nil {
		out.Tools = ai.Tools
		out.AgentTools = model.AgentTools(ai.Tools)
		out.LeakCount = len(ai.Keys)
		out.AIScore = ai.Score
	}

	decisions, err := a.db.ListDecisionsByOrg(ctx, orgID, 0)
	if err != nil {
		return AIGovernance{}, err
	}
	for _, d := range decisions {
		switch d.ActionID {
		case "key-rotation", "review-agents", "audit-ai-tools":
			out.Decisions = append(out.Decisions, d)
		}
	}
	return out, nil
}

// AISecurity is the AI posture report: the latest sub-scan plus a derived
// posture score where 100 means no AI-specific exposure.
type AISecurity struct {
	Scan         *model.AIScan `json:"ai_scan"`
	PostureScore int           `json:"posture_score"`
	Status       string        `json:"status"`
}

// AISecurity returns the most recent AI sub-scan with its posture score.
// Posture starts at 100 and loses 30 per leaked key and 10 per agent
// framework. Clean is 80 or above, warning 50 or above, critical below that.
func (a *Aggregator) AISecurity(ctx context.Context, orgID uuid.UUID) (AISecurity, error) {
	ai, err := a.latestAIScan(ctx, orgID)
	if err != nil {
		return AISecurity{}, err
	}
	out := AISecurity{Scan: ai, PostureScore: 100, Status: "clean"}
	if ai != nil {
		out.PostureScore -= 30 * len(ai.Keys)
		out.PostureScore -= 10 * len(model.AgentTools(ai.Tools))
		if out.PostureScore < 0 {
			out.PostureScore = 0
		}
	}
	switch {
	case out.PostureScore >= 80:
		out.Status = "clean"
	case out.PostureScore >= 50:
		out.Status = "warning"
	default:
		out.Status = "critical"
	}
	return out, nil
}

// latestAIScan walks recent scans newest first and returns the first AI
// sub-scan found.
func (a *Aggregator) latestAIScan(ctx context.Context, orgID uuid.UUID) (*model.AIScan, error) {
	scans, err := a.db.ListScansByOrg(ctx, orgID, 25)
	if err != nil {
		return nil, err
	}
	for _, s := range scans {
		ai, err := a.db.GetAIScanByScanID(ctx, s.ID)
		if err == nil {
			return &ai, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// Signals returns the latest scan's signal set.
func (a *Aggregator) Signals(ctx context.Context, orgID uuid.UUID) ([]model.Signal, error) {
	org, err := a.db.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	latest, err := a.db.GetLatestScanForDomain(ctx, org.PrimaryDomain)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return []model.Signal{}, nil
		}
		return nil, err
	}
	return latest.Signals, nil
}

// Summary is the compact org status used by integrations.
type Summary struct {
	OrgID         uuid.UUID      `json:"org_id"`
	Domain        string         `json:"domain"`
	RiskScore     int            `json:"risk_score"`
	Severity      model.Severity `json:"severity"`
	OpenDecisions int            `json:"open_decisions"`
	LastScanAt    *time.Time     `json:"last_scan_at,omitempty"`
}

// Summary condenses the overview into a few fields.
func (a *Aggregator) Summary(ctx context.Context, orgID uuid.UUID) (Summary, error) {
	ov, err := a.Overview(ctx, orgID)
	if err != nil {
		return Summary{}, err
	}
	open := ov.Decisions.Counts[model.DecisionPending] +
		ov.Decisions.Counts[model.DecisionAccepted] +
		ov.Decisions.Counts[model.DecisionInProgress]

	severity := model.SeverityLow
	switch {
	case ov.RiskScore >= 70:
		severity = model.SeverityHigh
	case ov.RiskScore >= 40:
		severity = model.SeverityMedium
	}
	return Summary{
		OrgID:         orgID,
		Domain:        ov.Organization.PrimaryDomain,
		RiskScore:     ov.RiskScore,
		Severity:      severity,
		OpenDecisions: open,
		LastScanAt:    ov.LastScanAt,
	}, nil
}
