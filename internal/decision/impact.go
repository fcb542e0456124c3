package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/threatveil/threatveil/internal/model"
	"github.com/threatveil/threatveil/internal/storage"
)

// afterScanWindow is how recent an after-scan must be for the two highest
// confidence tiers. The seventh day still counts.
const afterScanWindow = 7 * 24 * time.Hour

// ComputeImpact writes the single impact row for a resolved decision. The
// confidence tier is one of exactly four values from scan recency and whether
// the action's triggering condition observably disappeared.
func (e *Engine) ComputeImpact(ctx context.Context, d model.Decision) (model.DecisionImpact, error) {
	before, err := e.db.GetScan(ctx, d.ScanID)
	if err != nil {
		return model.DecisionImpact{}, fmt.Errorf("decision: load originating scan: %w", err)
	}

	riskBefore := before.RiskScore
	if d.BeforeScore != nil {
		riskBefore = *d.BeforeScore
	}

	after, ok, err := e.afterScan(ctx, d, before)
	if err != nil {
		return model.DecisionImpact{}, err
	}

	imp := model.DecisionImpact{
		OrgID:      d.OrgID,
		DecisionID: d.ID,
		ScanID:     &before.ID,
		RiskBefore: riskBefore,
	}

	if !ok {
		imp.Confidence = float64(model.TierNoAfterScan)
		imp.Notes = "No scan has run since the decision was resolved; impact is unmeasured."
		return e.db.UpsertDecisionImpact(ctx, imp)
	}

	riskAfter := after.RiskScore
	delta := riskAfter - riskBefore
	imp.ResolvedScanID = &after.ID
	imp.RiskAfter = &riskAfter
	imp.Delta = &delta

	if time.Since(after.CreatedAt) > afterScanWindow {
		imp.Confidence = float64(model.TierStaleScan)
		imp.Notes = "The most recent scan is older than seven days; the measurement may be stale."
		return e.db.UpsertDecisionImpact(ctx, imp)
	}

	disappeared, known := e.triggerDisappeared(ctx, d, before, after)
	switch {
	case known && disappeared:
		imp.Confidence = float64(model.TierConfirmed)
	case known:
		imp.Confidence = float64(model.TierRecentUnclear)
		imp.Notes = "A recent scan exists but the triggering condition is still present or unchanged."
	default:
		imp.Confidence = float64(model.TierRecentUnclear)
		imp.Notes = "A recent scan exists but this action has no signal-disappearance check."
	}
	return e.db.UpsertDecisionImpact(ctx, imp)
}

// afterScan picks the comparison scan: the most recent scan for the org
// strictly after resolved_at, falling back to the most recent scan for the
// domain newer than the decision itself.
func (e *Engine) afterScan(ctx context.Context, d model.Decision, before model.Scan) (model.Scan, bool, error) {
	latest, err := e.db.GetLatestScanForDomain(ctx, before.Domain)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Scan{}, false, nil
		}
		return model.Scan{}, false, fmt.Errorf("decision: load latest scan: %w", err)
	}
	if d.ResolvedAt != nil && latest.CreatedAt.After(*d.ResolvedAt) {
		return latest, true, nil
	}
	if latest.CreatedAt.After(d.CreatedAt) && latest.ID != before.ID {
		return latest, true, nil
	}
	return model.Scan{}, false, nil
}

// triggerDisappeared compares the action's triggering-condition count between
// the originating and the after scan.
func (e *Engine) triggerDisappeared(ctx context.Context, d model.Decision, before, after model.Scan) (disappeared, known bool) {
	beforeCount, known := TriggerCount(d.ActionID, before, e.aiScanFor(ctx, before.ID))
	if !known {
		return false, false
	}
	afterCount, _ := TriggerCount(d.ActionID, after, e.aiScanFor(ctx, after.ID))
	return afterCount < beforeCount, true
}

// aiScanFor loads a scan's AI sub-scan; absence is represented as nil.
func (e *Engine) aiScanFor(ctx context.Context, scanID uuid.UUID) *model.AIScan {
	ai, err := e.db.GetAIScanByScanID(ctx, scanID)
	if err != nil {
		return nil
	}
	return &ai
}
