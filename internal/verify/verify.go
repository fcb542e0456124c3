// Package verify re-probes the outside world to prove a resolved decision's
// fix is actually deployed. It is separate from impact measurement, which
// only tracks the risk-score delta.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/threatveil/threatveil/internal/decision"
	"github.com/threatveil/threatveil/internal/model"
	"github.com/threatveil/threatveil/internal/probe"
	"github.com/threatveil/threatveil/internal/storage"
)

// recentWindow is how fresh a comparison scan must be for full confidence.
const recentWindow = 7 * 24 * time.Hour

// Emitter fans a domain event out to subscribed webhooks. Optional.
type Emitter interface {
	Emit(ctx context.Context, orgID uuid.UUID, event model.EventType, data map[string]any)
}

// Engine runs action-specific verification rules against live probes and
// scan snapshots.
type Engine struct {
	db        *storage.DB
	web       *probe.Web
	tls       *probe.TLS
	github    *probe.GitHub
	decisions *decision.Engine
	events    Emitter
	logger    *slog.Logger
}

// NewEngine creates the verification engine.
func NewEngine(db *storage.DB, web *probe.Web, tlsProbe *probe.TLS, github *probe.GitHub,
	decisions *decision.Engine, events Emitter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		db:        db,
		web:       web,
		tls:       tlsProbe,
		github:    github,
		decisions: decisions,
		events:    events,
		logger:    logger,
	}
}

// outcome is the intermediate result of one rule evaluation before it is
// persisted and applied to the decision.
type outcome struct {
	result     model.VerificationResult
	confidence float64
	notes      string
	evidence   map[string]any
	before     map[string]any
	after      map[string]any
	afterScan  *model.Scan
}

// Verify runs the per-action rule for a decision and records a verification
// run plus before/after evidence snapshots. On pass the decision advances to
// verified.
func (e *Engine) Verify(ctx context.Context, decisionID uuid.UUID) (model.VerificationRun, error) {
	d, err := e.db.GetDecision(ctx, decisionID)
	if err != nil {
		return model.VerificationRun{}, err
	}
	before, err := e.db.GetScan(ctx, d.ScanID)
	if err != nil {
		return model.VerificationRun{}, err
	}

	out := e.evaluate(ctx, d, before)
	return e.record(ctx, d, before, out)
}

// evaluate dispatches to the action-specific rule. Probe exceptions collapse
// to unknown with minimal confidence.
func (e *Engine) evaluate(ctx context.Context, d model.Decision, before model.Scan) outcome {
	switch d.ActionID {
	case "key-rotation":
		return e.verifyKeyRotation(ctx, d, before)
	case "enable-hsts", "fix-headers":
		return e.verifyHeader(ctx, before.Domain, "strict-transport-security")
	case "enable-csp":
		return e.verifyHeader(ctx, before.Domain, "content-security-policy", "content-security-policy-report-only")
	case "update-tls":
		return e.verifyTLS(ctx, before.Domain)
	case "patch-cves":
		return e.verifyScanCompare(ctx, d, before, decision.CVECount, "CVE signals")
	case "review-agents", "audit-data", "review-network":
		return e.verifyTriggerCompare(ctx, d, before)
	default:
		return outcome{
			result:     model.VerifyUnknown,
			confidence: 0.4,
			notes:      fmt.Sprintf("No verification rule exists for action %q.", d.ActionID),
		}
	}
}

// probeFailure is the uniform unknown outcome for a probe exception.
func probeFailure(err error) outcome {
	return outcome{
		result:     model.VerifyUnknown,
		confidence: 0.2,
		notes:      fmt.Sprintf("Verification probe failed: %v", err),
		evidence:   map[string]any{"error": err.Error()},
	}
}

func (e *Engine) verifyKeyRotation(ctx context.Context, d model.Decision, before model.Scan) outcome {
	original := 0
	if ai, err := e.db.GetAIScanByScanID(ctx, before.ID); err == nil {
		original = len(ai.Keys)
	}
	if before.CodeOrg == "" {
		return outcome{
			result:     model.VerifyUnknown,
			confidence: 0.4,
			notes:      "The originating scan had no code organization to re-check.",
		}
	}

	findings, err := e.github.Search(ctx, before.CodeOrg)
	if err != nil {
		return probeFailure(err)
	}
	current := len(findings.Keys)
	out := outcome{
		before:   map[string]any{"ai_key_count": original},
		after:    map[string]any{"ai_key_count": current},
		evidence: map[string]any{"original_keys": original, "current_keys": current},
	}
	if current < original {
		out.result = model.VerifyPass
		out.confidence = float64(model.TierConfirmed)
		out.notes = fmt.Sprintf("Leaked key count dropped from %d to %d.", original, current)
	} else {
		out.result = model.VerifyFail
		out.confidence = float64(model.TierConfirmed)
		out.notes = fmt.Sprintf("Leaked key count did not decrease (%d before, %d now).", original, current)
	}
	return out
}

func (e *Engine) verifyHeader(ctx context.Context, domain string, accepted ...string) outcome {
	headers, err := e.web.FetchHeaders(ctx, domain)
	if err != nil {
		return probeFailure(err)
	}
	for _, name := range accepted {
		if v, ok := headers[name]; ok {
			return outcome{
				result:     model.VerifyPass,
				confidence: float64(model.TierConfirmed),
				notes:      fmt.Sprintf("Header %s is now present.", name),
				evidence:   map[string]any{"header": name, "value": v},
				after:      map[string]any{"headers": headers},
			}
		}
	}
	return outcome{
		result:     model.VerifyFail,
		confidence: float64(model.TierConfirmed),
		notes:      fmt.Sprintf("Header %s is still missing.", accepted[0]),
		after:      map[string]any{"headers": headers},
	}
}

func (e *Engine) verifyTLS(ctx context.Context, domain string) outcome {
	info, err := e.tls.Check(ctx, domain)
	if err != nil {
		return probeFailure(err)
	}
	out := outcome{
		evidence: map[string]any{"days_to_expiry": info.DaysToExpiry, "not_after": info.NotAfter},
		after:    map[string]any{"days_to_expiry": info.DaysToExpiry, "issuer": info.Issuer},
	}
	switch {
	case info.DaysToExpiry > 30:
		out.result = model.VerifyPass
		out.confidence = float64(model.TierConfirmed)
		out.notes = fmt.Sprintf("Certificate is valid for %d more days.", info.DaysToExpiry)
	case info.DaysToExpiry > 0:
		out.result = model.VerifyPass
		out.confidence = float64(model.TierRecentUnclear)
		out.notes = fmt.Sprintf("Certificate is valid but expires in %d days.", info.DaysToExpiry)
	default:
		out.result = model.VerifyFail
		out.confidence = float64(model.TierConfirmed)
		out.notes = "Certificate is expired."
	}
	return out
}

// verifyScanCompare compares a count function between the originating scan
// and the latest scan of the same domain.
func (e *Engine) verifyScanCompare(ctx context.Context, d model.Decision, before model.Scan,
	count func(model.Scan) int, what string) outcome {
	after, ok, err := e.comparisonScan(ctx, d, before)
	if err != nil {
		return probeFailure(err)
	}
	if !ok {
		return outcome{
			result:     model.VerifyUnknown,
			confidence: float64(model.TierNoAfterScan),
			notes:      "No scan has run since the decision was resolved; nothing to compare against.",
		}
	}

	beforeCount, afterCount := count(before), count(after)
	return e.compareCounts(d, before, after, beforeCount, afterCount, what)
}

// verifyTriggerCompare compares the action's trigger count between snapshots.
func (e *Engine) verifyTriggerCompare(ctx context.Context, d model.Decision, before model.Scan) outcome {
	after, ok, err := e.comparisonScan(ctx, d, before)
	if err != nil {
		return probeFailure(err)
	}
	if !ok {
		return outcome{
			result:     model.VerifyUnknown,
			confidence: float64(model.TierNoAfterScan),
			notes:      "No scan has run since the decision was resolved; nothing to compare against.",
		}
	}

	beforeCount, _ := decision.TriggerCount(d.ActionID, before, e.aiScanFor(ctx, before.ID))
	afterCount, _ := decision.TriggerCount(d.ActionID, after, e.aiScanFor(ctx, after.ID))
	return e.compareCounts(d, before, after, beforeCount, afterCount, "triggering signals")
}

func (e *Engine) compareCounts(d model.Decision, before, after model.Scan, beforeCount, afterCount int, what string) outcome {
	confidence := float64(model.TierConfirmed)
	staleNote := ""
	if time.Since(after.CreatedAt) > recentWindow {
		confidence = float64(model.TierStaleScan)
		staleNote = " The comparison scan is older than seven days."
	}

	out := outcome{
		confidence: confidence,
		before:     map[string]any{"count": beforeCount, "scan_id": before.ID.String()},
		after:      map[string]any{"count": afterCount, "scan_id": after.ID.String()},
		evidence:   map[string]any{"before_count": beforeCount, "after_count": afterCount},
		afterScan:  &after,
	}
	if afterCount < beforeCount {
		out.result = model.VerifyPass
		out.notes = fmt.Sprintf("%s dropped from %d to %d.%s", what, beforeCount, afterCount, staleNote)
	} else {
		out.result = model.VerifyFail
		out.notes = fmt.Sprintf("%s did not decrease (%d before, %d after).%s", what, beforeCount, afterCount, staleNote)
	}
	return out
}

// comparisonScan returns the latest scan strictly newer than the decision's
// resolution (or creation, when resolved_at is unset).
func (e *Engine) comparisonScan(ctx context.Context, d model.Decision, before model.Scan) (model.Scan, bool, error) {
	latest, err := e.db.GetLatestScanForDomain(ctx, before.Domain)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Scan{}, false, nil
		}
		return model.Scan{}, false, err
	}
	cutoff := d.CreatedAt
	if d.ResolvedAt != nil {
		cutoff = *d.ResolvedAt
	}
	if latest.ID == before.ID || !latest.CreatedAt.After(cutoff) {
		return model.Scan{}, false, nil
	}
	return latest, true, nil
}

func (e *Engine) aiScanFor(ctx context.Context, scanID uuid.UUID) *model.AIScan {
	ai, err := e.db.GetAIScanByScanID(ctx, scanID)
	if err != nil {
		return nil
	}
	return &ai
}

// record persists the verification run and evidence, and applies a pass to
// the decision.
func (e *Engine) record(ctx context.Context, d model.Decision, before model.Scan, out outcome) (model.VerificationRun, error) {
	now := time.Now().UTC()
	run, err := e.db.CreateVerificationRun(ctx, model.VerificationRun{
		DecisionID:  d.ID,
		Result:      out.result,
		Confidence:  out.confidence,
		Notes:       out.notes,
		Evidence:    out.evidence,
		CompletedAt: &now,
	})
	if err != nil {
		return model.VerificationRun{}, err
	}

	if out.before != nil {
		if _, err := e.db.CreateDecisionEvidence(ctx, model.DecisionEvidence{
			DecisionID: d.ID, ScanID: &before.ID, Kind: model.EvidenceBefore, Payload: out.before,
		}); err != nil {
			e.logger.Warn("persist before evidence failed", "decision_id", d.ID, "error", err)
		}
	}
	if out.after != nil {
		var afterScanID *uuid.UUID
		if out.afterScan != nil {
			afterScanID = &out.afterScan.ID
		}
		if _, err := e.db.CreateDecisionEvidence(ctx, model.DecisionEvidence{
			DecisionID: d.ID, ScanID: afterScanID, Kind: model.EvidenceAfter, Payload: out.after,
		}); err != nil {
			e.logger.Warn("persist after evidence failed", "decision_id", d.ID, "error", err)
		}
	}

	if out.result == model.VerifyPass {
		e.applyPass(ctx, d, out)
	}
	return run, nil
}

// applyPass advances the decision to verified and copies the confidence onto
// it. A refused transition (for example a pending decision verified out of
// band) is logged, not fatal.
func (e *Engine) applyPass(ctx context.Context, d model.Decision, out outcome) {
	res, err := e.decisions.Transition(ctx, d.ID, model.DecisionVerified)
	if err != nil {
		e.logger.Warn("advance to verified failed", "decision_id", d.ID, "error", err)
		return
	}

	verified := res.Decision
	verified.ConfidenceScore = out.confidence
	verified.ConfidenceReason = out.notes
	if verified.VerificationScanID == nil && out.afterScan != nil {
		id := out.afterScan.ID
		verified.VerificationScanID = &id
	}
	if err := e.db.UpdateDecision(ctx, verified); err != nil {
		e.logger.Warn("persist verification confidence failed", "decision_id", d.ID, "error", err)
		return
	}

	if e.events != nil {
		e.events.Emit(ctx, verified.OrgID, model.EventDecisionVerified, map[string]any{
			"decision_id": verified.ID.String(),
			"action_id":   verified.ActionID,
			"confidence":  out.confidence,
			"notes":       out.notes,
		})
	}
}

// AutoVerify runs after every completed scan: each resolved-but-unverified
// decision for the scan's org whose resolution predates the scan is checked
// against the fresh snapshot, and advanced to verified on a pass with full
// confidence. Auto-verification never fails the enclosing scan.
func (e *Engine) AutoVerify(ctx context.Context, scan model.Scan, aiScan *model.AIScan) {
	pending, err := e.db.ListResolvedUnverifiedDecisions(ctx, scan.OrgID)
	if err != nil {
		e.logger.Warn("list decisions for auto-verification failed", "org_id", scan.OrgID, "error", err)
		return
	}

	for _, d := range pending {
		if d.ResolvedAt == nil || d.ResolvedAt.After(scan.CreatedAt) {
			continue
		}
		// Process audits have no externally observable fix to confirm.
		if d.ActionID == "audit-ai-tools" {
			continue
		}
		e.autoVerifyOne(ctx, d, scan, aiScan)
	}
}

func (e *Engine) autoVerifyOne(ctx context.Context, d model.Decision, scan model.Scan, aiScan *model.AIScan) {
	before, err := e.db.GetScan(ctx, d.ScanID)
	if err != nil {
		e.logger.Warn("load originating scan for auto-verification failed", "decision_id", d.ID, "error", err)
		return
	}
	if before.Domain != scan.Domain || before.ID == scan.ID {
		return
	}

	beforeCount, known := decision.TriggerCount(d.ActionID, before, e.aiScanFor(ctx, before.ID))
	if !known {
		return
	}
	afterCount, _ := decision.TriggerCount(d.ActionID, scan, aiScan)
	if afterCount >= beforeCount {
		return
	}

	out := outcome{
		result:     model.VerifyPass,
		confidence: float64(model.TierConfirmed),
		notes: fmt.Sprintf("Auto-verified by a fresh scan: triggering signals dropped from %d to %d.",
			beforeCount, afterCount),
		evidence:  map[string]any{"before_count": beforeCount, "after_count": afterCount, "auto": true},
		before:    map[string]any{"count": beforeCount, "scan_id": before.ID.String()},
		after:     map[string]any{"count": afterCount, "scan_id": scan.ID.String()},
		afterScan: &scan,
	}
	if _, err := e.record(ctx, d, before, out); err != nil {
		e.logger.Warn("auto-verification record failed", "decision_id", d.ID, "error", err)
	}
}
