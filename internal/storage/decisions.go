package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/threatveil/threatveil/internal/model"
)

// CreateDecision inserts a decision and returns it.
func (db *DB) CreateDecision(ctx context.Context, d model.Decision) (model.Decision, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = model.DecisionPending
	}

	_, err := db.exec(ctx,
		`INSERT INTO decisions (id, org_id, scan_id, action_id, title, recommended_fix, effort_estimate,
		 estimated_risk_reduction, priority, status, before_score, after_score, business_impact,
		 confidence_score, confidence_reason, verification_scan_id, created_at, updated_at,
		 accepted_at, resolved_at, verified_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		d.ID, d.OrgID, d.ScanID, d.ActionID, d.Title, d.RecommendedFix, d.EffortEstimate,
		d.EstimatedRiskReduction, d.Priority, d.Status, nullInt(d.BeforeScore), nullInt(d.AfterScore),
		nullStr(d.BusinessImpact), d.ConfidenceScore, nullStr(d.ConfidenceReason),
		uuid.NullUUID{UUID: deref(d.VerificationScanID), Valid: d.VerificationScanID != nil},
		d.CreatedAt, d.UpdatedAt, nullTime(d.AcceptedAt), nullTime(d.ResolvedAt), nullTime(d.VerifiedAt),
	)
	if err != nil {
		return model.Decision{}, fmt.Errorf("storage: create decision: %w", err)
	}
	return d, nil
}

func deref(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}

const decisionColumns = `id, org_id, scan_id, action_id, title, recommended_fix, effort_estimate,
	 estimated_risk_reduction, priority, status, before_score, after_score, business_impact,
	 confidence_score, confidence_reason, verification_scan_id, created_at, updated_at,
	 accepted_at, resolved_at, verified_at`

func scanDecision(row interface{ Scan(...any) error }) (model.Decision, error) {
	var d model.Decision
	var before, after sql.NullInt64
	var businessImpact, confidenceReason sql.NullString
	var verificationScanID uuid.NullUUID
	var acceptedAt, resolvedAt, verifiedAt sql.NullTime
	err := row.Scan(&d.ID, &d.OrgID, &d.ScanID, &d.ActionID, &d.Title, &d.RecommendedFix, &d.EffortEstimate,
		&d.EstimatedRiskReduction, &d.Priority, &d.Status, &before, &after, &businessImpact,
		&d.ConfidenceScore, &confidenceReason, &verificationScanID, &d.CreatedAt, &d.UpdatedAt,
		&acceptedAt, &resolvedAt, &verifiedAt)
	if err != nil {
		return model.Decision{}, err
	}
	d.BeforeScore = intPtr(before)
	d.AfterScore = intPtr(after)
	d.BusinessImpact = businessImpact.String
	d.ConfidenceReason = confidenceReason.String
	if verificationScanID.Valid {
		id := verificationScanID.UUID
		d.VerificationScanID = &id
	}
	d.AcceptedAt = timePtr(acceptedAt)
	d.ResolvedAt = timePtr(resolvedAt)
	d.VerifiedAt = timePtr(verifiedAt)
	return d, nil
}

// GetDecision retrieves a decision by ID.
func (db *DB) GetDecision(ctx context.Context, id uuid.UUID) (model.Decision, error) {
	d, err := scanDecision(db.queryRow(ctx, `SELECT `+decisionColumns+` FROM decisions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Decision{}, ErrNotFound
		}
		return model.Decision{}, fmt.Errorf("storage: get decision: %w", err)
	}
	return d, nil
}

// UpdateDecision persists all mutable decision fields.
func (db *DB) UpdateDecision(ctx context.Context, d model.Decision) error {
	d.UpdatedAt = time.Now().UTC()
	res, err := db.exec(ctx,
		`UPDATE decisions SET status = $1, before_score = $2, after_score = $3,
		 confidence_score = $4, confidence_reason = $5, verification_scan_id = $6,
		 updated_at = $7, accepted_at = $8, resolved_at = $9, verified_at = $10
		 WHERE id = $11`,
		d.Status, nullInt(d.BeforeScore), nullInt(d.AfterScore),
		d.ConfidenceScore, nullStr(d.ConfidenceReason),
		uuid.NullUUID{UUID: deref(d.VerificationScanID), Valid: d.VerificationScanID != nil},
		d.UpdatedAt, nullTime(d.AcceptedAt), nullTime(d.ResolvedAt), nullTime(d.VerifiedAt),
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: update decision: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update decision: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDecisionsByScan returns a scan's decisions ordered by priority.
func (db *DB) ListDecisionsByScan(ctx context.Context, scanID uuid.UUID) ([]model.Decision, error) {
	return db.listDecisions(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE scan_id = $1 ORDER BY priority ASC`, scanID)
}

// ListDecisionsByOrg returns all of an org's decisions, newest first.
func (db *DB) ListDecisionsByOrg(ctx context.Context, orgID uuid.UUID, limit int) ([]model.Decision, error) {
	if limit <= 0 {
		limit = 100
	}
	return db.listDecisions(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE org_id = $1 ORDER BY created_at DESC LIMIT $2`,
		orgID, limit)
}

// ListOpenDecisionsByOrg returns decisions that have not reached resolved or
// verified, used for idempotent generation.
func (db *DB) ListOpenDecisionsByOrg(ctx context.Context, orgID uuid.UUID) ([]model.Decision, error) {
	return db.listDecisions(ctx,
		`SELECT `+decisionColumns+` FROM decisions
		 WHERE org_id = $1 AND status IN ('pending', 'accepted', 'in_progress')
		 ORDER BY priority ASC`, orgID)
}

// ListResolvedUnverifiedDecisions returns an org's decisions awaiting
// verification, picked up by the post-scan auto-verification pass.
func (db *DB) ListResolvedUnverifiedDecisions(ctx context.Context, orgID uuid.UUID) ([]model.Decision, error) {
	return db.listDecisions(ctx,
		`SELECT `+decisionColumns+` FROM decisions
		 WHERE org_id = $1 AND status = 'resolved' AND verified_at IS NULL
		 ORDER BY priority ASC`, orgID)
}

func (db *DB) listDecisions(ctx context.Context, query string, args ...any) ([]model.Decision, error) {
	rows, err := db.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list decisions: %w", err)
	}
	defer rows.Close()

	var out []model.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan decision row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DecisionRollup summarizes an org's decisions: per-status counts plus the
// measured risk reduction summed over positive impact deltas.
type DecisionRollup struct {
	Counts             map[model.DecisionStatus]int `json:"counts"`
	Total              int                          `json:"total"`
	TotalRiskReduction int                          `json:"total_risk_reduction"`
}

// GetDecisionRollup computes the rollup for an org.
func (db *DB) GetDecisionRollup(ctx context.Context, orgID uuid.UUID) (DecisionRollup, error) {
	rollup := DecisionRollup{Counts: map[model.DecisionStatus]int{}}

	rows, err := db.query(ctx,
		`SELECT status, COUNT(*) FROM decisions WHERE org_id = $1 GROUP BY status`, orgID)
	if err != nil {
		return DecisionRollup{}, fmt.Errorf("storage: decision rollup: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status model.DecisionStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return DecisionRollup{}, fmt.Errorf("storage: scan rollup row: %w", err)
		}
		rollup.Counts[status] = count
		rollup.Total += count
	}
	if err := rows.Err(); err != nil {
		return DecisionRollup{}, err
	}

	var reduction sql.NullInt64
	err = db.queryRow(ctx,
		`SELECT SUM(delta) FROM decision_impacts WHERE org_id = $1 AND delta > 0`, orgID,
	).Scan(&reduction)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return DecisionRollup{}, fmt.Errorf("storage: rollup risk reduction: %w", err)
	}
	if reduction.Valid {
		rollup.TotalRiskReduction = int(reduction.Int64)
	}
	return rollup, nil
}
