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

// UpsertDecisionImpact writes the single impact row for a decision, replacing
// any prior measurement.
func (db *DB) UpsertDecisionImpact(ctx context.Context, imp model.DecisionImpact) (model.DecisionImpact, error) {
	if imp.ID == uuid.Nil {
		imp.ID = uuid.New()
	}
	if imp.ComputedAt.IsZero() {
		imp.ComputedAt = time.Now().UTC()
	}

	return imp, db.withTx(ctx, func(tx *Tx) error {
		if _, err := tx.exec(ctx,
			`DELETE FROM decision_impacts WHERE decision_id = $1`, imp.DecisionID); err != nil {
			return fmt.Errorf("storage: clear decision impact: %w", err)
		}
		_, err := tx.exec(ctx,
			`INSERT INTO decision_impacts (id, org_id, decision_id, scan_id, resolved_scan_id,
			 risk_before, risk_after, delta, confidence, notes, computed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			imp.ID, imp.OrgID, imp.DecisionID,
			uuid.NullUUID{UUID: deref(imp.ScanID), Valid: imp.ScanID != nil},
			uuid.NullUUID{UUID: deref(imp.ResolvedScanID), Valid: imp.ResolvedScanID != nil},
			imp.RiskBefore, nullInt(imp.RiskAfter), nullInt(imp.Delta),
			imp.Confidence, nullStr(imp.Notes), imp.ComputedAt,
		)
		if err != nil {
			return fmt.Errorf("storage: upsert decision impact: %w", err)
		}
		return nil
	})
}

const impactColumns = `id, org_id, decision_id, scan_id, resolved_scan_id,
	 risk_before, risk_after, delta, confidence, notes, computed_at`

func scanImpact(row interface{ Scan(...any) error }) (model.DecisionImpact, error) {
	var imp model.DecisionImpact
	var scanID, resolvedScanID uuid.NullUUID
	var riskAfter, delta sql.NullInt64
	var notes sql.NullString
	err := row.Scan(&imp.ID, &imp.OrgID, &imp.DecisionID, &scanID, &resolvedScanID,
		&imp.RiskBefore, &riskAfter, &delta, &imp.Confidence, &notes, &imp.ComputedAt)
	if err != nil {
		return model.DecisionImpact{}, err
	}
	if scanID.Valid {
		id := scanID.UUID
		imp.ScanID = &id
	}
	if resolvedScanID.Valid {
		id := resolvedScanID.UUID
		imp.ResolvedScanID = &id
	}
	imp.RiskAfter = intPtr(riskAfter)
	imp.Delta = intPtr(delta)
	imp.Notes = notes.String
	return imp, nil
}

// GetDecisionImpact returns the impact row for a decision.
func (db *DB) GetDecisionImpact(ctx context.Context, decisionID uuid.UUID) (model.DecisionImpact, error) {
	imp, err := scanImpact(db.queryRow(ctx,
		`SELECT `+impactColumns+` FROM decision_impacts WHERE decision_id = $1`, decisionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.DecisionImpact{}, ErrNotFound
		}
		return model.DecisionImpact{}, fmt.Errorf("storage: get decision impact: %w", err)
	}
	return imp, nil
}

// DeleteDecisionImpact removes the impact row for a decision. Used when a
// resolved decision is reopened. Deleting a missing row is not an error.
func (db *DB) DeleteDecisionImpact(ctx context.Context, decisionID uuid.UUID) error {
	if _, err := db.exec(ctx,
		`DELETE FROM decision_impacts WHERE decision_id = $1`, decisionID); err != nil {
		return fmt.Errorf("storage: delete decision impact: %w", err)
	}
	return nil
}

// ListDecisionImpactsByOrg returns an org's impact measurements, newest first.
func (db *DB) ListDecisionImpactsByOrg(ctx context.Context, orgID uuid.UUID) ([]model.DecisionImpact, error) {
	rows, err := db.query(ctx,
		`SELECT `+impactColumns+` FROM decision_impacts WHERE org_id = $1 ORDER BY computed_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("storage: list decision impacts: %w", err)
	}
	defer rows.Close()

	var out []model.DecisionImpact
	for rows.Next() {
		imp, err := scanImpact(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan impact row: %w", err)
		}
		out = append(out, imp)
	}
	return out, rows.Err()
}
