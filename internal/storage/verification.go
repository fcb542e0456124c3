package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/threatveil/threatveil/internal/model"
)

// CreateVerificationRun records one verification attempt on a decision.
func (db *DB) CreateVerificationRun(ctx context.Context, run model.VerificationRun) (model.VerificationRun, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Evidence == nil {
		run.Evidence = map[string]any{}
	}
	evidence, err := jsonCol(run.Evidence)
	if err != nil {
		return model.VerificationRun{}, err
	}
	_, err = db.exec(ctx,
		`INSERT INTO verification_runs (id, decision_id, result, confidence, notes, evidence, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.DecisionID, run.Result, run.Confidence, nullStr(run.Notes),
		evidence, run.StartedAt, nullTime(run.CompletedAt),
	)
	if err != nil {
		return model.VerificationRun{}, fmt.Errorf("storage: create verification run: %w", err)
	}
	return run, nil
}

// ListVerificationRuns returns a decision's verification attempts, newest first.
func (db *DB) ListVerificationRuns(ctx context.Context, decisionID uuid.UUID) ([]model.VerificationRun, error) {
	rows, err := db.query(ctx,
		`SELECT id, decision_id, result, confidence, notes, evidence, started_at, completed_at
		 FROM verification_runs WHERE decision_id = $1 ORDER BY started_at DESC`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("storage: list verification runs: %w", err)
	}
	defer rows.Close()

	var out []model.VerificationRun
	for rows.Next() {
		var run model.VerificationRun
		var notes, evidence sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(&run.ID, &run.DecisionID, &run.Result, &run.Confidence,
			&notes, &evidence, &run.StartedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("storage: scan verification run: %w", err)
		}
		run.Notes = notes.String
		run.Evidence = map[string]any{}
		if err := scanJSON(evidence, &run.Evidence); err != nil {
			return nil, err
		}
		run.CompletedAt = timePtr(completedAt)
		out = append(out, run)
	}
	return out, rows.Err()
}

// CreateDecisionEvidence stores a before/after/diff snapshot for a decision.
func (db *DB) CreateDecisionEvidence(ctx context.Context, ev model.DecisionEvidence) (model.DecisionEvidence, error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.Payload == nil {
		ev.Payload = map[string]any{}
	}
	payload, err := jsonCol(ev.Payload)
	if err != nil {
		return model.DecisionEvidence{}, err
	}
	_, err = db.exec(ctx,
		`INSERT INTO decision_evidence (id, decision_id, scan_id, kind, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.DecisionID,
		uuid.NullUUID{UUID: deref(ev.ScanID), Valid: ev.ScanID != nil},
		ev.Kind, payload, ev.CreatedAt,
	)
	if err != nil {
		return model.DecisionEvidence{}, fmt.Errorf("storage: create decision evidence: %w", err)
	}
	return ev, nil
}

// ListDecisionEvidence returns a decision's evidence snapshots, oldest first.
func (db *DB) ListDecisionEvidence(ctx context.Context, decisionID uuid.UUID) ([]model.DecisionEvidence, error) {
	rows, err := db.query(ctx,
		`SELECT id, decision_id, scan_id, kind, payload, created_at
		 FROM decision_evidence WHERE decision_id = $1 ORDER BY created_at ASC`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("storage: list decision evidence: %w", err)
	}
	defer rows.Close()

	var out []model.DecisionEvidence
	for rows.Next() {
		var ev model.DecisionEvidence
		var scanID uuid.NullUUID
		var payload sql.NullString
		if err := rows.Scan(&ev.ID, &ev.DecisionID, &scanID, &ev.Kind, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan decision evidence: %w", err)
		}
		if scanID.Valid {
			id := scanID.UUID
			ev.ScanID = &id
		}
		ev.Payload = map[string]any{}
		if err := scanJSON(payload, &ev.Payload); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
