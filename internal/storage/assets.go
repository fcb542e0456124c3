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

// CreateAsset inserts an asset and its scan schedule.
func (db *DB) CreateAsset(ctx context.Context, a model.Asset) (model.Asset, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if a.Status == "" {
		a.Status = model.AssetActive
	}
	if a.RiskWeight == 0 {
		a.RiskWeight = 1.0
	}
	if a.Frequency == "" {
		a.Frequency = model.FrequencyWeekly
	}

	err := db.withTx(ctx, func(tx *Tx) error {
		_, err := tx.exec(ctx,
			`INSERT INTO assets (id, org_id, type, name, risk_weight, priority, scan_frequency,
			 last_scan_at, next_scan_at, last_risk_score, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			a.ID, a.OrgID, a.Type, a.Name, a.RiskWeight, a.Priority, a.Frequency,
			nullTime(a.LastScanAt), nullTime(a.NextScanAt), nullInt(a.LastRiskScore),
			a.Status, a.CreatedAt, a.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("storage: create asset: %w", err)
		}

		if a.Probeable() && a.Frequency != model.FrequencyManual {
			nextRun := now.Add(a.Frequency.Interval())
			_, err = tx.exec(ctx,
				`INSERT INTO scan_schedules (id, asset_id, frequency, next_run_at, status, run_count, error_count)
				 VALUES ($1, $2, $3, $4, 'active', 0, 0)`,
				uuid.New(), a.ID, a.Frequency, nextRun,
			)
			if err != nil {
				return fmt.Errorf("storage: create scan schedule: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return model.Asset{}, err
	}
	return a, nil
}

const assetColumns = `id, org_id, type, name, risk_weight, priority, scan_frequency,
	 last_scan_at, next_scan_at, last_risk_score, status, created_at, updated_at`

func scanAsset(row interface{ Scan(...any) error }) (model.Asset, error) {
	var a model.Asset
	var lastScanAt, nextScanAt sql.NullTime
	var lastRisk sql.NullInt64
	err := row.Scan(&a.ID, &a.OrgID, &a.Type, &a.Name, &a.RiskWeight, &a.Priority, &a.Frequency,
		&lastScanAt, &nextScanAt, &lastRisk, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return model.Asset{}, err
	}
	a.LastScanAt = timePtr(lastScanAt)
	a.NextScanAt = timePtr(nextScanAt)
	a.LastRiskScore = intPtr(lastRisk)
	return a, nil
}

// GetAsset retrieves an asset by ID.
func (db *DB) GetAsset(ctx context.Context, id uuid.UUID) (model.Asset, error) {
	a, err := scanAsset(db.queryRow(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE id = $1 AND status <> 'deleted'`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Asset{}, ErrNotFound
		}
		return model.Asset{}, fmt.Errorf("storage: get asset: %w", err)
	}
	return a, nil
}

// ListAssetsByOrg returns an org's non-deleted assets.
func (db *DB) ListAssetsByOrg(ctx context.Context, orgID uuid.UUID) ([]model.Asset, error) {
	rows, err := db.query(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE org_id = $1 AND status <> 'deleted' ORDER BY created_at ASC`,
		orgID)
	if err != nil {
		return nil, fmt.Errorf("storage: list assets: %w", err)
	}
	defer rows.Close()

	var out []model.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan asset row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAsset persists mutable asset fields and keeps the schedule frequency
// in sync.
func (db *DB) UpdateAsset(ctx context.Context, a model.Asset) error {
	a.UpdatedAt = time.Now().UTC()
	return db.withTx(ctx, func(tx *Tx) error {
		res, err := tx.exec(ctx,
			`UPDATE assets SET name = $1, risk_weight = $2, priority = $3, scan_frequency = $4,
			 last_scan_at = $5, next_scan_at = $6, last_risk_score = $7, status = $8, updated_at = $9
			 WHERE id = $10`,
			a.Name, a.RiskWeight, a.Priority, a.Frequency,
			nullTime(a.LastScanAt), nullTime(a.NextScanAt), nullInt(a.LastRiskScore),
			a.Status, a.UpdatedAt, a.ID,
		)
		if err != nil {
			return fmt.Errorf("storage: update asset: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("storage: update asset: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		_, err = tx.exec(ctx,
			`UPDATE scan_schedules SET frequency = $1 WHERE asset_id = $2`, a.Frequency, a.ID)
		if err != nil {
			return fmt.Errorf("storage: sync schedule frequency: %w", err)
		}
		return nil
	})
}

// DeleteAsset soft-deletes an asset and pauses its schedule.
func (db *DB) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	return db.withTx(ctx, func(tx *Tx) error {
		res, err := tx.exec(ctx,
			`UPDATE assets SET status = 'deleted', updated_at = $1 WHERE id = $2 AND status <> 'deleted'`,
			time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("storage: delete asset: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("storage: delete asset: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		if _, err := tx.exec(ctx,
			`UPDATE scan_schedules SET status = 'paused' WHERE asset_id = $1`, id); err != nil {
			return fmt.Errorf("storage: pause schedule: %w", err)
		}
		return nil
	})
}

const scheduleColumns = `id, asset_id, frequency, next_run_at, last_run_at, last_scan_id,
	 status, run_count, error_count, last_error`

func scanSchedule(row interface{ Scan(...any) error }) (model.ScanSchedule, error) {
	var s model.ScanSchedule
	var nextRunAt, lastRunAt sql.NullTime
	var lastScanID uuid.NullUUID
	var lastError sql.NullString
	err := row.Scan(&s.ID, &s.AssetID, &s.Frequency, &nextRunAt, &lastRunAt, &lastScanID,
		&s.Status, &s.RunCount, &s.ErrorCount, &lastError)
	if err != nil {
		return model.ScanSchedule{}, err
	}
	s.NextRunAt = timePtr(nextRunAt)
	s.LastRunAt = timePtr(lastRunAt)
	if lastScanID.Valid {
		id := lastScanID.UUID
		s.LastScanID = &id
	}
	s.LastError = lastError.String
	return s, nil
}

// ListDueSchedules returns active schedules whose next run is at or before now.
func (db *DB) ListDueSchedules(ctx context.Context, now time.Time) ([]model.ScanSchedule, error) {
	rows, err := db.query(ctx,
		`SELECT `+scheduleColumns+` FROM scan_schedules
		 WHERE status = 'active' AND next_run_at IS NOT NULL AND next_run_at <= $1
		 ORDER BY next_run_at ASC`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("storage: list due schedules: %w", err)
	}
	defer rows.Close()

	var out []model.ScanSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan schedule row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListSchedules returns all schedules, for the scheduler status snapshot.
func (db *DB) ListSchedules(ctx context.Context) ([]model.ScanSchedule, error) {
	rows, err := db.query(ctx,
		`SELECT `+scheduleColumns+` FROM scan_schedules ORDER BY next_run_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list schedules: %w", err)
	}
	defer rows.Close()

	var out []model.ScanSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan schedule row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateSchedule persists scheduler bookkeeping after a run attempt.
func (db *DB) UpdateSchedule(ctx context.Context, s model.ScanSchedule) error {
	res, err := db.exec(ctx,
		`UPDATE scan_schedules SET frequency = $1, next_run_at = $2, last_run_at = $3,
		 last_scan_id = $4, status = $5, run_count = $6, error_count = $7, last_error = $8
		 WHERE id = $9`,
		s.Frequency, nullTime(s.NextRunAt), nullTime(s.LastRunAt),
		uuid.NullUUID{UUID: deref(s.LastScanID), Valid: s.LastScanID != nil},
		s.Status, s.RunCount, s.ErrorCount, nullStr(s.LastError), s.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: update schedule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update schedule: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
