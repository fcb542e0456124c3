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

// CreateScan persists a completed scan with its signals and category scores.
// Scans are immutable once written.
func (db *DB) CreateScan(ctx context.Context, s model.Scan) (model.Scan, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.Signals == nil {
		s.Signals = []model.Signal{}
	}
	if s.Categories == nil {
		s.Categories = map[model.Category]model.CategoryScore{}
	}

	signals, err := jsonCol(s.Signals)
	if err != nil {
		return model.Scan{}, err
	}
	categories, err := jsonCol(s.Categories)
	if err != nil {
		return model.Scan{}, err
	}
	raw, err := jsonCol(s.RawPayload)
	if err != nil {
		return model.Scan{}, err
	}

	_, err = db.exec(ctx,
		`INSERT INTO scans (id, org_id, domain, code_org, risk_score, likelihood_30d, likelihood_90d,
		 categories, signals, summary, raw_payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.OrgID, s.Domain, nullStr(s.CodeOrg), s.RiskScore, s.Likelihood30d, s.Likelihood90d,
		categories, signals, s.Summary, raw, s.CreatedAt,
	)
	if err != nil {
		return model.Scan{}, fmt.Errorf("storage: create scan: %w", err)
	}
	return s, nil
}

const scanColumns = `id, org_id, domain, code_org, risk_score, likelihood_30d, likelihood_90d,
	 categories, signals, summary, raw_payload, created_at`

func scanScan(row interface{ Scan(...any) error }) (model.Scan, error) {
	var s model.Scan
	var codeOrg, categories, signals, raw sql.NullString
	err := row.Scan(&s.ID, &s.OrgID, &s.Domain, &codeOrg, &s.RiskScore,
		&s.Likelihood30d, &s.Likelihood90d, &categories, &signals, &s.Summary, &raw, &s.CreatedAt)
	if err != nil {
		return model.Scan{}, err
	}
	s.CodeOrg = codeOrg.String
	s.Categories = map[model.Category]model.CategoryScore{}
	s.Signals = []model.Signal{}
	if err := scanJSON(categories, &s.Categories); err != nil {
		return model.Scan{}, err
	}
	if err := scanJSON(signals, &s.Signals); err != nil {
		return model.Scan{}, err
	}
	if err := scanJSON(raw, &s.RawPayload); err != nil {
		return model.Scan{}, err
	}
	return s, nil
}

// GetScan retrieves a scan by ID.
func (db *DB) GetScan(ctx context.Context, id uuid.UUID) (model.Scan, error) {
	s, err := scanScan(db.queryRow(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Scan{}, ErrNotFound
		}
		return model.Scan{}, fmt.Errorf("storage: get scan: %w", err)
	}
	return s, nil
}

// DeleteScan removes a scan and its AI sub-scan.
func (db *DB) DeleteScan(ctx context.Context, id uuid.UUID) error {
	if _, err := db.exec(ctx, `DELETE FROM ai_scans WHERE scan_id = $1`, id); err != nil {
		return fmt.Errorf("storage: delete ai scan: %w", err)
	}
	res, err := db.exec(ctx, `DELETE FROM scans WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete scan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: delete scan: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPreviousScan returns the latest scan for the same domain created
// strictly before the given scan.
func (db *DB) GetPreviousScan(ctx context.Context, s model.Scan) (model.Scan, error) {
	prev, err := scanScan(db.queryRow(ctx,
		`SELECT `+scanColumns+` FROM scans
		 WHERE domain = $1 AND created_at < $2 AND id <> $3
		 ORDER BY created_at DESC LIMIT 1`,
		s.Domain, s.CreatedAt, s.ID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Scan{}, ErrNotFound
		}
		return model.Scan{}, fmt.Errorf("storage: get previous scan: %w", err)
	}
	return prev, nil
}

// GetLatestScanForDomain returns the most recent scan of a domain.
func (db *DB) GetLatestScanForDomain(ctx context.Context, domain string) (model.Scan, error) {
	s, err := scanScan(db.queryRow(ctx,
		`SELECT `+scanColumns+` FROM scans WHERE domain = $1 ORDER BY created_at DESC LIMIT 1`,
		domain,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Scan{}, ErrNotFound
		}
		return model.Scan{}, fmt.Errorf("storage: get latest scan: %w", err)
	}
	return s, nil
}

// ListScansByOrg returns an org's scans, newest first.
func (db *DB) ListScansByOrg(ctx context.Context, orgID uuid.UUID, limit int) ([]model.Scan, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.query(ctx,
		`SELECT `+scanColumns+` FROM scans WHERE org_id = $1 ORDER BY created_at DESC LIMIT $2`,
		orgID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list scans: %w", err)
	}
	defer rows.Close()

	var out []model.Scan
	for rows.Next() {
		s, err := scanScan(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan scans row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListScansSince returns an org's scans created at or after the cutoff,
// oldest first, for trend computation.
func (db *DB) ListScansSince(ctx context.Context, orgID uuid.UUID, since time.Time) ([]model.Scan, error) {
	rows, err := db.query(ctx,
		`SELECT `+scanColumns+` FROM scans WHERE org_id = $1 AND created_at >= $2 ORDER BY created_at ASC`,
		orgID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list scans since: %w", err)
	}
	defer rows.Close()

	var out []model.Scan
	for rows.Next() {
		s, err := scanScan(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan scans row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CreateAIScan persists the AI sub-scan attached to a scan.
func (db *DB) CreateAIScan(ctx context.Context, a model.AIScan) (model.AIScan, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Tools == nil {
		a.Tools = []string{}
	}
	if a.Keys == nil {
		a.Keys = []model.AIKeyLeak{}
	}
	tools, err := jsonCol(a.Tools)
	if err != nil {
		return model.AIScan{}, err
	}
	keys, err := jsonCol(a.Keys)
	if err != nil {
		return model.AIScan{}, err
	}
	_, err = db.exec(ctx,
		`INSERT INTO ai_scans (id, scan_id, tools, leaked_keys, score, summary, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.ScanID, tools, keys, a.Score, a.Summary, a.CreatedAt,
	)
	if err != nil {
		return model.AIScan{}, fmt.Errorf("storage: create ai scan: %w", err)
	}
	return a, nil
}

// GetAIScanByScanID retrieves the AI sub-scan for a scan.
func (db *DB) GetAIScanByScanID(ctx context.Context, scanID uuid.UUID) (model.AIScan, error) {
	var a model.AIScan
	var tools, keys sql.NullString
	err := db.queryRow(ctx,
		`SELECT id, scan_id, tools, leaked_keys, score, summary, created_at
		 FROM ai_scans WHERE scan_id = $1`, scanID,
	).Scan(&a.ID, &a.ScanID, &tools, &keys, &a.Score, &a.Summary, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AIScan{}, ErrNotFound
		}
		return model.AIScan{}, fmt.Errorf("storage: get ai scan: %w", err)
	}
	a.Tools = []string{}
	a.Keys = []model.AIKeyLeak{}
	if err := scanJSON(tools, &a.Tools); err != nil {
		return model.AIScan{}, err
	}
	if err := scanJSON(keys, &a.Keys); err != nil {
		return model.AIScan{}, err
	}
	return a, nil
}
