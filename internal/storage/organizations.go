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

// CreateOrganization inserts a new organization.
func (db *DB) CreateOrganization(ctx context.Context, org model.Organization) (model.Organization, error) {
	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	now := time.Now().UTC()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	org.UpdatedAt = now
	if org.Plan == "" {
		org.Plan = model.PlanFree
	}
	if org.ScansLimit == 0 {
		org.ScansLimit = model.DefaultScanLimit
	}

	_, err := db.exec(ctx,
		`INSERT INTO organizations (id, name, primary_domain, plan, scans_this_month, scans_limit, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		org.ID, org.Name, org.PrimaryDomain, org.Plan, org.ScansThisMonth, org.ScansLimit, org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		return model.Organization{}, fmt.Errorf("storage: create organization: %w", err)
	}
	return org, nil
}

const orgColumns = `id, name, primary_domain, plan, scans_this_month, scans_limit, created_at, updated_at`

func scanOrg(row interface{ Scan(...any) error }) (model.Organization, error) {
	var org model.Organization
	var name sql.NullString
	err := row.Scan(&org.ID, &name, &org.PrimaryDomain, &org.Plan,
		&org.ScansThisMonth, &org.ScansLimit, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return model.Organization{}, err
	}
	org.Name = name.String
	return org, nil
}

// GetOrganization retrieves an org by ID.
func (db *DB) GetOrganization(ctx context.Context, id uuid.UUID) (model.Organization, error) {
	org, err := scanOrg(db.queryRow(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Organization{}, ErrNotFound
		}
		return model.Organization{}, fmt.Errorf("storage: get organization: %w", err)
	}
	return org, nil
}

// GetOrganizationByDomain retrieves an org by its primary domain.
func (db *DB) GetOrganizationByDomain(ctx context.Context, domain string) (model.Organization, error) {
	org, err := scanOrg(db.queryRow(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE primary_domain = $1`, domain))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Organization{}, ErrNotFound
		}
		return model.Organization{}, fmt.Errorf("storage: get organization by domain: %w", err)
	}
	return org, nil
}

// GetOrCreateOrganizationByDomain returns the org owning domain, creating a
// free-plan org when none exists.
func (db *DB) GetOrCreateOrganizationByDomain(ctx context.Context, domain string) (model.Organization, error) {
	org, err := db.GetOrganizationByDomain(ctx, domain)
	if err == nil {
		return org, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return model.Organization{}, err
	}
	return db.CreateOrganization(ctx, model.Organization{
		Name:          domain,
		PrimaryDomain: domain,
	})
}

// UpdateOrganization updates org fields.
func (db *DB) UpdateOrganization(ctx context.Context, org model.Organization) error {
	org.UpdatedAt = time.Now().UTC()
	res, err := db.exec(ctx,
		`UPDATE organizations SET name = $1, plan = $2, scans_this_month = $3,
		 scans_limit = $4, updated_at = $5 WHERE id = $6`,
		org.Name, org.Plan, org.ScansThisMonth, org.ScansLimit, org.UpdatedAt, org.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: update organization: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update organization: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementScanUsage atomically increments the org's monthly scan counter
// and returns the new count.
func (db *DB) IncrementScanUsage(ctx context.Context, orgID uuid.UUID) (int, error) {
	now := time.Now().UTC()
	res, err := db.exec(ctx,
		`UPDATE organizations SET scans_this_month = scans_this_month + 1, updated_at = $1 WHERE id = $2`,
		now, orgID,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: increment scan usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage: increment scan usage: %w", err)
	}
	if n == 0 {
		return 0, ErrNotFound
	}
	var count int
	if err := db.queryRow(ctx,
		`SELECT scans_this_month FROM organizations WHERE id = $1`, orgID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("storage: read scan usage: %w", err)
	}
	return count, nil
}

// ResetScanUsage zeroes monthly counters. Called at the start of a billing month.
func (db *DB) ResetScanUsage(ctx context.Context) error {
	_, err := db.exec(ctx,
		`UPDATE organizations SET scans_this_month = 0, updated_at = $1`, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("storage: reset scan usage: %w", err)
	}
	return nil
}

// CreateAuditLog appends an audit record.
func (db *DB) CreateAuditLog(ctx context.Context, entry model.AuditLog) (model.AuditLog, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Details == nil {
		entry.Details = map[string]any{}
	}
	details, err := jsonCol(entry.Details)
	if err != nil {
		return model.AuditLog{}, err
	}
	_, err = db.exec(ctx,
		`INSERT INTO audit_logs (id, org_id, action, resource_type, resource_id, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.OrgID, entry.Action, entry.ResourceType, entry.ResourceID, details, entry.CreatedAt,
	)
	if err != nil {
		return model.AuditLog{}, fmt.Errorf("storage: create audit log: %w", err)
	}
	return entry, nil
}

// ListAuditLogs returns the most recent audit entries for an org.
func (db *DB) ListAuditLogs(ctx context.Context, orgID uuid.UUID, limit int) ([]model.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.query(ctx,
		`SELECT id, org_id, action, resource_type, resource_id, details, created_at
		 FROM audit_logs WHERE org_id = $1 ORDER BY created_at DESC LIMIT $2`,
		orgID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list audit logs: %w", err)
	}
	defer rows.Close()

	var out []model.AuditLog
	for rows.Next() {
		var e model.AuditLog
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.OrgID, &e.Action, &e.ResourceType, &e.ResourceID, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan audit log: %w", err)
		}
		if err := scanJSON(details, &e.Details); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
