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

// CreateConnector inserts a connector with its sealed credential blob.
// Credentials arrive already encrypted; storage never sees plaintext.
func (db *DB) CreateConnector(ctx context.Context, c model.Connector, sealedCreds []byte) (model.Connector, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = "active"
	}
	if c.Config == nil {
		c.Config = map[string]any{}
	}
	config, err := jsonCol(c.Config)
	if err != nil {
		return model.Connector{}, err
	}
	_, err = db.exec(ctx,
		`INSERT INTO connectors (id, org_id, type, name, credentials, config, status, last_sync_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.OrgID, c.Type, c.Name, sealedCreds, config, c.Status, nullTime(c.LastSyncAt), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return model.Connector{}, fmt.Errorf("storage: create connector: %w", err)
	}
	return c, nil
}

const connectorColumns = `id, org_id, type, name, credentials, config, status, last_sync_at, created_at, updated_at`

func scanConnector(row interface{ Scan(...any) error }) (model.Connector, []byte, error) {
	var c model.Connector
	var sealed []byte
	var config sql.NullString
	var lastSyncAt sql.NullTime
	err := row.Scan(&c.ID, &c.OrgID, &c.Type, &c.Name, &sealed, &config, &c.Status,
		&lastSyncAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return model.Connector{}, nil, err
	}
	c.Config = map[string]any{}
	if err := scanJSON(config, &c.Config); err != nil {
		return model.Connector{}, nil, err
	}
	c.LastSyncAt = timePtr(lastSyncAt)
	return c, sealed, nil
}

// GetConnector retrieves a connector and its sealed credential blob.
func (db *DB) GetConnector(ctx context.Context, id uuid.UUID) (model.Connector, []byte, error) {
	c, sealed, err := scanConnector(db.queryRow(ctx,
		`SELECT `+connectorColumns+` FROM connectors WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Connector{}, nil, ErrNotFound
		}
		return model.Connector{}, nil, fmt.Errorf("storage: get connector: %w", err)
	}
	return c, sealed, nil
}

// ListConnectorsByOrg returns an org's connectors without credential blobs.
func (db *DB) ListConnectorsByOrg(ctx context.Context, orgID uuid.UUID) ([]model.Connector, error) {
	rows, err := db.query(ctx,
		`SELECT `+connectorColumns+` FROM connectors WHERE org_id = $1 ORDER BY created_at ASC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("storage: list connectors: %w", err)
	}
	defer rows.Close()

	var out []model.Connector
	for rows.Next() {
		c, _, err := scanConnector(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan connector row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateConnector persists mutable fields. A nil sealedCreds leaves the
// stored credential blob unchanged.
func (db *DB) UpdateConnector(ctx context.Context, c model.Connector, sealedCreds []byte) error {
	c.UpdatedAt = time.Now().UTC()
	config, err := jsonCol(c.Config)
	if err != nil {
		return err
	}

	var res sql.Result
	if sealedCreds != nil {
		res, err = db.exec(ctx,
			`UPDATE connectors SET name = $1, credentials = $2, config = $3, status = $4,
			 last_sync_at = $5, updated_at = $6 WHERE id = $7`,
			c.Name, sealedCreds, config, c.Status, nullTime(c.LastSyncAt), c.UpdatedAt, c.ID)
	} else {
		res, err = db.exec(ctx,
			`UPDATE connectors SET name = $1, config = $2, status = $3,
			 last_sync_at = $4, updated_at = $5 WHERE id = $6`,
			c.Name, config, c.Status, nullTime(c.LastSyncAt), c.UpdatedAt, c.ID)
	}
	if err != nil {
		return fmt.Errorf("storage: update connector: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update connector: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConnector removes a connector and its sealed credentials.
func (db *DB) DeleteConnector(ctx context.Context, id uuid.UUID) error {
	res, err := db.exec(ctx, `DELETE FROM connectors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete connector: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: delete connector: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
