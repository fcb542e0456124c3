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

// CreateWebhook registers an outbound webhook endpoint.
func (db *DB) CreateWebhook(ctx context.Context, w model.Webhook) (model.Webhook, error) {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	if w.Events == nil {
		w.Events = []model.EventType{}
	}
	events, err := jsonCol(w.Events)
	if err != nil {
		return model.Webhook{}, err
	}
	_, err = db.exec(ctx,
		`INSERT INTO webhooks (id, org_id, url, secret, events, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		w.ID, w.OrgID, w.URL, w.Secret, events, w.Active, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return model.Webhook{}, fmt.Errorf("storage: create webhook: %w", err)
	}
	return w, nil
}

const webhookColumns = `id, org_id, url, secret, events, active, created_at, updated_at`

func scanWebhook(row interface{ Scan(...any) error }) (model.Webhook, error) {
	var w model.Webhook
	var events sql.NullString
	err := row.Scan(&w.ID, &w.OrgID, &w.URL, &w.Secret, &events, &w.Active, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return model.Webhook{}, err
	}
	w.Events = []model.EventType{}
	if err := scanJSON(events, &w.Events); err != nil {
		return model.Webhook{}, err
	}
	return w, nil
}

// GetWebhook retrieves a webhook by ID.
func (db *DB) GetWebhook(ctx context.Context, id uuid.UUID) (model.Webhook, error) {
	w, err := scanWebhook(db.queryRow(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Webhook{}, ErrNotFound
		}
		return model.Webhook{}, fmt.Errorf("storage: get webhook: %w", err)
	}
	return w, nil
}

// ListWebhooksByOrg returns an org's registered webhooks.
func (db *DB) ListWebhooksByOrg(ctx context.Context, orgID uuid.UUID) ([]model.Webhook, error) {
	rows, err := db.query(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE org_id = $1 ORDER BY created_at ASC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("storage: list webhooks: %w", err)
	}
	defer rows.Close()

	var out []model.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan webhook row: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// UpdateWebhook persists mutable webhook fields.
func (db *DB) UpdateWebhook(ctx context.Context, w model.Webhook) error {
	w.UpdatedAt = time.Now().UTC()
	events, err := jsonCol(w.Events)
	if err != nil {
		return err
	}
	res, err := db.exec(ctx,
		`UPDATE webhooks SET url = $1, secret = $2, events = $3, active = $4, updated_at = $5 WHERE id = $6`,
		w.URL, w.Secret, events, w.Active, w.UpdatedAt, w.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: update webhook: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update webhook: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteWebhook removes a webhook registration.
func (db *DB) DeleteWebhook(ctx context.Context, id uuid.UUID) error {
	res, err := db.exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete webhook: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: delete webhook: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateWebhookDelivery records a delivery attempt chain's outcome.
func (db *DB) CreateWebhookDelivery(ctx context.Context, d model.WebhookDelivery) (model.WebhookDelivery, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.Payload == nil {
		d.Payload = map[string]any{}
	}
	payload, err := jsonCol(d.Payload)
	if err != nil {
		return model.WebhookDelivery{}, err
	}
	_, err = db.exec(ctx,
		`INSERT INTO webhook_deliveries (id, webhook_id, event, payload, status, attempts,
		 status_code, response_body, error, created_at, delivered_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.ID, d.WebhookID, d.Event, payload, d.Status, d.Attempts,
		nullInt(d.StatusCode), nullStr(d.ResponseBody), nullStr(d.Error), d.CreatedAt, nullTime(d.DeliveredAt),
	)
	if err != nil {
		return model.WebhookDelivery{}, fmt.Errorf("storage: create webhook delivery: %w", err)
	}
	return d, nil
}

// UpdateWebhookDelivery persists the outcome of a delivery attempt chain.
func (db *DB) UpdateWebhookDelivery(ctx context.Context, d model.WebhookDelivery) error {
	res, err := db.exec(ctx,
		`UPDATE webhook_deliveries SET status = $1, attempts = $2, status_code = $3,
		 response_body = $4, error = $5, delivered_at = $6 WHERE id = $7`,
		d.Status, d.Attempts, nullInt(d.StatusCode), nullStr(d.ResponseBody),
		nullStr(d.Error), nullTime(d.DeliveredAt), d.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: update webhook delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update webhook delivery: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListWebhookDeliveries returns a webhook's recent delivery records.
func (db *DB) ListWebhookDeliveries(ctx context.Context, webhookID uuid.UUID, limit int) ([]model.WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.query(ctx,
		`SELECT id, webhook_id, event, payload, status, attempts, status_code, response_body, error, created_at, delivered_at
		 FROM webhook_deliveries WHERE webhook_id = $1 ORDER BY created_at DESC LIMIT $2`,
		webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list webhook deliveries: %w", err)
	}
	defer rows.Close()

	var out []model.WebhookDelivery
	for rows.Next() {
		var d model.WebhookDelivery
		var payload, responseBody, errMsg sql.NullString
		var statusCode sql.NullInt64
		var deliveredAt sql.NullTime
		if err := rows.Scan(&d.ID, &d.WebhookID, &d.Event, &payload, &d.Status, &d.Attempts,
			&statusCode, &responseBody, &errMsg, &d.CreatedAt, &deliveredAt); err != nil {
			return nil, fmt.Errorf("storage: scan webhook delivery: %w", err)
		}
		d.Payload = map[string]any{}
		if err := scanJSON(payload, &d.Payload); err != nil {
			return nil, err
		}
		d.StatusCode = intPtr(statusCode)
		d.ResponseBody = responseBody.String
		d.Error = errMsg.String
		d.DeliveredAt = timePtr(deliveredAt)
		out = append(out, d)
	}
	return out, rows.Err()
}
