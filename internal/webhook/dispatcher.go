// Package webhook delivers signed event notifications to registered endpoints
// with bounded retries, and records every delivery attempt chain.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/threatveil/threatveil/internal/model"
	"github.com/threatveil/threatveil/internal/storage"
)

const (
	deliveryTimeout = 10 * time.Second
	maxAttempts     = 3
	// maxResponseBytes caps how much of the receiver's response is stored.
	maxResponseBytes = 1000
	userAgent        = "ThreatVeil-Webhook/1.0"
)

// Sign computes the signature header value for a payload body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature against the raw body in
// constant time. Receivers use this to authenticate deliveries.
func VerifySignature(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}

// Dispatcher fans events out to subscribed webhooks.
type Dispatcher struct {
	db     *storage.DB
	client *http.Client
	logger *slog.Logger

	// retryBase scales the exponential backoff between attempts; one second
	// in production, shortened in tests.
	retryBase time.Duration
}

// NewDispatcher creates a webhook dispatcher.
func NewDispatcher(db *storage.DB, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		db:        db,
		client:    &http.Client{Timeout: deliveryTimeout},
		logger:    logger,
		retryBase: time.Second,
	}
}

// envelope is the wire body of every delivery.
type envelope struct {
	Event     model.EventType `json:"event"`
	Timestamp string          `json:"timestamp"`
	Data      map[string]any  `json:"data"`
}

// Emit delivers event to every active webhook of the org subscribed to it.
// Deliveries run concurrently; Emit returns once all have terminated.
func (d *Dispatcher) Emit(ctx context.Context, orgID uuid.UUID, event model.EventType, data map[string]any) {
	hooks, err := d.db.ListWebhooksByOrg(ctx, orgID)
	if err != nil {
		d.logger.Warn("list webhooks failed", "org_id", orgID, "event", event, "error", err)
		return
	}

	var wg sync.WaitGroup
	for _, hook := range hooks {
		if !hook.Subscribed(event) {
			continue
		}
		wg.Add(1)
		go func(hook model.Webhook) {
			defer wg.Done()
			if _, err := d.Deliver(ctx, hook, event, data); err != nil {
				d.logger.Warn("webhook delivery failed",
					"webhook_id", hook.ID, "event", event, "error", err)
			}
		}(hook)
	}
	wg.Wait()
}

// Deliver posts one signed event to one webhook with retries and records the
// attempt chain. The returned delivery reflects the terminal state.
func (d *Dispatcher) Deliver(ctx context.Context, hook model.Webhook, event model.EventType, data map[string]any) (model.WebhookDelivery, error) {
	if data == nil {
		data = map[string]any{}
	}
	body, err := json.Marshal(envelope{
		Event:     event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	})
	if err != nil {
		return model.WebhookDelivery{}, fmt.Errorf("webhook: marshal payload: %w", err)
	}

	delivery, err := d.db.CreateWebhookDelivery(ctx, model.WebhookDelivery{
		WebhookID: hook.ID,
		Event:     event,
		Payload:   data,
		Status:    model.DeliveryPending,
	})
	if err != nil {
		return model.WebhookDelivery{}, err
	}

	signature := Sign(body, hook.Secret)
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		delivery.Attempts = attempt
		statusCode, respBody, err := d.post(ctx, hook, delivery.ID, event, body, signature)
		if statusCode != 0 {
			code := statusCode
			delivery.StatusCode = &code
			delivery.ResponseBody = respBody
		}
		if err == nil && statusCode >= 200 && statusCode < 300 {
			now := time.Now().UTC()
			delivery.Status = model.DeliverySuccess
			delivery.DeliveredAt = &now
			delivery.Error = ""
			break
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("webhook: endpoint returned %d", statusCode)
		}
		delivery.Status = model.DeliveryFailed
		delivery.Error = lastErr.Error()

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			delivery.Error = ctx.Err().Error()
			attempt = maxAttempts
		case <-time.After(d.retryBase * (1 << attempt)):
		}
	}

	if err := d.db.UpdateWebhookDelivery(ctx, delivery); err != nil {
		d.logger.Warn("persist webhook delivery failed", "delivery_id", delivery.ID, "error", err)
	}
	if delivery.Status != model.DeliverySuccess {
		return delivery, lastErr
	}
	return delivery, nil
}

// post performs one attempt. A zero status code means no response was read.
func (d *Dispatcher) post(ctx context.Context, hook model.Webhook, deliveryID uuid.UUID,
	event model.EventType, body []byte, signature string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-ThreatVeil-Event", string(event))
	req.Header.Set("X-ThreatVeil-Signature", signature)
	req.Header.Set("X-ThreatVeil-Delivery", deliveryID.String())

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("webhook: post %s: %w", hook.URL, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	return resp.StatusCode, string(respBody), nil
}
