package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType names an outbound webhook event.
type EventType string

const (
	EventWeeklyBrief      EventType = "weekly_brief.generated"
	EventDecisionCreated  EventType = "decision.created"
	EventDecisionVerified EventType = "decision.verified"
	EventRiskScoreChanged EventType = "risk.score_changed"
	EventTest             EventType = "test"
)

// Webhook is a registered outbound endpoint with an event subscription list.
// An empty Events list means all events.
type Webhook struct {
	ID        uuid.UUID   `json:"id"`
	OrgID     uuid.UUID   `json:"org_id"`
	URL       string      `json:"url"`
	Secret    string      `json:"-"`
	Events    []EventType `json:"events"`
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Subscribed reports whether the webhook should receive the given event.
func (w Webhook) Subscribed(event EventType) bool {
	if !w.Active {
		return false
	}
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// DeliveryStatus is the state of one webhook delivery attempt chain.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

// WebhookDelivery records the outcome of delivering one event to one webhook.
// ResponseBody is truncated before persistence.
type WebhookDelivery struct {
	ID           uuid.UUID      `json:"id"`
	WebhookID    uuid.UUID      `json:"webhook_id"`
	Event        EventType      `json:"event"`
	Payload      map[string]any `json:"payload"`
	Status       DeliveryStatus `json:"status"`
	Attempts     int            `json:"attempts"`
	StatusCode   *int           `json:"status_code,omitempty"`
	ResponseBody string         `json:"response_body,omitempty"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	DeliveredAt  *time.Time     `json:"delivered_at,omitempty"`
}
