package threatveil

import (
	"time"

	"github.com/google/uuid"
)

// CategoryScore is one category's contribution to the overall risk score.
type CategoryScore struct {
	Score    int     `json:"score"`
	Weight   float64 `json:"weight"`
	Severity string  `json:"severity"`
}

// Evidence is the provenance attached to a signal.
type Evidence struct {
	Source          string         `json:"source"`
	ObservedAt      time.Time      `json:"observed_at"`
	URL             string         `json:"url,omitempty"`
	Raw             map[string]any `json:"raw"`
	ExternalRefs    []string       `json:"external_refs,omitempty"`
	DetectionMethod string         `json:"detection_method"`
	Confidence      float64        `json:"confidence"`
	NotesForAI      string         `json:"notes_for_ai,omitempty"`
}

// Signal is a normalized security finding.
type Signal struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Detail   string   `json:"detail"`
	Severity string   `json:"severity"`
	Category string   `json:"category"`
	Evidence Evidence `json:"evidence"`
}

// Scan is one completed scan over a domain.
type Scan struct {
	ID            uuid.UUID                `json:"id"`
	OrgID         uuid.UUID                `json:"org_id"`
	Domain        string                   `json:"domain"`
	GitHubOrg     string                   `json:"github_org,omitempty"`
	RiskScore     int                      `json:"risk_score"`
	Likelihood30d float64                  `json:"breach_likelihood_30d"`
	Likelihood90d float64                  `json:"breach_likelihood_90d"`
	Categories    map[string]CategoryScore `json:"categories"`
	Signals       []Signal                 `json:"signals"`
	Summary       string                   `json:"summary"`
	CreatedAt     time.Time                `json:"created_at"`
}

// AIKeyLeak describes one exposed AI provider credential found in public code.
type AIKeyLeak struct {
	KeyType    string `json:"key_type"`
	Repository string `json:"repository"`
	Path       string `json:"path"`
	URL        string `json:"url,omitempty"`
}

// AIScan is the AI exposure findings attached to a scan.
type AIScan struct {
	ID        uuid.UUID   `json:"id"`
	ScanID    uuid.UUID   `json:"scan_id"`
	Tools     []string    `json:"ai_tools"`
	Keys      []AIKeyLeak `json:"ai_keys"`
	Score     int         `json:"ai_score"`
	Summary   string      `json:"ai_summary"`
	CreatedAt time.Time   `json:"created_at"`
}

// PreviousScan references the scan immediately preceding another for the
// same domain. All fields are nil for a domain's first scan.
type PreviousScan struct {
	Score     *int       `json:"previous_score"`
	ScanID    *uuid.UUID `json:"previous_scan_id"`
	CreatedAt *time.Time `json:"previous_created_at"`
}

// Decision is a derived remediation item with a lifecycle.
type Decision struct {
	ID                     uuid.UUID  `json:"id"`
	OrgID                  uuid.UUID  `json:"org_id"`
	ScanID                 uuid.UUID  `json:"scan_id"`
	ActionID               string     `json:"action_id"`
	Title                  string     `json:"title"`
	RecommendedFix         string     `json:"recommended_fix"`
	EffortEstimate         string     `json:"effort_estimate"`
	EstimatedRiskReduction int        `json:"estimated_risk_reduction"`
	Priority               int        `json:"priority"`
	Status                 string     `json:"status"`
	BeforeScore            *int       `json:"before_score,omitempty"`
	AfterScore             *int       `json:"after_score,omitempty"`
	BusinessImpact         string     `json:"business_impact,omitempty"`
	ConfidenceScore        float64    `json:"confidence_score"`
	ConfidenceReason       string     `json:"confidence_reason,omitempty"`
	VerificationScanID     *uuid.UUID `json:"verification_scan_id,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
	AcceptedAt             *time.Time `json:"accepted_at,omitempty"`
	ResolvedAt             *time.Time `json:"resolved_at,omitempty"`
	VerifiedAt             *time.Time `json:"verified_at,omitempty"`
}

// Decision lifecycle statuses.
const (
	DecisionPending    = "pending"
	DecisionAccepted   = "accepted"
	DecisionInProgress = "in_progress"
	DecisionResolved   = "resolved"
	DecisionVerified   = "verified"
)

// TransitionResult is the response to a lifecycle change. RiskDelta is set
// only when the decision entered resolved with a measurable score change.
type TransitionResult struct {
	Decision  Decision `json:"decision"`
	RiskDelta *int     `json:"risk_delta,omitempty"`
}

// DecisionImpact is the measured effect of a resolved decision.
type DecisionImpact struct {
	ID             uuid.UUID  `json:"id"`
	OrgID          uuid.UUID  `json:"org_id"`
	DecisionID     uuid.UUID  `json:"decision_id"`
	ScanID         *uuid.UUID `json:"scan_id,omitempty"`
	ResolvedScanID *uuid.UUID `json:"resolved_scan_id,omitempty"`
	RiskBefore     int        `json:"risk_before"`
	RiskAfter      *int       `json:"risk_after,omitempty"`
	Delta          *int       `json:"delta,omitempty"`
	Confidence     float64    `json:"confidence"`
	Notes          string     `json:"notes,omitempty"`
	ComputedAt     time.Time  `json:"computed_at"`
}

// VerificationRun is one verification attempt for a decision.
type VerificationRun struct {
	ID          uuid.UUID      `json:"id"`
	DecisionID  uuid.UUID      `json:"decision_id"`
	Result      string         `json:"result"`
	Confidence  float64        `json:"confidence"`
	Notes       string         `json:"notes,omitempty"`
	Evidence    map[string]any `json:"evidence"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Verification results.
const (
	VerifyPass    = "pass"
	VerifyFail    = "fail"
	VerifyUnknown = "unknown"
)

// Asset is a monitored surface belonging to an organization.
type Asset struct {
	ID            uuid.UUID  `json:"id"`
	OrgID         uuid.UUID  `json:"org_id"`
	Type          string     `json:"type"`
	Name          string     `json:"name"`
	RiskWeight    float64    `json:"risk_weight"`
	Priority      int        `json:"priority"`
	Frequency     string     `json:"scan_frequency"`
	LastScanAt    *time.Time `json:"last_scan_at,omitempty"`
	NextScanAt    *time.Time `json:"next_scan_at,omitempty"`
	LastRiskScore *int       `json:"last_risk_score,omitempty"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// AssetRequest creates or updates an asset.
type AssetRequest struct {
	Type       string  `json:"type,omitempty"`
	Name       string  `json:"name,omitempty"`
	RiskWeight float64 `json:"risk_weight,omitempty"`
	Priority   int     `json:"priority,omitempty"`
	Frequency  string  `json:"scan_frequency,omitempty"`
	Status     string  `json:"status,omitempty"`
}

// Webhook is a registered delivery endpoint. The signing secret is returned
// only by CreateWebhook.
type Webhook struct {
	ID        uuid.UUID `json:"id"`
	OrgID     uuid.UUID `json:"org_id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WebhookRequest creates or updates a webhook endpoint.
type WebhookRequest struct {
	URL    string   `json:"url,omitempty"`
	Events []string `json:"events,omitempty"`
	Active *bool    `json:"active,omitempty"`
}

// CreatedWebhook pairs a new webhook with its one-time signing secret.
type CreatedWebhook struct {
	Webhook Webhook `json:"webhook"`
	Secret  string  `json:"secret"`
}

// WebhookDelivery is one delivery attempt.
type WebhookDelivery struct {
	ID           uuid.UUID      `json:"id"`
	WebhookID    uuid.UUID      `json:"webhook_id"`
	Event        string         `json:"event"`
	Payload      map[string]any `json:"payload"`
	Status       string         `json:"status"`
	Attempts     int            `json:"attempts"`
	StatusCode   *int           `json:"status_code,omitempty"`
	ResponseBody string         `json:"response_body,omitempty"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	DeliveredAt  *time.Time     `json:"delivered_at,omitempty"`
}

// TestDelivery is the outcome of a webhook test event.
type TestDelivery struct {
	Delivery  WebhookDelivery `json:"delivery"`
	Delivered bool            `json:"delivered"`
}

// Connector is an external integration. Credentials are sealed server-side
// and never returned.
type Connector struct {
	ID         uuid.UUID      `json:"id"`
	OrgID      uuid.UUID      `json:"org_id"`
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	Config     map[string]any `json:"config,omitempty"`
	Status     string         `json:"status"`
	LastSyncAt *time.Time     `json:"last_sync_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// ConnectorRequest creates or updates a connector.
type ConnectorRequest struct {
	Type        string         `json:"type,omitempty"`
	Name        string         `json:"name,omitempty"`
	Credentials map[string]any `json:"credentials,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	Status      string         `json:"status,omitempty"`
}

// TimelinePoint is one weekly bucket of an organization's risk history.
type TimelinePoint struct {
	WeekStart time.Time `json:"week_start"`
	Score     *int      `json:"score,omitempty"`
	ScanCount int       `json:"scan_count"`
}
