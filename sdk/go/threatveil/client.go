package threatveil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the ThreatVeil server
	// (e.g. "http://localhost:8080").
	BaseURL string

	// Token is an optional bearer token. Required only for the internal
	// operator endpoints.
	Token string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	// Scans run synchronously, so keep this above the server's probe budget.
	Timeout time.Duration
}

// Client is an HTTP client for the ThreatVeil scanning API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("threatveil: BaseURL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  httpClient,
	}, nil
}

// ---------------------------------------------------------------------------
// Scans
// ---------------------------------------------------------------------------

// ScanRequest triggers a scan. GitHubOrg is optional and enables the
// code-side probes.
type ScanRequest struct {
	Domain    string `json:"domain"`
	GitHubOrg string `json:"github_org,omitempty"`
}

// Scan runs a passive scan against a domain and blocks until it completes.
func (c *Client) Scan(ctx context.Context, req ScanRequest) (*Scan, error) {
	var resp Scan
	if err := c.post(ctx, "/api/v1/scan/vendor", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetScan retrieves a completed scan.
func (c *Client) GetScan(ctx context.Context, scanID uuid.UUID) (*Scan, error) {
	var resp Scan
	if err := c.get(ctx, "/api/v1/scan/"+scanID.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteScan removes a scan and its AI findings.
func (c *Client) DeleteScan(ctx context.Context, scanID uuid.UUID) error {
	return c.doDelete(ctx, "/api/v1/scan/"+scanID.String())
}

// GetAIScan retrieves the AI exposure findings for a scan.
func (c *Client) GetAIScan(ctx context.Context, scanID uuid.UUID) (*AIScan, error) {
	var resp AIScan
	if err := c.get(ctx, "/api/v1/scan/"+scanID.String()+"/ai", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PreviousScan returns a reference to the scan immediately preceding the
// given one for the same domain. Fields are nil for a first scan.
func (c *Client) PreviousScan(ctx context.Context, scanID uuid.UUID) (*PreviousScan, error) {
	var resp PreviousScan
	if err := c.get(ctx, "/api/v1/scan/"+scanID.String()+"/previous", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Decisions
// ---------------------------------------------------------------------------

// GenerateDecisions derives remediation decisions from a scan. Idempotent.
func (c *Client) GenerateDecisions(ctx context.Context, scanID uuid.UUID) ([]Decision, error) {
	var resp struct {
		Decisions []Decision `json:"decisions"`
	}
	if err := c.post(ctx, "/api/v1/scans/"+scanID.String()+"/decisions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Decisions, nil
}

// ScanDecisions lists the decisions derived from a scan.
func (c *Client) ScanDecisions(ctx context.Context, scanID uuid.UUID) ([]Decision, error) {
	var resp struct {
		Decisions []Decision `json:"decisions"`
	}
	if err := c.get(ctx, "/api/v1/scans/"+scanID.String()+"/decisions", &resp); err != nil {
		return nil, err
	}
	return resp.Decisions, nil
}

// TransitionDecision moves a decision through its lifecycle. Disallowed
// transitions fail with a 409; check with IsConflict.
func (c *Client) TransitionDecision(ctx context.Context, decisionID uuid.UUID, status string) (*TransitionResult, error) {
	body := map[string]string{"status": status}
	var resp TransitionResult
	if err := c.patch(ctx, "/api/v1/decisions/"+decisionID.String(), body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DecisionImpact retrieves the measured impact of a resolved decision.
func (c *Client) DecisionImpact(ctx context.Context, decisionID uuid.UUID) (*DecisionImpact, error) {
	var resp DecisionImpact
	if err := c.get(ctx, "/api/v1/decisions/"+decisionID.String()+"/impact", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyDecision re-probes the relevant surface to verify a resolution.
func (c *Client) VerifyDecision(ctx context.Context, decisionID uuid.UUID) (*VerificationRun, error) {
	var resp VerificationRun
	if err := c.post(ctx, "/api/v1/decisions/"+decisionID.String()+"/verify", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerificationRuns lists verification attempts for a decision, newest first.
func (c *Client) VerificationRuns(ctx context.Context, decisionID uuid.UUID) ([]VerificationRun, error) {
	var resp struct {
		Runs []VerificationRun `json:"runs"`
	}
	if err := c.get(ctx, "/api/v1/decisions/"+decisionID.String()+"/verification", &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// ---------------------------------------------------------------------------
// Organization views
// ---------------------------------------------------------------------------

// OrgOverview returns the organization risk overview as raw JSON, preserving
// all server-side fields.
func (c *Client) OrgOverview(ctx context.Context, orgID uuid.UUID) (json.RawMessage, error) {
	return c.getRaw(ctx, "/api/v1/org/"+orgID.String()+"/overview")
}

// OrgHorizon returns the projected risk view.
func (c *Client) OrgHorizon(ctx context.Context, orgID uuid.UUID) (json.RawMessage, error) {
	return c.getRaw(ctx, "/api/v1/org/"+orgID.String()+"/horizon")
}

// RiskTimeline returns weekly risk score buckets, oldest first. weeks <= 0
// uses the server default of 12.
func (c *Client) RiskTimeline(ctx context.Context, orgID uuid.UUID, weeks int) ([]TimelinePoint, error) {
	path := "/api/v1/org/" + orgID.String() + "/risk-timeline"
	if weeks > 0 {
		path += "?" + url.Values{"weeks": {strconv.Itoa(weeks)}}.Encode()
	}
	var resp struct {
		Weeks []TimelinePoint `json:"weeks"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Weeks, nil
}

// WeeklyBrief returns the trailing seven-day activity brief.
func (c *Client) WeeklyBrief(ctx context.Context, orgID uuid.UUID) (json.RawMessage, error) {
	return c.getRaw(ctx, "/api/v1/org/"+orgID.String()+"/weekly-brief")
}

// AIGovernance returns the AI tool inventory view.
func (c *Client) AIGovernance(ctx context.Context, orgID uuid.UUID) (json.RawMessage, error) {
	return c.getRaw(ctx, "/api/v1/org/"+orgID.String()+"/ai-governance")
}

// AISecurity returns the AI security posture view.
func (c *Client) AISecurity(ctx context.Context, orgID uuid.UUID) (json.RawMessage, error) {
	return c.getRaw(ctx, "/api/v1/org/"+orgID.String()+"/ai-security")
}

// OrgSignals returns the signals from the organization's latest scan.
func (c *Client) OrgSignals(ctx context.Context, orgID uuid.UUID) ([]Signal, error) {
	var resp struct {
		Signals []Signal `json:"signals"`
	}
	if err := c.get(ctx, "/api/v1/org/"+orgID.String()+"/signals", &resp); err != nil {
		return nil, err
	}
	return resp.Signals, nil
}

// OrgDecisions lists an organization's decisions with the status rollup.
func (c *Client) OrgDecisions(ctx context.Context, orgID uuid.UUID) ([]Decision, json.RawMessage, error) {
	raw, err := c.getRaw(ctx, "/api/v1/org/"+orgID.String()+"/decisions")
	if err != nil {
		return nil, nil, err
	}
	var resp struct {
		Decisions []Decision      `json:"decisions"`
		Rollup    json.RawMessage `json:"rollup"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, nil, fmt.Errorf("threatveil: decode response: %w", err)
	}
	return resp.Decisions, resp.Rollup, nil
}

// ---------------------------------------------------------------------------
// Assets
// ---------------------------------------------------------------------------

// ListAssets lists the organization's monitored assets.
func (c *Client) ListAssets(ctx context.Context, orgID uuid.UUID) ([]Asset, error) {
	var resp struct {
		Assets []Asset `json:"assets"`
	}
	if err := c.get(ctx, "/api/v1/org/"+orgID.String()+"/assets", &resp); err != nil {
		return nil, err
	}
	return resp.Assets, nil
}

// CreateAsset registers an asset for scheduled scanning.
func (c *Client) CreateAsset(ctx context.Context, orgID uuid.UUID, req AssetRequest) (*Asset, error) {
	var resp Asset
	if err := c.post(ctx, "/api/v1/org/"+orgID.String()+"/assets", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateAsset applies a partial update to an asset.
func (c *Client) UpdateAsset(ctx context.Context, orgID, assetID uuid.UUID, req AssetRequest) (*Asset, error) {
	var resp Asset
	if err := c.patch(ctx, "/api/v1/org/"+orgID.String()+"/assets/"+assetID.String(), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteAsset removes an asset from monitoring.
func (c *Client) DeleteAsset(ctx context.Context, orgID, assetID uuid.UUID) error {
	return c.doDelete(ctx, "/api/v1/org/"+orgID.String()+"/assets/"+assetID.String())
}

// ---------------------------------------------------------------------------
// Webhooks
// ---------------------------------------------------------------------------

// ListWebhooks lists the organization's webhook endpoints.
func (c *Client) ListWebhooks(ctx context.Context, orgID uuid.UUID) ([]Webhook, error) {
	var resp struct {
		Webhooks []Webhook `json:"webhooks"`
	}
	if err := c.get(ctx, "/api/v1/org/"+orgID.String()+"/webhooks", &resp); err != nil {
		return nil, err
	}
	return resp.Webhooks, nil
}

// CreateWebhook registers a webhook endpoint. The returned signing secret is
// shown exactly once; store it.
func (c *Client) CreateWebhook(ctx context.Context, orgID uuid.UUID, req WebhookRequest) (*CreatedWebhook, error) {
	var resp CreatedWebhook
	if err := c.post(ctx, "/api/v1/org/"+orgID.String()+"/webhooks", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateWebhook applies a partial update to a webhook endpoint.
func (c *Client) UpdateWebhook(ctx context.Context, orgID, webhookID uuid.UUID, req WebhookRequest) (*Webhook, error) {
	var resp Webhook
	if err := c.patch(ctx, "/api/v1/org/"+orgID.String()+"/webhooks/"+webhookID.String(), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteWebhook removes a webhook endpoint.
func (c *Client) DeleteWebhook(ctx context.Context, orgID, webhookID uuid.UUID) error {
	return c.doDelete(ctx, "/api/v1/org/"+orgID.String()+"/webhooks/"+webhookID.String())
}

// TestWebhook sends a signed test event to the endpoint and reports the
// delivery outcome. A failing endpoint is a result, not an error.
func (c *Client) TestWebhook(ctx context.Context, orgID, webhookID uuid.UUID) (*TestDelivery, error) {
	var resp TestDelivery
	if err := c.post(ctx, "/api/v1/org/"+orgID.String()+"/webhooks/"+webhookID.String()+"/test", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WebhookDeliveries lists recent delivery attempts, newest first.
func (c *Client) WebhookDeliveries(ctx context.Context, orgID, webhookID uuid.UUID) ([]WebhookDelivery, error) {
	var resp struct {
		Deliveries []WebhookDelivery `json:"deliveries"`
	}
	if err := c.get(ctx, "/api/v1/org/"+orgID.String()+"/webhooks/"+webhookID.String()+"/deliveries", &resp); err != nil {
		return nil, err
	}
	return resp.Deliveries, nil
}

// ---------------------------------------------------------------------------
// Connectors
// ---------------------------------------------------------------------------

// ListConnectors lists the organization's connectors. Credentials are never
// included.
func (c *Client) ListConnectors(ctx context.Context, orgID uuid.UUID) ([]Connector, error) {
	var resp struct {
		Connectors []Connector `json:"connectors"`
	}
	if err := c.get(ctx, "/api/v1/org/"+orgID.String()+"/connectors", &resp); err != nil {
		return nil, err
	}
	return resp.Connectors, nil
}

// CreateConnector creates a connector. Credentials are sealed server-side.
func (c *Client) CreateConnector(ctx context.Context, orgID uuid.UUID, req ConnectorRequest) (*Connector, error) {
	var resp Connector
	if err := c.post(ctx, "/api/v1/org/"+orgID.String()+"/connectors", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateConnector applies a partial update. Credentials are resealed only
// when present in the request.
func (c *Client) UpdateConnector(ctx context.Context, orgID, connectorID uuid.UUID, req ConnectorRequest) (*Connector, error) {
	var resp Connector
	if err := c.patch(ctx, "/api/v1/org/"+orgID.String()+"/connectors/"+connectorID.String(), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteConnector removes a connector and its sealed credentials.
func (c *Client) DeleteConnector(ctx context.Context, orgID, connectorID uuid.UUID) error {
	return c.doDelete(ctx, "/api/v1/org/"+orgID.String()+"/connectors/"+connectorID.String())
}

// ---------------------------------------------------------------------------
// Internal operator endpoints (require Config.Token)
// ---------------------------------------------------------------------------

// Rescan triggers an immediate scan outside the public quota and rate
// limits. Requires an internal-scope token.
func (c *Client) Rescan(ctx context.Context, req ScanRequest) (*Scan, error) {
	var resp Scan
	if err := c.post(ctx, "/api/v1/internal/rescan", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SchedulerStatus returns the scheduler snapshot. Requires an internal-scope
// token.
func (c *Client) SchedulerStatus(ctx context.Context) (json.RawMessage, error) {
	return c.getRaw(ctx, "/api/v1/internal/scheduler")
}

// Health reports server liveness.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/health", nil)
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

func (c *Client) post(ctx context.Context, path string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("threatveil: marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("threatveil: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.doRequest(req, dest)
}

func (c *Client) patch(ctx context.Context, path string, body, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("threatveil: marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("threatveil: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doRequest(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("threatveil: create request: %w", err)
	}
	return c.doRequest(req, dest)
}

func (c *Client) getRaw(ctx context.Context, path string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.get(ctx, path, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) doDelete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("threatveil: create request: %w", err)
	}
	return c.doRequest(req, nil)
}

func (c *Client) doRequest(req *http.Request, dest any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("threatveil: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("threatveil: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}
	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("threatveil: decode response: %w", err)
	}
	return nil
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Detail != "" {
		apiErr.Detail = envelope.Detail
	} else {
		apiErr.Detail = strings.TrimSpace(string(body))
		if apiErr.Detail == "" {
			apiErr.Detail = http.StatusText(statusCode)
		}
	}
	return apiErr
}
