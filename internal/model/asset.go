package model

import (
	"time"

	"github.com/google/uuid"
)

// AssetType enumerates the kinds of assets an organization tracks.
// Only domain and code-org assets are probed; the rest carry metadata.
type AssetType string

const (
	AssetDomain       AssetType = "domain"
	AssetCodeOrg      AssetType = "code_org"
	AssetCloudAccount AssetType = "cloud_account"
	AssetSaaSVendor   AssetType = "saas_vendor"
)

// ScanFrequency controls how often the scheduler re-scans an asset.
type ScanFrequency string

const (
	FrequencyDaily   ScanFrequency = "daily"
	FrequencyWeekly  ScanFrequency = "weekly"
	FrequencyMonthly ScanFrequency = "monthly"
	FrequencyManual  ScanFrequency = "manual"
)

// Interval returns the gap between scheduled runs. Manual (and unknown)
// frequencies push the next run a year out so they never come due.
func (f ScanFrequency) Interval() time.Duration {
	switch f {
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	case FrequencyMonthly:
		return 30 * 24 * time.Hour
	default:
		return 365 * 24 * time.Hour
	}
}

// Valid reports whether f is a known frequency.
func (f ScanFrequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyManual:
		return true
	}
	return false
}

// AssetStatus is an asset's lifecycle state.
type AssetStatus string

const (
	AssetActive  AssetStatus = "active"
	AssetPaused  AssetStatus = "paused"
	AssetDeleted AssetStatus = "deleted"
)

// Asset is a scannable or tracked entity belonging to one organization.
type Asset struct {
	ID            uuid.UUID     `json:"id"`
	OrgID         uuid.UUID     `json:"org_id"`
	Type          AssetType     `json:"type"`
	Name          string        `json:"name"`
	RiskWeight    float64       `json:"risk_weight"` // 0.1–2.0, used in org roll-up
	Priority      int           `json:"priority"`
	Frequency     ScanFrequency `json:"scan_frequency"`
	LastScanAt    *time.Time    `json:"last_scan_at,omitempty"`
	NextScanAt    *time.Time    `json:"next_scan_at,omitempty"`
	LastRiskScore *int          `json:"last_risk_score,omitempty"`
	Status        AssetStatus   `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Probeable reports whether the asset type is actually scanned (as opposed
// to metadata-only tracking).
func (a Asset) Probeable() bool {
	return a.Type == AssetDomain || a.Type == AssetCodeOrg
}

// ScanSchedule is the per-asset scheduling record maintained by the
// continuous-monitoring scheduler.
type ScanSchedule struct {
	ID         uuid.UUID     `json:"id"`
	AssetID    uuid.UUID     `json:"asset_id"`
	Frequency  ScanFrequency `json:"frequency"`
	NextRunAt  *time.Time    `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time    `json:"last_run_at,omitempty"`
	LastScanID *uuid.UUID    `json:"last_scan_id,omitempty"`
	Status     string        `json:"status"`
	RunCount   int           `json:"run_count"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
}
