package model

import (
	"time"

	"github.com/google/uuid"
)

// Plan is an organization's billing tier.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// DefaultScanLimit is the monthly scan quota for the free plan.
const DefaultScanLimit = 50

// Organization is the tenant root, identified by its primary domain.
// It owns assets, scans, decisions, connectors, and webhooks.
type Organization struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name,omitempty"`
	PrimaryDomain  string    `json:"primary_domain"`
	Plan           Plan      `json:"plan"`
	ScansThisMonth int       `json:"scans_this_month"`
	ScansLimit     int       `json:"scans_limit"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CanScan reports whether the org has quota left this month.
// Pro plans are unmetered.
func (o Organization) CanScan() bool {
	if o.Plan == PlanPro {
		return true
	}
	return o.ScansThisMonth < o.ScansLimit
}

// AuditLog records an administrative or scheduled action against a resource.
type AuditLog struct {
	ID           uuid.UUID      `json:"id"`
	OrgID        uuid.UUID      `json:"org_id"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
