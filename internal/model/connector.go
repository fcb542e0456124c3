package model

import (
	"time"

	"github.com/google/uuid"
)

// ConnectorType enumerates supported third-party integrations.
type ConnectorType string

const (
	ConnectorGitHub     ConnectorType = "github"
	ConnectorAWS        ConnectorType = "aws"
	ConnectorCloudflare ConnectorType = "cloudflare"
	ConnectorSlack      ConnectorType = "slack"
)

// Connector is a stored third-party integration. Credentials are sealed with
// an AEAD before persistence and never serialized back out.
type Connector struct {
	ID          uuid.UUID      `json:"id"`
	OrgID       uuid.UUID      `json:"org_id"`
	Type        ConnectorType  `json:"type"`
	Name        string         `json:"name"`
	Credentials map[string]any `json:"-"`
	Config      map[string]any `json:"config,omitempty"`
	Status      string         `json:"status"`
	LastSyncAt  *time.Time     `json:"last_sync_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
