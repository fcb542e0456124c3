package model

import (
	"time"

	"github.com/google/uuid"
)

// DecisionStatus is the lifecycle state of a security decision.
type DecisionStatus string

const (
	DecisionPending    DecisionStatus = "pending"
	DecisionAccepted   DecisionStatus = "accepted"
	DecisionInProgress DecisionStatus = "in_progress"
	DecisionResolved   DecisionStatus = "resolved"
	DecisionVerified   DecisionStatus = "verified"
)

// Valid reports whether s is a known status.
func (s DecisionStatus) Valid() bool {
	switch s {
	case DecisionPending, DecisionAccepted, DecisionInProgress, DecisionResolved, DecisionVerified:
		return true
	}
	return false
}

// transitions encodes the lifecycle state machine. Forward path is
// pending → accepted → in_progress → resolved → verified, with shortcuts
// from pending and bounded step-backs. Entering verified requires resolved.
var transitions = map[DecisionStatus][]DecisionStatus{
	DecisionPending:    {DecisionAccepted, DecisionInProgress, DecisionResolved},
	DecisionAccepted:   {DecisionInProgress, DecisionResolved},
	DecisionInProgress: {DecisionResolved, DecisionAccepted},
	DecisionResolved:   {DecisionVerified, DecisionInProgress},
	DecisionVerified:   {DecisionResolved},
}

// CanTransitionTo reports whether the state machine allows moving from s to next.
func (s DecisionStatus) CanTransitionTo(next DecisionStatus) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Decision is a deterministically derived remediation item. It is created by
// the decision engine from a scan and mutated only through the lifecycle
// state machine.
type Decision struct {
	ID                     uuid.UUID      `json:"id"`
	OrgID                  uuid.UUID      `json:"org_id"`
	ScanID                 uuid.UUID      `json:"scan_id"`
	ActionID               string         `json:"action_id"`
	Title                  string         `json:"title"`
	RecommendedFix         string         `json:"recommended_fix"`
	EffortEstimate         string         `json:"effort_estimate"`
	EstimatedRiskReduction int            `json:"estimated_risk_reduction"`
	Priority               int            `json:"priority"` // 1 = highest
	Status                 DecisionStatus `json:"status"`
	BeforeScore            *int           `json:"before_score,omitempty"`
	AfterScore             *int           `json:"after_score,omitempty"`
	BusinessImpact         string         `json:"business_impact,omitempty"`
	ConfidenceScore        float64        `json:"confidence_score"`
	ConfidenceReason       string         `json:"confidence_reason,omitempty"`
	VerificationScanID     *uuid.UUID     `json:"verification_scan_id,omitempty"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
	AcceptedAt             *time.Time     `json:"accepted_at,omitempty"`
	ResolvedAt             *time.Time     `json:"resolved_at,omitempty"`
	VerifiedAt             *time.Time     `json:"verified_at,omitempty"`
}

// ConfidenceTier is one of exactly four values derived from scan recency and
// whether the triggering signal disappeared.
type ConfidenceTier float64

const (
	TierNoAfterScan   ConfidenceTier = 0.2
	TierStaleScan     ConfidenceTier = 0.4
	TierRecentUnclear ConfidenceTier = 0.7
	TierConfirmed     ConfidenceTier = 1.0
)

// DecisionImpact measures the risk delta once a decision is resolved.
// Exactly one row per decision.
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

// VerificationResult is the outcome of one verification attempt.
type VerificationResult string

const (
	VerifyPass    VerificationResult = "pass"
	VerifyFail    VerificationResult = "fail"
	VerifyUnknown VerificationResult = "unknown"
)

// VerificationRun records one verification attempt on a decision.
type VerificationRun struct {
	ID          uuid.UUID          `json:"id"`
	DecisionID  uuid.UUID          `json:"decision_id"`
	Result      VerificationResult `json:"result"`
	Confidence  float64            `json:"confidence"`
	Notes       string             `json:"notes,omitempty"`
	Evidence    map[string]any     `json:"evidence"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

// EvidenceKind tags a before/after snapshot captured during verification.
type EvidenceKind string

const (
	EvidenceBefore EvidenceKind = "before"
	EvidenceAfter  EvidenceKind = "after"
	EvidenceDiff   EvidenceKind = "diff"
)

// DecisionEvidence is a snapshot record captured during verification.
type DecisionEvidence struct {
	ID         uuid.UUID      `json:"id"`
	DecisionID uuid.UUID      `json:"decision_id"`
	ScanID     *uuid.UUID     `json:"scan_id,omitempty"`
	Kind       EvidenceKind   `json:"type"`
	Payload    map[string]any `json:"payload"`
	CreatedAt  time.Time      `json:"created_at"`
}
