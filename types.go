package threatveil

import (
	"github.com/threatveil/threatveil/internal/model"
	"github.com/threatveil/threatveil/internal/scan"
)

// Public aliases for the domain types an embedding consumer sees in event
// hook payloads and when implementing a Summarizer. Aliased rather than
// copied so hooks and the server always agree on the wire shape.
type (
	Scan            = model.Scan
	AIScan          = model.AIScan
	Signal          = model.Signal
	Decision        = model.Decision
	VerificationRun = model.VerificationRun
	Organization    = model.Organization
	Asset           = model.Asset
	Webhook         = model.Webhook

	EventType = model.EventType

	// Summarizer produces the prose summary attached to a scan.
	Summarizer   = scan.Summarizer
	SummaryInput = scan.SummaryInput
)

// Domain events delivered to webhooks and event hooks.
const (
	EventWeeklyBrief      = model.EventWeeklyBrief
	EventDecisionCreated  = model.EventDecisionCreated
	EventDecisionVerified = model.EventDecisionVerified
	EventRiskScoreChanged = model.EventRiskScoreChanged
	EventTest             = model.EventTest
)
