// Package model defines the core domain types shared across the scanner:
// signals with their evidence envelopes, scans, organizations, assets,
// decisions and their lifecycle, webhooks, and schedules.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Severity classifies how serious a finding is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category assigns a finding to one of the scored posture categories.
type Category string

const (
	CategoryNetwork      Category = "network"
	CategorySoftware     Category = "software"
	CategoryDataExposure Category = "data_exposure"
	CategoryAI           Category = "ai_integration"
)

// DetectionMethod records how a signal was produced.
type DetectionMethod string

const (
	DetectionRule   DetectionMethod = "rule"
	DetectionML     DetectionMethod = "ml"
	DetectionError  DetectionMethod = "error"
	DetectionManual DetectionMethod = "manual"
)

// Evidence is the envelope attached to every Signal. It is the contract for
// downstream reasoning: scoring, decision rules, verification, and any
// AI grounding all read from here rather than from free-form text.
type Evidence struct {
	Source          string          `json:"source"`
	ObservedAt      time.Time       `json:"observed_at"`
	URL             string          `json:"url,omitempty"`
	Raw             map[string]any  `json:"raw"`
	ExternalRefs    []string        `json:"external_refs,omitempty"`
	DetectionMethod DetectionMethod `json:"detection_method"`
	Confidence      float64         `json:"confidence"`
	NotesForAI      string          `json:"notes_for_ai,omitempty"`
}

// Signal is a normalized security finding.
type Signal struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Detail   string   `json:"detail"`
	Severity Severity `json:"severity"`
	Category Category `json:"category"`
	Evidence Evidence `json:"evidence"`
}

// SignalParams carries the inputs for NewSignal. URL and Raw are optional.
type SignalParams struct {
	ID           string
	Type         string
	Detail       string
	Severity     Severity
	Category     Category
	Source       string
	URL          string
	Raw          map[string]any
	ExternalRefs []string
}

// NewSignal builds a canonical Signal with a rule-detected evidence envelope
// observed now (UTC).
func NewSignal(p SignalParams) Signal {
	raw := p.Raw
	if raw == nil {
		raw = map[string]any{}
	}
	return Signal{
		ID:       p.ID,
		Type:     p.Type,
		Detail:   p.Detail,
		Severity: p.Severity,
		Category: p.Category,
		Evidence: Evidence{
			Source:          p.Source,
			ObservedAt:      time.Now().UTC(),
			URL:             p.URL,
			Raw:             raw,
			ExternalRefs:    p.ExternalRefs,
			DetectionMethod: DetectionRule,
			Confidence:      1.0,
		},
	}
}

// serviceErrorDetails maps probe names to the detail line shown to users
// when that probe fails. Unknown services get a generic line.
var serviceErrorDetails = map[string]string{
	"DNS":    "DNS lookup failed, results may be incomplete.",
	"HTTP":   "HTTP security check failed, results may be incomplete.",
	"TLS":    "TLS certificate check failed, results may be incomplete.",
	"CT":     "Certificate transparency log check failed, results may be incomplete.",
	"OTX":    "Threat intelligence enrichment unavailable, results may be incomplete.",
	"NVD":    "NVD vulnerability database check failed, results may be incomplete.",
	"GitHub": "GitHub code search unavailable, results may be incomplete.",
}

// NewServiceErrorSignal converts a probe failure into a low-severity signal
// so a partial failure stays visible without blocking the scan.
func NewServiceErrorSignal(service string, err error, category Category) Signal {
	detail, ok := serviceErrorDetails[service]
	if !ok {
		detail = fmt.Sprintf("%s service failed, results may be incomplete.", service)
	}
	errMsg := ""
	errType := ""
	if err != nil {
		errMsg = err.Error()
		errType = fmt.Sprintf("%T", err)
	}
	s := NewSignal(SignalParams{
		ID:       fmt.Sprintf("service_%s_failure", strings.ToLower(service)),
		Type:     "ai_guard",
		Detail:   detail,
		Severity: SeverityLow,
		Category: category,
		Source:   strings.ToLower(service),
		Raw: map[string]any{
			"error":      errMsg,
			"error_type": errType,
			"service":    service,
		},
	})
	s.Evidence.DetectionMethod = DetectionError
	s.Evidence.Confidence = 1.0
	return s
}

// IsServiceError reports whether s is a service-error signal produced by
// NewServiceErrorSignal.
func (s Signal) IsServiceError() bool {
	return s.Evidence.DetectionMethod == DetectionError
}
