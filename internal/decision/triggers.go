package decision

import (
	"github.com/threatveil/threatveil/internal/model"
)

// The counting helpers below define, per action, what the "triggering
// condition" of a decision looks like in a scan snapshot. Impact tiering and
// verification both compare these counts between a before and an after scan,
// so they must agree exactly.

// countSignals counts signals matching both category and severity.
func countSignals(s model.Scan, cat model.Category, sev model.Severity) int {
	n := 0
	for _, sig := range s.Signals {
		if sig.Category == cat && sig.Severity == sev {
			n++
		}
	}
	return n
}

// countCategory counts signals in a category regardless of severity.
func countCategory(s model.Scan, cat model.Category) int {
	n := 0
	for _, sig := range s.Signals {
		if sig.Category == cat {
			n++
		}
	}
	return n
}

// countTLS counts high and medium severity signals sourced from the TLS probe.
func countTLS(s model.Scan) int {
	n := 0
	for _, sig := range s.Signals {
		if sig.Evidence.Source == "tls" && (sig.Severity == model.SeverityHigh || sig.Severity == model.SeverityMedium) {
			n++
		}
	}
	return n
}

// countNetwork counts network-category signals above low severity.
func countNetwork(s model.Scan) int {
	n := 0
	for _, sig := range s.Signals {
		if sig.Category == model.CategoryNetwork && sig.Severity != model.SeverityLow {
			n++
		}
	}
	return n
}

// CVECount counts CVE-tagged signals. The patch-cves verification rule
// compares these rather than the broader software/high trigger count.
func CVECount(s model.Scan) int {
	n := 0
	for _, sig := range s.Signals {
		if sig.Type == "cve" {
			n++
		}
	}
	return n
}

// aiKeyCount and agentToolCount read the AI sub-scan; a missing sub-scan
// counts as zero.
func aiKeyCount(ai *model.AIScan) int {
	if ai == nil {
		return 0
	}
	return len(ai.Keys)
}

func agentToolCount(ai *model.AIScan) int {
	if ai == nil {
		return 0
	}
	return len(model.AgentTools(ai.Tools))
}

func aiToolCount(ai *model.AIScan) int {
	if ai == nil {
		return 0
	}
	return len(ai.Tools)
}

// TriggerCount returns the action's triggering-condition count in a scan
// snapshot. Exported for the verification engine.
func TriggerCount(actionID string, s model.Scan, ai *model.AIScan) (count int, known bool) {
	switch actionID {
	case "key-rotation":
		return aiKeyCount(ai), true
	case "patch-cves":
		return countSignals(s, model.CategorySoftware, model.SeverityHigh), true
	case "review-agents":
		return agentToolCount(ai), true
	case "audit-data":
		return countCategory(s, model.CategoryDataExposure), true
	case "update-tls":
		return countTLS(s), true
	case "review-network":
		return countNetwork(s), true
	case "audit-ai-tools":
		return aiToolCount(ai), true
	default:
		return 0, false
	}
}
