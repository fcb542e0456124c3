package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// CategoryScore is the per-category contribution to a scan's risk score.
type CategoryScore struct {
	Score    int      `json:"score"`
	Weight   float64  `json:"weight"`
	Severity Severity `json:"severity"`
}

// Scan is one execution over one asset at one moment. Immutable once written.
type Scan struct {
	ID            uuid.UUID                  `json:"id"`
	OrgID         uuid.UUID                  `json:"org_id"`
	Domain        string                     `json:"domain"`
	CodeOrg       string                     `json:"github_org,omitempty"`
	RiskScore     int                        `json:"risk_score"`
	Likelihood30d float64                    `json:"breach_likelihood_30d"`
	Likelihood90d float64                    `json:"breach_likelihood_90d"`
	Categories    map[Category]CategoryScore `json:"categories"`
	Signals       []Signal                   `json:"signals"`
	Summary       string                     `json:"summary"`
	RawPayload    map[string]any             `json:"-"`
	CreatedAt     time.Time                  `json:"created_at"`
}

// AIKeyLeak describes one exposed AI provider credential found in public code.
type AIKeyLeak struct {
	KeyType    string `json:"key_type"`
	Repository string `json:"repository"`
	Path       string `json:"path"`
	URL        string `json:"url,omitempty"`
}

// AIScan is the AI-specific sub-scan attached to a Scan: detected tools,
// leaked keys, and the deterministic ai_score.
type AIScan struct {
	ID        uuid.UUID   `json:"id"`
	ScanID    uuid.UUID   `json:"scan_id"`
	Tools     []string    `json:"ai_tools"`
	Keys      []AIKeyLeak `json:"ai_keys"`
	Score     int         `json:"ai_score"`
	Summary   string      `json:"ai_summary"`
	CreatedAt time.Time   `json:"created_at"`
}

// AgentKeywords are the substrings that mark an AI tool as agentic. Shared by
// the decision engine, impact checks, and verification rules so all three
// agree on what counts as an agent.
var AgentKeywords = []string{"langchain", "crewai", "autogen", "langgraph", "agent"}

// AgentTools filters tools down to those matching an agent keyword.
func AgentTools(tools []string) []string {
	var agents []string
	for _, t := range tools {
		lt := strings.ToLower(t)
		for _, kw := range AgentKeywords {
			if strings.Contains(lt, kw) {
				agents = append(agents, t)
				break
			}
		}
	}
	return agents
}
