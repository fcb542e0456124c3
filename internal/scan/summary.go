package scan

import (
	"context"
	"fmt"
	"strings"

	"github.com/threatveil/threatveil/internal/model"
)

// SummaryInput is what a summary provider sees: the deterministic scan
// outcome, never the other way around.
type SummaryInput struct {
	Domain        string
	RiskScore     int
	Likelihood30d float64
	Likelihood90d float64
	Signals       []model.Signal
}

// Summarizer produces the prose summary attached to a scan. Summaries are
// cosmetic; scores and decisions never depend on them.
type Summarizer interface {
	Summarize(ctx context.Context, in SummaryInput) (string, error)
}

// maxSummaryWords clamps provider output length.
const maxSummaryWords = 120

// NullSummarizer is the capability used when no LLM key is configured: it
// always produces the deterministic fallback.
type NullSummarizer struct{}

func (NullSummarizer) Summarize(_ context.Context, in SummaryInput) (string, error) {
	return FallbackSummary(in), nil
}

// FallbackSummary builds a deterministic summary from the highest-severity
// findings and the likelihood figures.
func FallbackSummary(in SummaryInput) string {
	var highlights []string
	for _, sev := range []model.Severity{model.SeverityCritical, model.SeverityHigh, model.SeverityMedium} {
		for _, s := range in.Signals {
			if s.Severity == sev && !s.IsServiceError() {
				highlights = append(highlights, s.Detail)
				if len(highlights) == 3 {
					break
				}
			}
		}
		if len(highlights) == 3 {
			break
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s scored %d/100.", in.Domain, in.RiskScore)
	if len(highlights) > 0 {
		fmt.Fprintf(&b, " Top findings: %s", strings.Join(highlights, " "))
	} else {
		b.WriteString(" No significant findings were observed.")
	}
	fmt.Fprintf(&b, " Estimated breach likelihood is %.0f%% over 30 days and %.0f%% over 90 days.",
		in.Likelihood30d*100, in.Likelihood90d*100)
	return ClampWords(b.String(), maxSummaryWords)
}

// ClampWords truncates s to at most n words.
func ClampWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return s
	}
	return strings.Join(words[:n], " ") + "…"
}
