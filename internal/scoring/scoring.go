// Package scoring turns a set of normalized signals into the deterministic
// risk model: per-category scores, the weighted aggregate, breach likelihood
// estimates, and the AI exposure sub-score. Everything here is a pure
// function of its inputs.
package scoring

import (
	"math"

	"github.com/threatveil/threatveil/internal/model"
)

// severityPoints is the per-signal contribution to its category score.
var severityPoints = map[model.Severity]int{
	model.SeverityLow:      5,
	model.SeverityMedium:   15,
	model.SeverityHigh:     30,
	model.SeverityCritical: 50,
}

// CategoryWeights is the fixed weighting of category scores in the aggregate.
// The weights sum to 1.0.
var CategoryWeights = map[model.Category]float64{
	model.CategoryNetwork:      0.40,
	model.CategorySoftware:     0.35,
	model.CategoryDataExposure: 0.20,
	model.CategoryAI:           0.05,
}

// categories in deterministic iteration order.
var categories = []model.Category{
	model.CategoryNetwork,
	model.CategorySoftware,
	model.CategoryDataExposure,
	model.CategoryAI,
}

// severityLabel maps a category score to its coarse label.
func severityLabel(score int) model.Severity {
	switch {
	case score >= 70:
		return model.SeverityHigh
	case score >= 40:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// Result is the full scoring output for one scan.
type Result struct {
	RiskScore  int
	Categories map[model.Category]model.CategoryScore
}

// Score computes per-category scores and the weighted aggregate from the
// scan's signals. Each signal adds its severity's points to its category;
// category scores clamp at 100; the aggregate is the weighted sum rounded
// to the nearest integer.
func Score(signals []model.Signal) Result {
	raw := map[model.Category]int{}
	for _, s := range signals {
		raw[s.Category] += severityPoints[s.Severity]
	}

	cats := make(map[model.Category]model.CategoryScore, len(categories))
	var weighted float64
	for _, c := range categories {
		score := raw[c]
		if score > 100 {
			score = 100
		}
		w := CategoryWeights[c]
		cats[c] = model.CategoryScore{
			Score:    score,
			Weight:   w,
			Severity: severityLabel(score),
		}
		weighted += float64(score) * w
	}

	return Result{
		RiskScore:  int(math.Round(weighted)),
		Categories: cats,
	}
}

// likelihoodWeights is the per-signal contribution to the 30-day breach
// likelihood. Critical findings weigh the same as high.
var likelihoodWeights = map[model.Severity]float64{
	model.SeverityLow:      0.05,
	model.SeverityMedium:   0.10,
	model.SeverityHigh:     0.20,
	model.SeverityCritical: 0.20,
}

// Likelihood returns the 30-day and 90-day breach likelihood estimates.
// Both are clamped to [0, 1] and the 90-day figure is never below the
// 30-day one.
func Likelihood(signals []model.Signal) (l30, l90 float64) {
	for _, s := range signals {
		l30 += likelihoodWeights[s.Severity]
	}
	l30 = clamp01(l30)
	l90 = clamp01(l30 + 0.10)
	return l30, l90
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// maxKeyPenalty caps the total contribution of leaked AI keys to AIScore.
const maxKeyPenalty = 60

// AIScore computes the deterministic AI exposure score from detected tools
// and leaked keys: 10 points for 1-3 tools or 20 for 4+, 30 per leaked key
// capped at 60, and 10 more when any agentic tool is present.
func AIScore(tools []string, keys []model.AIKeyLeak) int {
	score := 0
	switch {
	case len(tools) >= 4:
		score += 20
	case len(tools) >= 1:
		score += 10
	}

	keyPenalty := 30 * len(keys)
	if keyPenalty > maxKeyPenalty {
		keyPenalty = maxKeyPenalty
	}
	score += keyPenalty

	if len(model.AgentTools(tools)) > 0 {
		score += 10
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}
