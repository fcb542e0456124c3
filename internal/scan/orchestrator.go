// Package scan runs the two-stage probe pipeline for a domain and turns the
// merged signals into a persisted, scored scan. Probe failures degrade the
// scan into a partial result instead of aborting it.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/threatveil/threatveil/internal/model"
	"github.com/threatveil/threatveil/internal/probe"
	"github.com/threatveil/threatveil/internal/scoring"
	"github.com/threatveil/threatveil/internal/storage"
)

// stageTimeout bounds each individual probe run.
const stageTimeout = 25 * time.Second

// DomainProbe inspects a single domain.
type DomainProbe interface {
	Run(ctx context.Context, domain string) (probe.Result, error)
}

// KeywordProbe searches by tech fingerprint tokens.
type KeywordProbe interface {
	Run(ctx context.Context, tokens []string) (probe.Result, error)
}

// CodeProbe inspects a public code organization.
type CodeProbe interface {
	Run(ctx context.Context, org string) (probe.Result, error)
}

// Probes bundles the source adapters the orchestrator fans out over.
type Probes struct {
	DNS    DomainProbe
	Web    DomainProbe
	TLS    DomainProbe
	CT     DomainProbe
	OTX    DomainProbe
	NVD    KeywordProbe
	GitHub CodeProbe
}

// AutoVerifier re-checks resolved-but-unverified decisions against a fresh
// scan. Implemented by the verification engine; optional.
type AutoVerifier interface {
	AutoVerify(ctx context.Context, scan model.Scan, aiScan *model.AIScan)
}

// Emitter fans a domain event out to subscribed webhooks. Optional.
type Emitter interface {
	Emit(ctx context.Context, orgID uuid.UUID, event model.EventType, data map[string]any)
}

// Config wires an Orchestrator.
type Config struct {
	DB         *storage.DB
	Probes     Probes
	Summarizer Summarizer
	Verifier   AutoVerifier
	Events     Emitter
	Logger     *slog.Logger
}

// Orchestrator coordinates probes, scoring, summarization, and persistence
// for a single scan.
type Orchestrator struct {
	db         *storage.DB
	probes     Probes
	summarizer Summarizer
	verifier   AutoVerifier
	events     Emitter
	logger     *slog.Logger
}

// New creates an orchestrator. A nil Summarizer falls back to the
// deterministic one.
func New(cfg Config) *Orchestrator {
	if cfg.Summarizer == nil {
		cfg.Summarizer = NullSummarizer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		db:         cfg.DB,
		probes:     cfg.Probes,
		summarizer: cfg.Summarizer,
		verifier:   cfg.Verifier,
		events:     cfg.Events,
		logger:     cfg.Logger,
	}
}

// stageRun is one shielded probe execution. A probe either contributes its
// result or exactly one error, never both.
type stageRun struct {
	name     string
	category model.Category
	result   probe.Result
	err      error
}

// shielded runs fn with a bounded context and converts a panic into an error
// so one misbehaving probe cannot take the scan down.
func (o *Orchestrator) shielded(ctx context.Context, run *stageRun, fn func(ctx context.Context) (probe.Result, error)) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(ctx, stageTimeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				run.err = fmt.Errorf("scan: %s probe panic: %v", run.name, r)
			}
		}()
		run.result, run.err = fn(ctx)
		return nil
	}
}

// Run executes the full pipeline for domain. codeOrg optionally enables the
// code-search stage. The returned scan is already persisted.
func (o *Orchestrator) Run(ctx context.Context, domain, codeOrg string) (model.Scan, error) {
	started := time.Now()

	domain, err := ValidateDomain(domain)
	if err != nil {
		return model.Scan{}, err
	}

	// Stage A: independent sources, fanned out together.
	stageA := []*stageRun{
		{name: "DNS", category: model.CategoryNetwork},
		{name: "HTTP", category: model.CategoryNetwork},
		{name: "TLS", category: model.CategoryNetwork},
		{name: "CT", category: model.CategoryNetwork},
		{name: "OTX", category: model.CategoryNetwork},
	}
	var g errgroup.Group
	g.Go(o.shielded(ctx, stageA[0], func(ctx context.Context) (probe.Result, error) {
		return o.probes.DNS.Run(ctx, domain)
	}))
	g.Go(o.shielded(ctx, stageA[1], func(ctx context.Context) (probe.Result, error) {
		return o.probes.Web.Run(ctx, domain)
	}))
	g.Go(o.shielded(ctx, stageA[2], func(ctx context.Context) (probe.Result, error) {
		return o.probes.TLS.Run(ctx, domain)
	}))
	g.Go(o.shielded(ctx, stageA[3], func(ctx context.Context) (probe.Result, error) {
		return o.probes.CT.Run(ctx, domain)
	}))
	g.Go(o.shielded(ctx, stageA[4], func(ctx context.Context) (probe.Result, error) {
		return o.probes.OTX.Run(ctx, domain)
	}))
	_ = g.Wait()

	// Stage B depends on Stage A output: the HTTP probe's tech tokens feed
	// the vulnerability search.
	tokens := techTokens(stageA[1].result)
	stageB := []*stageRun{
		{name: "NVD", category: model.CategorySoftware},
		{name: "GitHub", category: model.CategoryDataExposure},
	}
	var g2 errgroup.Group
	if len(tokens) > 0 {
		g2.Go(o.shielded(ctx, stageB[0], func(ctx context.Context) (probe.Result, error) {
			return o.probes.NVD.Run(ctx, tokens)
		}))
	}
	g2.Go(o.shielded(ctx, stageB[1], func(ctx context.Context) (probe.Result, error) {
		return o.probes.GitHub.Run(ctx, codeOrg)
	}))
	_ = g2.Wait()

	// Merge. Failing sources degrade into service-error signals.
	var signals []model.Signal
	raw := map[string]any{}
	partialFailures := 0
	for _, run := range append(stageA, stageB...) {
		key := normalizeName(run.name)
		if run.err != nil {
			partialFailures++
			signals = append(signals, model.NewServiceErrorSignal(run.name, run.err, run.category))
			raw[key] = map[string]any{"error": run.err.Error()}
			o.logger.Warn("probe failed", "probe", run.name, "domain", domain, "error", run.err)
			continue
		}
		if run.result.Metadata != nil {
			raw[key] = run.result.Metadata
		}
		signals = append(signals, run.result.Signals...)
	}

	scored := scoring.Score(signals)
	l30, l90 := scoring.Likelihood(signals)

	// The synthetic marker keeps downstream consumers away from an empty
	// signal set. Scoring has already run, so a clean domain stays at 0.
	if len(signals) == 0 {
		signals = append(signals, model.NewSignal(model.SignalParams{
			ID:       "scan_completed_no_findings",
			Type:     "info",
			Detail:   "The scan completed without findings. Keep monitoring for changes.",
			Severity: model.SeverityLow,
			Category: model.CategoryNetwork,
			Source:   "scanner",
		}))
	}

	summary := o.summarize(ctx, SummaryInput{
		Domain:        domain,
		RiskScore:     scored.RiskScore,
		Likelihood30d: l30,
		Likelihood90d: l90,
		Signals:       signals,
	})

	org, err := o.db.GetOrCreateOrganizationByDomain(ctx, domain)
	if err != nil {
		return model.Scan{}, fmt.Errorf("scan: resolve organization: %w", err)
	}

	scan, err := o.db.CreateScan(ctx, model.Scan{
		OrgID:         org.ID,
		Domain:        domain,
		CodeOrg:       codeOrg,
		RiskScore:     scored.RiskScore,
		Likelihood30d: l30,
		Likelihood90d: l90,
		Categories:    scored.Categories,
		Signals:       signals,
		Summary:       summary,
		RawPayload:    raw,
	})
	if err != nil {
		return model.Scan{}, fmt.Errorf("scan: persist: %w", err)
	}

	if _, err := o.db.IncrementScanUsage(ctx, org.ID); err != nil {
		o.logger.Warn("increment scan usage failed", "org_id", org.ID, "error", err)
	}

	// Post-processing never fails the scan.
	aiScan := o.recordAIScan(ctx, scan, stageB[1])
	o.notifyScoreChange(ctx, scan)
	if o.verifier != nil {
		o.verifier.AutoVerify(ctx, scan, aiScan)
	}

	attrs := []any{
		"domain", domain,
		"risk_score", scan.RiskScore,
		"duration_ms", time.Since(started).Milliseconds(),
		"signal_count", len(signals),
		"partial_failures", partialFailures,
		"scan_id", scan.ID,
	}
	if partialFailures > 0 {
		o.logger.Warn("scan completed with partial failures", attrs...)
	} else {
		o.logger.Info("scan completed", attrs...)
	}
	return scan, nil
}

// summarize shields the summary provider: any failure or empty output falls
// back to the deterministic summary.
func (o *Orchestrator) summarize(ctx context.Context, in SummaryInput) string {
	text, err := o.summarizer.Summarize(ctx, in)
	if err != nil || text == "" {
		if err != nil {
			o.logger.Warn("summarizer failed, using fallback", "domain", in.Domain, "error", err)
		}
		return FallbackSummary(in)
	}
	return ClampWords(text, maxSummaryWords)
}

// recordAIScan persists the AI sub-scan from the code-search findings.
// Returns nil when no sub-scan applies or persistence failed.
func (o *Orchestrator) recordAIScan(ctx context.Context, scan model.Scan, github *stageRun) *model.AIScan {
	if scan.CodeOrg == "" || github.err != nil {
		return nil
	}
	tools, _ := github.result.Metadata["ai_tools"].([]string)
	keys, _ := github.result.Metadata["ai_keys"].([]model.AIKeyLeak)

	score := scoring.AIScore(tools, keys)
	summary := fmt.Sprintf("Detected %d AI tool(s) and %d leaked AI key(s) in %s's public code. AI exposure score %d/100.",
		len(tools), len(keys), scan.CodeOrg, score)
	agents := model.AgentTools(tools)
	if len(agents) > 0 {
		summary += fmt.Sprintf(" Agentic frameworks in use: %v.", agents)
	}

	ai, err := o.db.CreateAIScan(ctx, model.AIScan{
		ScanID:  scan.ID,
		Tools:   tools,
		Keys:    keys,
		Score:   score,
		Summary: summary,
	})
	if err != nil {
		o.logger.Warn("persist ai scan failed", "scan_id", scan.ID, "error", err)
		return nil
	}
	return &ai
}

// notifyScoreChange emits risk.score_changed when the score moved against
// the previous scan of the same domain.
func (o *Orchestrator) notifyScoreChange(ctx context.Context, scan model.Scan) {
	if o.events == nil {
		return
	}
	prev, err := o.db.GetPreviousScan(ctx, scan)
	if err != nil || prev.RiskScore == scan.RiskScore {
		return
	}
	o.events.Emit(ctx, scan.OrgID, model.EventRiskScoreChanged, map[string]any{
		"domain":         scan.Domain,
		"scan_id":        scan.ID.String(),
		"previous_score": prev.RiskScore,
		"new_score":      scan.RiskScore,
	})
}

// techTokens extracts the fingerprint tokens the HTTP probe mined.
func techTokens(res probe.Result) []string {
	if res.Metadata == nil {
		return nil
	}
	tokens, _ := res.Metadata["tech_tokens"].([]string)
	return tokens
}

// normalizeName maps a probe display name to its raw-payload key.
func normalizeName(name string) string {
	switch name {
	case "DNS":
		return "dns"
	case "HTTP":
		return "http"
	case "TLS":
		return "tls"
	case "CT":
		return "ct"
	case "OTX":
		return "otx"
	case "NVD":
		return "nvd"
	case "GitHub":
		return "github"
	default:
		return name
	}
}
