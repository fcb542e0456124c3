package probe

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/threatveil/threatveil/internal/model"
)

// requiredHeaders is the security header set every HTTPS endpoint is
// expected to send. HSTS and CSP absences are high severity, the rest medium.
var requiredHeaders = []struct {
	name     string
	severity model.Severity
	detail   string
}{
	{"strict-transport-security", model.SeverityHigh, "HSTS header missing. Browsers may downgrade connections to plain HTTP."},
	{"content-security-policy", model.SeverityHigh, "Content-Security-Policy header missing. The site has no script-injection guardrail."},
	{"x-frame-options", model.SeverityMedium, "X-Frame-Options header missing. The site can be embedded in hostile frames."},
	{"x-content-type-options", model.SeverityMedium, "X-Content-Type-Options header missing. Browsers may MIME-sniff responses."},
	{"referrer-policy", model.SeverityMedium, "Referrer-Policy header missing. Full URLs may leak to third parties."},
	{"permissions-policy", model.SeverityMedium, "Permissions-Policy header missing. Powerful browser features are unrestricted."},
}

// fingerprintHeaders are the response headers mined for tech tokens that
// feed the vulnerability-database probe.
var fingerprintHeaders = []string{"Server", "X-Powered-By", "X-Generator"}

// Web probes a domain's HTTPS endpoint for security headers and HTTP-to-HTTPS
// enforcement, and extracts tech fingerprint tokens.
type Web struct {
	client     *http.Client
	noRedirect *http.Client
	userAgent  string
}

// NewWeb creates the HTTP probe.
func NewWeb(userAgent string) *Web {
	base := newHTTPClient()
	noRedirect := newHTTPClient()
	noRedirect.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Web{client: base, noRedirect: noRedirect, userAgent: userAgent}
}

// Run fetches https://<domain> (following redirects) and http://<domain>
// (without), emitting header and enforcement signals. The returned metadata
// carries the lower-cased response headers and the tech tokens under
// "tech_tokens".
func (p *Web) Run(ctx context.Context, domain string) (Result, error) {
	headers, err := p.FetchHeaders(ctx, domain)
	if err != nil {
		// An unreachable HTTPS endpoint is itself a finding, not a probe
		// failure: the probe observed the condition it exists to check.
		sig := model.NewSignal(model.SignalParams{
			ID:       "http_https_unreachable",
			Type:     "network",
			Detail:   "The HTTPS endpoint is unreachable. Visitors cannot establish a secure connection.",
			Severity: model.SeverityHigh,
			Category: model.CategoryNetwork,
			Source:   "http",
			URL:      "https://" + domain,
			Raw:      map[string]any{"error": err.Error()},
		})
		return Result{
			Metadata: map[string]any{"https_reachable": false, "error": err.Error()},
			Signals:  []model.Signal{sig},
		}, nil
	}

	var signals []model.Signal
	for _, h := range requiredHeaders {
		if _, ok := headers[h.name]; ok {
			continue
		}
		signals = append(signals, model.NewSignal(model.SignalParams{
			ID:       "http_header_" + strings.ReplaceAll(h.name, "-", "_") + "_missing",
			Type:     "config",
			Detail:   h.detail,
			Severity: h.severity,
			Category: model.CategorySoftware,
			Source:   "http",
			URL:      "https://" + domain,
			Raw:      map[string]any{"header": h.name},
		}))
	}

	if sig := p.checkRedirect(ctx, domain); sig != nil {
		signals = append(signals, *sig)
	}

	var tokens []string
	for _, h := range fingerprintHeaders {
		if v := headers[strings.ToLower(h)]; v != "" {
			tokens = append(tokens, v)
		}
	}

	return Result{
		Metadata: map[string]any{
			"https_reachable": true,
			"headers":         headers,
			"tech_tokens":     tokens,
		},
		Signals: signals,
	}, nil
}

// FetchHeaders GETs https://<domain> following redirects and returns the
// final response headers lower-cased. Shared with the verification engine.
func (p *Web) FetchHeaders(ctx context.Context, domain string) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+domain, nil)
	if err != nil {
		return nil, fmt.Errorf("probe: build https request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe: fetch https://%s: %w", domain, err)
	}
	defer resp.Body.Close()

	headers := make(map[string]string, len(resp.Header))
	for name := range resp.Header {
		headers[strings.ToLower(name)] = resp.Header.Get(name)
	}
	return headers, nil
}

// checkRedirect probes http://<domain> without following redirects and
// returns a signal when plain HTTP is served without an HTTPS redirect.
func (p *Web) checkRedirect(ctx context.Context, domain string) *model.Signal {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+domain, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.noRedirect.Do(req)
	if err != nil {
		// Port 80 closed entirely is acceptable enforcement.
		return nil
	}
	defer resp.Body.Close()

	location := resp.Header.Get("Location")
	if resp.StatusCode >= 300 && resp.StatusCode < 400 && strings.HasPrefix(location, "https://") {
		return nil
	}

	sig := model.NewSignal(model.SignalParams{
		ID:       "http_no_https_redirect",
		Type:     "config",
		Detail:   "Plain HTTP is served without redirecting to HTTPS. Traffic can be intercepted.",
		Severity: model.SeverityHigh,
		Category: model.CategoryNetwork,
		Source:   "http",
		URL:      "http://" + domain,
		Raw:      map[string]any{"status": resp.StatusCode, "location": location},
	})
	return &sig
}
