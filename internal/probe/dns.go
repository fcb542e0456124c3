package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/threatveil/threatveil/internal/model"
)

// DNS resolves a domain's core records and checks the email-authentication
// posture (SPF and DMARC).
type DNS struct {
	resolver *net.Resolver
}

// NewDNS creates the DNS probe using the default system resolver.
func NewDNS() *DNS {
	return &DNS{resolver: net.DefaultResolver}
}

// Run resolves A/AAAA, MX and TXT records plus the _dmarc TXT record, and
// emits signals for missing SPF and DMARC.
func (p *DNS) Run(ctx context.Context, domain string) (Result, error) {
	addrs, err := p.resolver.LookupHost(ctx, domain)
	if err != nil {
		// NXDOMAIN is tolerated (the domain may be mail-only); resolver
		// failures are not.
		var dnsErr *net.DNSError
		if !(errors.As(err, &dnsErr) && dnsErr.IsNotFound) {
			return Result{}, fmt.Errorf("probe: dns lookup %s: %w", domain, err)
		}
	}

	mxHosts := []string{}
	if mxs, err := p.resolver.LookupMX(ctx, domain); err == nil {
		for _, mx := range mxs {
			mxHosts = append(mxHosts, mx.Host)
		}
	}

	txts, _ := p.resolver.LookupTXT(ctx, domain)
	dmarcTxts, _ := p.resolver.LookupTXT(ctx, "_dmarc."+domain)

	hasSPF := false
	for _, txt := range txts {
		if strings.HasPrefix(strings.ToLower(txt), "v=spf") {
			hasSPF = true
			break
		}
	}
	hasDMARC := false
	for _, txt := range dmarcTxts {
		if strings.HasPrefix(strings.ToLower(txt), "v=dmarc") {
			hasDMARC = true
			break
		}
	}

	var signals []model.Signal
	if !hasDMARC {
		signals = append(signals, model.NewSignal(model.SignalParams{
			ID:       "dns_missing_dmarc",
			Type:     "config",
			Detail:   "No DMARC record found. Attackers can spoof email from this domain.",
			Severity: model.SeverityMedium,
			Category: model.CategoryNetwork,
			Source:   "dns",
			Raw:      map[string]any{"dmarc_txt": dmarcTxts},
		}))
	}
	if !hasSPF {
		signals = append(signals, model.NewSignal(model.SignalParams{
			ID:       "dns_missing_spf",
			Type:     "config",
			Detail:   "No SPF record found. Mail servers cannot verify senders for this domain.",
			Severity: model.SeverityMedium,
			Category: model.CategoryNetwork,
			Source:   "dns",
			Raw:      map[string]any{"txt": txts},
		}))
	}

	return Result{
		Metadata: map[string]any{
			"addresses": addrs,
			"mx":        mxHosts,
			"txt":       txts,
			"has_spf":   hasSPF,
			"has_dmarc": hasDMARC,
		},
		Signals: signals,
	}, nil
}

