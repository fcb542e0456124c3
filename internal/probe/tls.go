package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/threatveil/threatveil/internal/model"
)

// TLS inspects a domain's certificate: validity window and days to expiry.
type TLS struct {
	dialer *tls.Dialer
}

// NewTLS creates the TLS probe.
func NewTLS() *TLS {
	return &TLS{
		dialer: &tls.Dialer{
			NetDialer: &net.Dialer{Timeout: connectTimeout},
		},
	}
}

// CertInfo is the parsed certificate state, shared with the verification
// engine.
type CertInfo struct {
	Issuer       string    `json:"issuer"`
	Subject      string    `json:"subject"`
	NotBefore    time.Time `json:"not_before"`
	NotAfter     time.Time `json:"not_after"`
	DaysToExpiry int       `json:"days_to_expiry"`
}

// Check opens a TLS connection to domain:443 and returns the peer
// certificate state.
func (p *TLS) Check(ctx context.Context, domain string) (CertInfo, error) {
	conn, err := p.dialer.DialContext(ctx, "tcp", net.JoinHostPort(domain, "443"))
	if err != nil {
		return CertInfo{}, fmt.Errorf("probe: tls dial %s: %w", domain, err)
	}
	defer conn.Close()

	tlsConn := conn.(*tls.Conn)
	certs := tlsConn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return CertInfo{}, fmt.Errorf("probe: tls %s: no peer certificate", domain)
	}

	leaf := certs[0]
	days := int(time.Until(leaf.NotAfter).Hours() / 24)
	return CertInfo{
		Issuer:       leaf.Issuer.String(),
		Subject:      leaf.Subject.String(),
		NotBefore:    leaf.NotBefore.UTC(),
		NotAfter:     leaf.NotAfter.UTC(),
		DaysToExpiry: days,
	}, nil
}

// Run checks the certificate and maps days-to-expiry onto the severity
// ladder: expired critical, within 7 days high, within 30 days medium.
func (p *TLS) Run(ctx context.Context, domain string) (Result, error) {
	info, err := p.Check(ctx, domain)
	if err != nil {
		sig := model.NewSignal(model.SignalParams{
			ID:       "tls_unreachable",
			Type:     "network",
			Detail:   "Could not establish a TLS connection. The certificate state is unknown.",
			Severity: model.SeverityHigh,
			Category: model.CategoryNetwork,
			Source:   "tls",
			Raw:      map[string]any{"error": err.Error()},
		})
		return Result{
			Metadata: map[string]any{"reachable": false, "error": err.Error()},
			Signals:  []model.Signal{sig},
		}, nil
	}

	var signals []model.Signal
	switch {
	case info.DaysToExpiry < 0:
		signals = append(signals, expirySignal(info, model.SeverityCritical,
			"The TLS certificate has expired. Browsers will refuse connections."))
	case info.DaysToExpiry <= 7:
		signals = append(signals, expirySignal(info, model.SeverityHigh,
			fmt.Sprintf("The TLS certificate expires in %d days.", info.DaysToExpiry)))
	case info.DaysToExpiry <= 30:
		signals = append(signals, expirySignal(info, model.SeverityMedium,
			fmt.Sprintf("The TLS certificate expires in %d days.", info.DaysToExpiry)))
	}

	return Result{
		Metadata: map[string]any{
			"reachable":      true,
			"issuer":         info.Issuer,
			"not_after":      info.NotAfter,
			"days_to_expiry": info.DaysToExpiry,
		},
		Signals: signals,
	}, nil
}

func expirySignal(info CertInfo, sev model.Severity, detail string) model.Signal {
	return model.NewSignal(model.SignalParams{
		ID:       "tls_cert_expiry",
		Type:     "config",
		Detail:   detail,
		Severity: sev,
		Category: model.CategoryNetwork,
		Source:   "tls",
		Raw: map[string]any{
			"issuer":         info.Issuer,
			"not_after":      info.NotAfter,
			"days_to_expiry": info.DaysToExpiry,
		},
	})
}
