// Package probe contains one adapter per external data source: DNS records,
// HTTPS security headers, TLS certificates, certificate-transparency logs,
// threat-intel pulses, the NVD vulnerability database, and GitHub code
// search. Each adapter returns (metadata, signals) and reports errors to the
// orchestrator, which converts them into service-error signals so a failing
// source degrades a scan instead of aborting it.
package probe

import (
	"context"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"github.com/threatveil/threatveil/internal/model"
)

// Result is the output of one probe run.
type Result struct {
	// Metadata holds the probe's raw payload, persisted on the scan for audit.
	Metadata map[string]any
	// Signals are the normalized findings.
	Signals []model.Signal
}

// Timeouts for outbound calls.
const (
	connectTimeout = 5 * time.Second
	totalTimeout   = 20 * time.Second
)

// newHTTPClient builds the outbound client shared by HTTP-based probes.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: totalTimeout,
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
			TLSHandshakeTimeout:   connectTimeout,
			ResponseHeaderTimeout: 15 * time.Second,
			MaxIdleConnsPerHost:   4,
		},
	}
}

// Retry budget for transient upstream failures.
const (
	backoffBase     = 200 * time.Millisecond
	backoffCap      = 2500 * time.Millisecond
	backoffAttempts = 3
)

// withBackoff runs fn up to backoffAttempts times with jittered exponential
// backoff. The last error is returned once the budget is exhausted.
func withBackoff(ctx context.Context, fn func() error) error {
	delay := backoffBase
	var err error
	for attempt := 0; attempt < backoffAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == backoffAttempts-1 {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(delay / 2))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
		if delay > backoffCap {
			delay = backoffCap
		}
	}
	return err
}
