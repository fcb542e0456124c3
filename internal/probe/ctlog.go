package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/threatveil/threatveil/internal/cache"
	"github.com/threatveil/threatveil/internal/model"
)

// ctChurnThreshold is the recent-entry count above which certificate churn
// is flagged.
const ctChurnThreshold = 50

// ctRecentWindow bounds what counts as a recent CT entry.
const ctRecentWindow = 90 * 24 * time.Hour

// CTLog queries a certificate-transparency aggregator for a domain's
// recently issued certificates.
type CTLog struct {
	client    *http.Client
	cache     *cache.Cache
	userAgent string

	// BaseURL points at the crt.sh JSON endpoint; overridable in tests.
	BaseURL string
}

// NewCTLog creates the CT probe.
func NewCTLog(c *cache.Cache, userAgent string) *CTLog {
	return &CTLog{
		client:    newHTTPClient(),
		cache:     c,
		userAgent: userAgent,
		BaseURL:   "https://crt.sh",
	}
}

type ctEntry struct {
	ID         int64  `json:"id"`
	NotBefore  string `json:"not_before"`
	CommonName string `json:"common_name"`
	IssuerName string `json:"issuer_name"`
}

// Run fetches the domain's CT entries (cached 24h), dedupes by entry id, and
// flags high certificate churn.
func (p *CTLog) Run(ctx context.Context, domain string) (Result, error) {
	key := cache.Key("ct", map[string]any{"domain": domain})
	entries, err := cache.GetOrFetchJSON(ctx, p.cache, key, cache.TTLExternal,
		func(ctx context.Context) ([]ctEntry, error) {
			return p.fetch(ctx, domain)
		})
	if err != nil {
		return Result{}, err
	}

	seen := map[int64]bool{}
	recent := 0
	cutoff := time.Now().UTC().Add(-ctRecentWindow)
	for _, e := range entries {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		if t, err := time.Parse("2006-01-02T15:04:05", e.NotBefore); err == nil && t.After(cutoff) {
			recent++
		}
	}

	var signals []model.Signal
	if recent > ctChurnThreshold {
		signals = append(signals, model.NewSignal(model.SignalParams{
			ID:       "ct_high_churn",
			Type:     "network",
			Detail:   fmt.Sprintf("%d certificates issued recently. High churn can indicate shadow infrastructure or misissuance.", recent),
			Severity: model.SeverityMedium,
			Category: model.CategoryNetwork,
			Source:   "ct",
			Raw:      map[string]any{"recent_entries": recent, "total_entries": len(seen)},
		}))
	}

	return Result{
		Metadata: map[string]any{
			"total_entries":  len(seen),
			"recent_entries": recent,
		},
		Signals: signals,
	}, nil
}

func (p *CTLog) fetch(ctx context.Context, domain string) ([]ctEntry, error) {
	endpoint := fmt.Sprintf("%s/?q=%s&output=json", p.BaseURL, url.QueryEscape("%."+domain))

	var entries []ctEntry
	err := withBackoff(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", p.userAgent)

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("ct aggregator returned %d", resp.StatusCode)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return err
		}
		return json.Unmarshal(body, &entries)
	})
	if err != nil {
		return nil, fmt.Errorf("probe: ct query %s: %w", domain, err)
	}
	return entries, nil
}
