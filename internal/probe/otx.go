package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sony/gobreaker"

	"github.com/threatveil/threatveil/internal/cache"
	"github.com/threatveil/threatveil/internal/model"
)

// otxPulseThreshold is the pulse count above which the finding is medium
// rather than low severity.
const otxPulseThreshold = 5

// OTX queries the AlienVault Open Threat Exchange for threat-intel pulses
// referencing a domain. Skipped entirely when no API key is configured.
type OTX struct {
	client  *http.Client
	cache   *cache.Cache
	breaker *gobreaker.CircuitBreaker
	apiKey  string

	// BaseURL points at the OTX API; overridable in tests.
	BaseURL string
}

// NewOTX creates the threat-intel probe.
func NewOTX(c *cache.Cache, apiKey string) *OTX {
	return &OTX{
		client:  newHTTPClient(),
		cache:   c,
		breaker: newBreaker("otx"),
		apiKey:  apiKey,
		BaseURL: "https://otx.alienvault.com",
	}
}

// Enabled reports whether the probe has credentials to run.
func (p *OTX) Enabled() bool { return p.apiKey != "" }

type otxResponse struct {
	PulseInfo struct {
		Count  int `json:"count"`
		Pulses []struct {
			Name string `json:"name"`
		} `json:"pulses"`
	} `json:"pulse_info"`
}

// Run checks the domain's pulse count. Any pulses at all are a finding; more
// than the threshold escalates to medium.
func (p *OTX) Run(ctx context.Context, domain string) (Result, error) {
	if !p.Enabled() {
		return Result{Metadata: map[string]any{"skipped": "no api key"}}, nil
	}

	key := cache.Key("otx", map[string]any{"domain": domain})
	info, err := cache.GetOrFetchJSON(ctx, p.cache, key, cache.TTLExternal,
		func(ctx context.Context) (otxResponse, error) {
			v, err := p.breaker.Execute(func() (interface{}, error) {
				return p.fetch(ctx, domain)
			})
			if err != nil {
				return otxResponse{}, err
			}
			return v.(otxResponse), nil
		})
	if err != nil {
		return Result{}, err
	}

	count := info.PulseInfo.Count
	var signals []model.Signal
	if count > 0 {
		sev := model.SeverityLow
		if count > otxPulseThreshold {
			sev = model.SeverityMedium
		}
		names := make([]string, 0, len(info.PulseInfo.Pulses))
		for _, pulse := range info.PulseInfo.Pulses {
			names = append(names, pulse.Name)
		}
		signals = append(signals, model.NewSignal(model.SignalParams{
			ID:       "otx_pulses_found",
			Type:     "network",
			Detail:   fmt.Sprintf("The domain appears in %d threat-intelligence pulses.", count),
			Severity: sev,
			Category: model.CategoryNetwork,
			Source:   "otx",
			Raw:      map[string]any{"pulse_count": count, "pulses": names},
		}))
	}

	return Result{
		Metadata: map[string]any{"pulse_count": count},
		Signals:  signals,
	}, nil
}

func (p *OTX) fetch(ctx context.Context, domain string) (otxResponse, error) {
	endpoint := fmt.Sprintf("%s/api/v1/indicators/domain/%s/general", p.BaseURL, domain)

	var out otxResponse
	err := withBackoff(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("X-OTX-API-KEY", p.apiKey)

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("otx returned %d", resp.StatusCode)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		return json.Unmarshal(body, &out)
	})
	if err != nil {
		return otxResponse{}, fmt.Errorf("probe: otx query %s: %w", domain, err)
	}
	return out, nil
}
