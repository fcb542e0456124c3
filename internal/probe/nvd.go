package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/threatveil/threatveil/internal/cache"
	"github.com/threatveil/threatveil/internal/model"
)

// maxFingerprintTokens bounds how many tech tokens are searched per scan.
const maxFingerprintTokens = 3

// nvdPace is the delay between consecutive keyword searches, respecting the
// public NVD rate limit.
const nvdPace = 650 * time.Millisecond

// NVD searches the National Vulnerability Database for CVEs matching the
// tech fingerprint tokens extracted from HTTP headers.
type NVD struct {
	client  *http.Client
	cache   *cache.Cache
	breaker *gobreaker.CircuitBreaker
	apiKey  string

	// BaseURL points at the NVD CVE API; overridable in tests.
	BaseURL string
}

// NewNVD creates the vulnerability-database probe. The API key is optional;
// without it the public rate limit applies.
func NewNVD(c *cache.Cache, apiKey string) *NVD {
	return &NVD{
		client:  newHTTPClient(),
		cache:   c,
		breaker: newBreaker("nvd"),
		apiKey:  apiKey,
		BaseURL: "https://services.nvd.nist.gov/rest/json/cves/2.0",
	}
}

type nvdResponse struct {
	Vulnerabilities []struct {
		CVE struct {
			ID           string `json:"id"`
			Descriptions []struct {
				Lang  string `json:"lang"`
				Value string `json:"value"`
			} `json:"descriptions"`
			Metrics nvdMetrics `json:"metrics"`
		} `json:"cve"`
	} `json:"vulnerabilities"`
}

type nvdMetrics struct {
	CvssMetricV31 []nvdMetric `json:"cvssMetricV31"`
	CvssMetricV30 []nvdMetric `json:"cvssMetricV30"`
	CvssMetricV2  []nvdMetric `json:"cvssMetricV2"`
}

type nvdMetric struct {
	CvssData struct {
		BaseScore float64 `json:"baseScore"`
	} `json:"cvssData"`
}

// bestScore picks the highest-preference CVSS score: v3.1 over v3.0 over v2.
func bestScore(m nvdMetrics) float64 {
	for _, metrics := range [][]nvdMetric{m.CvssMetricV31, m.CvssMetricV30, m.CvssMetricV2} {
		if len(metrics) > 0 {
			return metrics[0].CvssData.BaseScore
		}
	}
	return 0
}

// cvssSeverity maps a CVSS base score onto the severity ladder.
func cvssSeverity(score float64) model.Severity {
	switch {
	case score >= 9:
		return model.SeverityCritical
	case score >= 7:
		return model.SeverityHigh
	case score >= 4:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// Run keyword-searches the first three fingerprint tokens and emits one
// signal per unique CVE id.
func (p *NVD) Run(ctx context.Context, tokens []string) (Result, error) {
	if len(tokens) > maxFingerprintTokens {
		tokens = tokens[:maxFingerprintTokens]
	}

	seen := map[string]bool{}
	var signals []model.Signal
	totalMatches := 0

	for i, token := range tokens {
		if i > 0 {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(nvdPace):
			}
		}

		key := cache.Key("nvd", map[string]any{"keyword": token})
		resp, err := cache.GetOrFetchJSON(ctx, p.cache, key, cache.TTLExternal,
			func(ctx context.Context) (nvdResponse, error) {
				v, err := p.breaker.Execute(func() (interface{}, error) {
					return p.search(ctx, token)
				})
				if err != nil {
					return nvdResponse{}, err
				}
				return v.(nvdResponse), nil
			})
		if err != nil {
			return Result{}, err
		}

		for _, vuln := range resp.Vulnerabilities {
			id := vuln.CVE.ID
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			totalMatches++

			score := bestScore(vuln.CVE.Metrics)
			detail := ""
			for _, d := range vuln.CVE.Descriptions {
				if d.Lang == "en" {
					detail = d.Value
					break
				}
			}
			if r := []rune(detail); len(r) > 300 {
				detail = string(r[:300]) + "…"
			}

			signals = append(signals, model.NewSignal(model.SignalParams{
				ID:           "cve_" + id,
				Type:         "cve",
				Detail:       fmt.Sprintf("%s (CVSS %.1f) may affect %q: %s", id, score, token, detail),
				Severity:     cvssSeverity(score),
				Category:     model.CategorySoftware,
				Source:       "nvd",
				URL:          "https://nvd.nist.gov/vuln/detail/" + id,
				ExternalRefs: []string{id},
				Raw:          map[string]any{"cve_id": id, "cvss": score, "keyword": token},
			}))
		}
	}

	return Result{
		Metadata: map[string]any{
			"keywords": tokens,
			"matches":  totalMatches,
		},
		Signals: signals,
	}, nil
}

func (p *NVD) search(ctx context.Context, keyword string) (nvdResponse, error) {
	endpoint := fmt.Sprintf("%s?keywordSearch=%s&resultsPerPage=20", p.BaseURL, url.QueryEscape(keyword))

	var out nvdResponse
	err := withBackoff(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		if p.apiKey != "" {
			req.Header.Set("apiKey", p.apiKey)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("nvd returned %d", resp.StatusCode)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return err
		}
		return json.Unmarshal(body, &out)
	})
	if err != nil {
		return nvdResponse{}, fmt.Errorf("probe: nvd search %q: %w", keyword, err)
	}
	return out, nil
}
