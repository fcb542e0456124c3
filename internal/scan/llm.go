package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultLLMBaseURL = "https://api.openai.com/v1"

// LLMSummarizer produces the scan summary with an OpenAI-compatible chat
// completions API. Errors surface to the caller, which falls back to the
// deterministic summary.
type LLMSummarizer struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewLLMSummarizer creates a summarizer against an OpenAI-compatible
// endpoint. An empty baseURL targets the OpenAI API.
func NewLLMSummarizer(baseURL, apiKey, model string) *LLMSummarizer {
	if baseURL == "" {
		baseURL = defaultLLMBaseURL
	}
	return &LLMSummarizer{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (s *LLMSummarizer) Summarize(ctx context.Context, in SummaryInput) (string, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You write terse executive summaries of external security scans. Two or three sentences, no markdown, no speculation beyond the findings given."},
			{Role: "user", Content: summaryPrompt(in)},
		},
		Temperature: 0.2,
		MaxTokens:   256,
	})
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("llm: status %d: %s", resp.StatusCode, string(body))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	if len(result.Choices) == 0 || strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("llm: empty completion returned")
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

// summaryPrompt renders the deterministic scan outcome as the model's only
// input. The prompt never includes raw evidence payloads.
func summaryPrompt(in SummaryInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Domain %s scored %d/100 risk.", in.Domain, in.RiskScore)
	fmt.Fprintf(&b, " Breach likelihood: %.0f%% over 30 days, %.0f%% over 90 days.",
		in.Likelihood30d*100, in.Likelihood90d*100)
	if len(in.Signals) == 0 {
		b.WriteString(" No findings.")
		return b.String()
	}
	b.WriteString(" Findings:")
	for i, sig := range in.Signals {
		if i == 10 {
			fmt.Fprintf(&b, " (+%d more)", len(in.Signals)-10)
			break
		}
		fmt.Fprintf(&b, " [%s/%s] %s.", sig.Severity, sig.Category, sig.Detail)
	}
	return b.String()
}
