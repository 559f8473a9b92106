// Package llm implements the extraction model client on the Gemini
// generateContent REST API. It owns prompt construction, response decoding and
// the JSON repair applied to truncated model output.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Config configures the Gemini client.
type Config struct {
	BaseURL      string        // e.g. https://generativelanguage.googleapis.com/v1beta
	APIKey       string
	DefaultModel string        // used when a call passes no model
	Timeout      time.Duration // per-call HTTP timeout
}

// Client calls the Gemini generateContent endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Gemini client.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "llm"),
	}
}

// generateResult holds the decoded pieces of a generateContent response.
type generateResult struct {
	Text         string
	FinishReason string
	InputTokens  int
	OutputTokens int
}

// generate sends one prompt and returns the model's text answer.
func (c *Client) generate(ctx context.Context, model, prompt string) (*generateResult, error) {
	if model == "" {
		model = c.cfg.DefaultModel
	}

	reqBody := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]any{
			"temperature": 0.1,
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	apiURL := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.cfg.BaseURL, url.PathEscape(model), url.QueryEscape(c.cfg.APIKey))

	c.logger.Debug("making LLM API request",
		"model", model,
		"prompt_length", len(prompt),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("LLM API request failed", "model", model, "error", err)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("LLM API error",
			"model", model,
			"status_code", resp.StatusCode,
			"response", string(body),
		)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	result, err := parseGenerateResponse(body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("LLM API response received",
		"model", model,
		"finish_reason", result.FinishReason,
		"output_tokens", result.OutputTokens,
	)

	if result.FinishReason == "MAX_TOKENS" {
		c.logger.Warn("LLM output truncated",
			"model", model,
			"output_tokens", result.OutputTokens,
		)
	}

	return result, nil
}

// parseGenerateResponse extracts the answer text from a generateContent
// response body.
func parseGenerateResponse(body []byte) (*generateResult, error) {
	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse Gemini response: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("empty response from LLM")
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		text += part.Text
	}

	return &generateResult{
		Text:         text,
		FinishReason: resp.Candidates[0].FinishReason,
		InputTokens:  resp.UsageMetadata.PromptTokenCount,
		OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
	}, nil
}
