package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pagesift/pagesift-api/internal/browser"
)

// RemoteBrowser delegates the navigate/render phase to an external rendering
// service speaking a small JSON session API. When delegation is configured
// every job uses it; there is no fallback to a local browser.
type RemoteBrowser struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRemoteBrowser creates a client for the remote rendering service.
func NewRemoteBrowser(baseURL string, logger *slog.Logger) *RemoteBrowser {
	return &RemoteBrowser{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logger.With("component", "remote_browser"),
	}
}

// NewPage opens a session on the remote service.
func (r *RemoteBrowser) NewPage(ctx context.Context, opts browser.Options) (browser.Page, error) {
	payload := map[string]any{
		"stealth":               opts.Stealth,
		"navigation_timeout_ms": opts.NavigationTimeout.Milliseconds(),
		"settle_wait_ms":        opts.SettleWait.Milliseconds(),
	}
	if len(opts.SessionState) > 0 {
		payload["session_state"] = opts.SessionState
	}

	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := r.call(ctx, http.MethodPost, "/v1/sessions", payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to open remote browser session: %w", err)
	}
	if resp.SessionID == "" {
		return nil, fmt.Errorf("remote browser returned no session id")
	}

	r.logger.Debug("remote session opened", "session_id", resp.SessionID)
	return &remotePage{client: r, sessionID: resp.SessionID}, nil
}

func (r *RemoteBrowser) call(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("remote browser %s %s returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode remote browser response: %w", err)
	}
	return nil
}

// remotePage is one rendering session on the remote service.
type remotePage struct {
	client    *RemoteBrowser
	sessionID string
}

func (p *remotePage) path(suffix string) string {
	return "/v1/sessions/" + p.sessionID + suffix
}

func (p *remotePage) Navigate(ctx context.Context, pageURL string) error {
	return p.client.call(ctx, http.MethodPost, p.path("/navigate"), map[string]any{"url": pageURL}, nil)
}

func (p *remotePage) Click(ctx context.Context, selector string) error {
	return p.client.call(ctx, http.MethodPost, p.path("/click"), map[string]any{"selector": selector}, nil)
}

func (p *remotePage) CurrentURL(ctx context.Context) (string, error) {
	var resp struct {
		URL string `json:"url"`
	}
	if err := p.client.call(ctx, http.MethodGet, p.path("/url"), nil, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (p *remotePage) Content(ctx context.Context) (string, error) {
	var resp struct {
		HTML string `json:"html"`
	}
	if err := p.client.call(ctx, http.MethodGet, p.path("/content"), nil, &resp); err != nil {
		return "", err
	}
	return resp.HTML, nil
}

func (p *remotePage) Fill(ctx context.Context, selector, value string) error {
	return p.client.call(ctx, http.MethodPost, p.path("/fill"), map[string]any{"selector": selector, "value": value}, nil)
}

func (p *remotePage) Submit(ctx context.Context, selector string) error {
	return p.client.call(ctx, http.MethodPost, p.path("/submit"), map[string]any{"selector": selector}, nil)
}

// Close tears down the remote session on a best-effort basis.
func (p *remotePage) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.client.call(ctx, http.MethodDelete, p.path(""), nil, nil); err != nil {
		p.client.logger.Warn("failed to close remote session", "session_id", p.sessionID, "error", err)
	}
}
