// Package checkout resolves upgrade directives into real payment links.
package checkout

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

	"github.com/auralabs/aura-agent/internal/config"
	"github.com/auralabs/aura-agent/internal/httpkit"
)

// LinkCreator is the interface the directive processor depends on.
type LinkCreator interface {
	// CreateCheckoutLink resolves a plan tier into a checkout URL for
	// the given phone identity.
	CreateCheckoutLink(ctx context.Context, plan, phone string) (string, error)
}

// Client creates checkout links and optionally shortens them.
type Client struct {
	baseURL    string
	apiKey     string
	shortenURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a checkout-link client.
func New(cfg config.CheckoutConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		shortenURL: cfg.ShortenURL,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(15 * time.Second)),
		logger:     logger,
	}
}

// CreateCheckoutLink resolves a plan into a checkout URL. The returned
// URL is shortened when a shortener is configured; shortening failure
// falls back to the original URL.
func (c *Client) CreateCheckoutLink(ctx context.Context, plan, phone string) (string, error) {
	payload, err := json.Marshal(map[string]string{"plan": plan, "phone": phone})
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/checkout-links", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("checkout request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if result.URL == "" {
		return "", fmt.Errorf("empty checkout url")
	}

	return c.shorten(ctx, result.URL), nil
}

// shorten returns the short form of url, or url itself when no
// shortener is configured or the call fails.
func (c *Client) shorten(ctx context.Context, url string) string {
	if c.shortenURL == "" {
		return url
	}

	payload, _ := json.Marshal(map[string]string{"url": url})
	req, err := http.NewRequestWithContext(ctx, "POST", c.shortenURL, bytes.NewReader(payload))
	if err != nil {
		return url
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("url shorten failed, using original", "error", err)
		return url
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return url
	}

	var result struct {
		ShortURL string `json:"short_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || result.ShortURL == "" {
		return url
	}
	return result.ShortURL
}
