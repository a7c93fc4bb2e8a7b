// Package tts wraps the text-to-speech vendor. The engine treats it as
// a black box: text in, audio bytes out, with text fallback on any
// degradation signal.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/auralabs/aura-agent/internal/httpkit"
)

// ErrFallbackToText signals that the reply should be delivered as text
// instead. Callers must treat every synthesis failure this way; the
// sentinel exists so intentional vendor fallbacks are not logged as
// errors.
var ErrFallbackToText = errors.New("tts: fall back to text")

// Synthesizer converts text into audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Client is an HTTP synthesizer client.
type Client struct {
	baseURL    string
	apiKey     string
	voiceID    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a TTS client.
func New(baseURL, apiKey, voiceID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		voiceID:    voiceID,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(60*time.Second),
		),
		logger: logger,
	}
}

type synthesizeRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
}

// Synthesize renders text as audio. Any vendor-side degradation maps to
// ErrFallbackToText so the caller can deliver plain text instead.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	jsonData, err := json.Marshal(synthesizeRequest{Text: text, VoiceID: c.voiceID})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/synthesize", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFallbackToText, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("tts synthesis failed", "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("%w: status %d", ErrFallbackToText, resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFallbackToText, err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty audio", ErrFallbackToText)
	}
	return audio, nil
}
