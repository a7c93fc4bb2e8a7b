// Package llm provides the chat-completion client used for reply
// generation, close-time summarization and nudge writing.
package llm

import (
	"context"
	"errors"
	"time"
)

// Failure classes the orchestrator must distinguish: each maps to its
// own user-safe canned reply.
var (
	// ErrRateLimited means the provider returned HTTP 429.
	ErrRateLimited = errors.New("llm: rate limited")

	// ErrQuotaExceeded means the account has no remaining credit.
	ErrQuotaExceeded = errors.New("llm: insufficient quota")
)

// Message represents a chat message for the LLM.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// ChatResponse is the unified response from the provider. Wire format
// conversion happens at the provider boundary (openai.go).
type ChatResponse struct {
	Model        string
	CreatedAt    time.Time
	Content      string
	FinishReason string

	InputTokens  int
	OutputTokens int
}

// Truncated reports whether the generation stopped at the token limit
// rather than completing. Callers log this as a warning, not a failure.
func (r *ChatResponse) Truncated() bool {
	return r.FinishReason == "length"
}

// Client is the interface the engine depends on. The real
// implementation is *OpenAIClient; tests substitute fakes.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, model string, messages []Message) (*ChatResponse, error)
}
