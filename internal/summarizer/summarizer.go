// Package summarizer generates close-time session artifacts: the
// structured {summary, insights, commitments} attached to a completed
// session, and the one-shot onboarding profile extracted after a
// user's first session. Parsing is defensive throughout — a close must
// never fail because a model returned prose instead of JSON.
package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/auralabs/aura-agent/internal/llm"
	"github.com/auralabs/aura-agent/internal/prompts"
	"github.com/auralabs/aura-agent/internal/session"
	"github.com/auralabs/aura-agent/internal/store"
)

// maxTranscriptBytes is the maximum transcript size sent to the LLM.
const maxTranscriptBytes = 8000

// Service runs the summarization calls. Implements session.Summarizer.
type Service struct {
	client llm.Client
	model  string
	logger *slog.Logger
}

func New(client llm.Client, model string, logger *slog.Logger) *Service {
	return &Service{
		client: client,
		model:  model,
		logger: logger.With("component", "summarizer"),
	}
}

// Summarize produces the close-time artifacts for a transcript. On any
// model or parse failure it degrades to heuristic extraction over the
// raw transcript rather than returning an error.
func (s *Service) Summarize(ctx context.Context, transcript []store.Message) (*session.Summary, error) {
	text := formatTranscript(transcript)

	resp, err := s.client.Chat(ctx, s.model, []llm.Message{
		{Role: "user", Content: prompts.SummaryPrompt(text)},
	})
	if err != nil {
		s.logger.Warn("summary call failed, falling back to heuristics", "error", err)
		return heuristicSummary(transcript), nil
	}

	parsed, ok := parseSummaryResponse(resp.Content)
	if !ok {
		s.logger.Warn("summary JSON parse failed, falling back to heuristics")
		return heuristicSummary(transcript), nil
	}
	return parsed, nil
}

// ExtractOnboarding pulls the long-term profile fields out of a first
// session's transcript.
func (s *Service) ExtractOnboarding(ctx context.Context, transcript []store.Message) (*session.Onboarding, error) {
	text := formatTranscript(transcript)

	resp, err := s.client.Chat(ctx, s.model, []llm.Message{
		{Role: "user", Content: prompts.OnboardingPrompt(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("onboarding call: %w", err)
	}

	var result struct {
		SupportStyle   string `json:"support_style"`
		MainChallenges string `json:"main_challenges"`
		TherapyHistory string `json:"therapy_history"`
	}
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &result); err != nil {
		return nil, fmt.Errorf("onboarding parse: %w", err)
	}
	return &session.Onboarding{
		SupportStyle:   result.SupportStyle,
		MainChallenges: result.MainChallenges,
		TherapyHistory: result.TherapyHistory,
	}, nil
}

// parseSummaryResponse decodes the model's JSON reply.
func parseSummaryResponse(content string) (*session.Summary, bool) {
	var result struct {
		Summary     string   `json:"summary"`
		Insights    []string `json:"insights"`
		Commitments []string `json:"commitments"`
	}
	if err := json.Unmarshal([]byte(stripFences(content)), &result); err != nil {
		return nil, false
	}
	if result.Summary == "" {
		return nil, false
	}
	return &session.Summary{
		Summary:     result.Summary,
		Insights:    result.Insights,
		Commitments: cleanList(result.Commitments),
	}, true
}

// stripFences removes markdown code fences if present.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json\n")
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```\n")
	content = strings.TrimSuffix(content, "\n```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

// commitmentMarkers are first-person intent openers that flag a likely
// commitment in the raw transcript.
var commitmentMarkers = []string{
	"vou tentar", "vou fazer", "vou começar", "vou comecar", "prometo",
	"me comprometo", "pode deixar que eu",
}

// heuristicSummary is the degraded path: a trailing-window summary and
// naive pattern matching for commitments. Better a thin record than a
// failed close.
func heuristicSummary(transcript []store.Message) *session.Summary {
	sum := &session.Summary{}

	// Last user message carries the freshest emotional state.
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Role == "user" {
			sum.Summary = "Sessão registrada sem resumo estruturado. Última fala da pessoa: " + truncate(transcript[i].Content, 280)
			break
		}
	}
	if sum.Summary == "" {
		sum.Summary = "Sessão registrada sem resumo estruturado."
	}

	for _, m := range transcript {
		if m.Role != "user" {
			continue
		}
		lower := strings.ToLower(m.Content)
		for _, marker := range commitmentMarkers {
			if idx := strings.Index(lower, marker); idx >= 0 {
				sum.Commitments = append(sum.Commitments, truncate(strings.TrimSpace(m.Content[idx:]), 120))
				break
			}
		}
	}
	sum.Commitments = cleanList(sum.Commitments)
	return sum
}

// formatTranscript renders messages as speaker-labelled lines, trimmed
// from the front to the byte budget so the most recent turns survive.
func formatTranscript(transcript []store.Message) string {
	var lines []string
	for _, m := range transcript {
		speaker := "Pessoa"
		if m.Role == "assistant" {
			speaker = "Aura"
		}
		lines = append(lines, speaker+": "+m.Content)
	}
	text := strings.Join(lines, "\n")
	for len(text) > maxTranscriptBytes && len(lines) > 1 {
		lines = lines[1:]
		text = strings.Join(lines, "\n")
	}
	return text
}

func cleanList(items []string) []string {
	var out []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
