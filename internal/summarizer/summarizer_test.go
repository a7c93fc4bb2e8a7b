package summarizer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/auralabs/aura-agent/internal/llm"
	"github.com/auralabs/aura-agent/internal/store"
)

type fakeClient struct {
	content string
	err     error
}

func (f *fakeClient) Chat(_ context.Context, _ string, _ []llm.Message) (*llm.ChatResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Content: f.content}, nil
}

func newService(client llm.Client) *Service {
	return New(client, "test-model", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

var transcript = []store.Message{
	{Role: "user", Content: "hoje quero falar da ansiedade no trabalho"},
	{Role: "assistant", Content: "conta mais, o que tem pesado?"},
	{Role: "user", Content: "acho que vou tentar conversar com a minha chefe essa semana"},
}

func TestSummarize_ParsesJSON(t *testing.T) {
	s := newService(&fakeClient{content: `{
		"summary": "Sessão sobre ansiedade no trabalho.",
		"insights": ["evita confronto"],
		"commitments": ["conversar com a chefe", "  "]
	}`})

	got, err := s.Summarize(context.Background(), transcript)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got.Summary != "Sessão sobre ansiedade no trabalho." {
		t.Errorf("Summary = %q", got.Summary)
	}
	if len(got.Commitments) != 1 || got.Commitments[0] != "conversar com a chefe" {
		t.Errorf("Commitments = %+v, blank entry not cleaned", got.Commitments)
	}
}

func TestSummarize_StripsCodeFences(t *testing.T) {
	s := newService(&fakeClient{content: "```json\n{\"summary\": \"ok\", \"insights\": [], \"commitments\": []}\n```"})

	got, err := s.Summarize(context.Background(), transcript)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got.Summary != "ok" {
		t.Errorf("Summary = %q", got.Summary)
	}
}

func TestSummarize_FallbackOnGarbage(t *testing.T) {
	s := newService(&fakeClient{content: "foi uma conversa muito boa, sem mais"})

	got, err := s.Summarize(context.Background(), transcript)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got.Summary == "" {
		t.Error("fallback produced empty summary")
	}
	if len(got.Commitments) != 1 || !strings.Contains(got.Commitments[0], "vou tentar conversar") {
		t.Errorf("heuristic commitments = %+v", got.Commitments)
	}
}

func TestSummarize_FallbackOnCallError(t *testing.T) {
	s := newService(&fakeClient{err: errors.New("model down")})

	got, err := s.Summarize(context.Background(), transcript)
	if err != nil {
		t.Fatalf("Summarize must not fail the close: %v", err)
	}
	if got.Summary == "" {
		t.Error("fallback produced empty summary")
	}
}

func TestExtractOnboarding(t *testing.T) {
	s := newService(&fakeClient{content: `{
		"support_style": "acolhedor",
		"main_challenges": "ansiedade no trabalho",
		"therapy_history": "nunca fez terapia"
	}`})

	got, err := s.ExtractOnboarding(context.Background(), transcript)
	if err != nil {
		t.Fatalf("ExtractOnboarding: %v", err)
	}
	if got.SupportStyle != "acolhedor" || got.MainChallenges != "ansiedade no trabalho" {
		t.Errorf("got %+v", got)
	}
}

func TestExtractOnboarding_ParseError(t *testing.T) {
	s := newService(&fakeClient{content: "não consegui"})
	if _, err := s.ExtractOnboarding(context.Background(), transcript); err == nil {
		t.Error("expected parse error")
	}
}

func TestFormatTranscript_Bounded(t *testing.T) {
	long := make([]store.Message, 200)
	for i := range long {
		long[i] = store.Message{Role: "user", Content: strings.Repeat("palavra ", 20)}
	}
	text := formatTranscript(long)
	if len(text) > maxTranscriptBytes {
		t.Errorf("transcript %d bytes exceeds budget %d", len(text), maxTranscriptBytes)
	}
	if !strings.HasPrefix(text, "Pessoa: ") {
		t.Errorf("unexpected prefix: %q", text[:20])
	}
}
