package web

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/auralabs/aura-agent/internal/clock"
	"github.com/auralabs/aura-agent/internal/config"
	"github.com/auralabs/aura-agent/internal/directive"
	"github.com/auralabs/aura-agent/internal/engine"
	"github.com/auralabs/aura-agent/internal/llm"
	"github.com/auralabs/aura-agent/internal/segment"
	"github.com/auralabs/aura-agent/internal/session"
	"github.com/auralabs/aura-agent/internal/store"
)

type fakeLLM struct{ calls int }

func (f *fakeLLM) Chat(_ context.Context, _ string, _ []llm.Message) (*llm.ChatResponse, error) {
	f.calls++
	return &llm.ChatResponse{Content: "oi! [AGUARDANDO_RESPOSTA]"}, nil
}

func newTestServer(t *testing.T) (*Server, *fakeLLM) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "aura_test.db")
	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.WhatsApp.VerifyToken = "segredo"
	ck := clock.New(cfg.Timezone, cfg.Session.Phases)
	ck.SetNowFunc(func() time.Time { return time.Date(2026, 8, 31, 20, 0, 0, 0, time.UTC) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	model := &fakeLLM{}
	resolver := session.NewResolver(st, ck, nil, nil, cfg.Session, logger)
	processor := directive.NewProcessor(st, ck, nil, nil, cfg.Session, logger)
	segmenter := segment.New(cfg.Segmenter, rand.New(rand.NewSource(1)))
	eng := engine.New(st, ck, model, nil, nil, resolver, processor, segmenter, cfg, logger)

	return NewServer(eng, cfg, logger), model
}

func TestVerifyHandshake(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet,
		"/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=segredo&hub.challenge=12345", nil)
	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.String() != "12345" {
		t.Errorf("challenge echo = %q", w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet,
		"/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=errado&hub.challenge=12345", nil)
	w = httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("wrong token status = %d, want 403", w.Code)
	}
}

func TestWebhookHandlesTextMessage(t *testing.T) {
	s, model := newTestServer(t)

	body := `{
		"object": "whatsapp_business_account",
		"entry": [{"id": "1", "changes": [{"field": "messages", "value": {
			"messaging_product": "whatsapp",
			"messages": [{"id": "wamid.abc", "from": "5511944443333", "type": "text", "text": {"body": "oi Aura"}}]
		}}]}]
	}`

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if model.calls != 1 {
		t.Errorf("llm calls = %d, want 1", model.calls)
	}

	// Same payload again: dedup makes it a no-op, still 200.
	req = httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(body))
	w = httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("replay status = %d", w.Code)
	}
	if model.calls != 1 {
		t.Errorf("llm calls = %d after replay, dedup failed", model.calls)
	}
}

func TestWebhookToleratesGarbage(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader("not json"))
	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 even for garbage", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "ok") {
		t.Errorf("body = %q", w.Body.String())
	}
}
