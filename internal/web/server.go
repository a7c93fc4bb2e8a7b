// Package web serves the WhatsApp webhook and health endpoints. Each
// webhook invocation handles its messages synchronously and always
// answers 200: the provider retries on anything else, and retries are
// handled by the engine's dedup claim anyway.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/auralabs/aura-agent/internal/config"
	"github.com/auralabs/aura-agent/internal/engine"
	"github.com/auralabs/aura-agent/internal/whatsapp"
)

// maxWebhookBody bounds the webhook payload we are willing to read.
const maxWebhookBody = 1 << 20

// Server is the HTTP front of the agent.
type Server struct {
	engine      *engine.Engine
	verifyToken string
	logger      *slog.Logger
	http        *http.Server
}

func NewServer(eng *engine.Engine, cfg *config.Config, logger *slog.Logger) *Server {
	s := &Server{
		engine:      eng,
		verifyToken: cfg.WhatsApp.VerifyToken,
		logger:      logger.With("component", "web"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/webhook/whatsapp", s.handleVerify)
	r.Post("/webhook/whatsapp", s.handleWebhook)

	s.http = &http.Server{
		Addr:              cfg.Listen.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until Shutdown or failure.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight webhook handling.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, `{"status":"ok"}`)
}

// handleVerify answers the Cloud API subscription handshake: echo the
// challenge when the verify token matches.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == s.verifyToken {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, q.Get("hub.challenge"))
		return
	}
	http.Error(w, "verification failed", http.StatusForbidden)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload whatsapp.WebhookPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&payload); err != nil {
		s.logger.Warn("webhook decode failed", "error", err)
		w.WriteHeader(http.StatusOK) // never invite a retry of a broken payload
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				s.handleInbound(r.Context(), msg)
			}
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleInbound(ctx context.Context, msg whatsapp.InboundMessage) {
	if msg.Type != "text" || msg.Text == nil || msg.Text.Body == "" {
		s.logger.Debug("ignoring non-text inbound", "type", msg.Type, "message_id", msg.ID)
		return
	}

	result, err := s.engine.HandleTurn(ctx, engine.TurnRequest{
		Phone:     msg.From,
		Text:      msg.Text.Body,
		MessageID: msg.ID,
	})
	if err != nil {
		s.logger.Error("turn failed", "message_id", msg.ID, "error", err)
		return
	}
	if result.Duplicate {
		return
	}
	s.logger.Info("turn handled",
		"message_id", msg.ID,
		"units", len(result.Units),
		"session_active", result.SessionActive,
		"audio", result.AudioUsed,
	)
}

// logRequests is a thin slog access log; chi's middleware.Logger writes
// to its own printf logger, which would bypass our handler setup.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
