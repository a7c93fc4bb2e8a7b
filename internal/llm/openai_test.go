package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChat_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`{
			"model": "gpt-4o",
			"created": 1700000000,
			"choices": [{"message": {"role": "assistant", "content": "Oi!"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3}
		}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "test-key", nil)
	resp, err := c.Chat(context.Background(), "gpt-4o", []Message{{Role: "user", Content: "oi"}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "Oi!" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Truncated() {
		t.Error("finish_reason=stop should not be truncated")
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 3 {
		t.Errorf("tokens = (%d, %d)", resp.InputTokens, resp.OutputTokens)
	}
}

func TestChat_ErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{
			name:    "rate limited",
			status:  http.StatusTooManyRequests,
			body:    `{"error": {"message": "slow down", "type": "rate_limit_error"}}`,
			wantErr: ErrRateLimited,
		},
		{
			name:    "quota exhausted",
			status:  http.StatusTooManyRequests,
			body:    `{"error": {"message": "no credit", "code": "insufficient_quota"}}`,
			wantErr: ErrQuotaExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewOpenAIClient(srv.URL, "k", nil)
			_, err := c.Chat(context.Background(), "gpt-4o", nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestChat_GenericErrorIsNotSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": {"message": "boom"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "k", nil)
	_, err := c.Chat(context.Background(), "gpt-4o", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("generic failure misclassified: %v", err)
	}
}
