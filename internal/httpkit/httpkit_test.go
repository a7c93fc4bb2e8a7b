package httpkit

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestNewClientTimeouts(t *testing.T) {
	if c := NewClient(); c.Timeout != 30*time.Second {
		t.Errorf("default timeout = %v, want 30s", c.Timeout)
	}
	if c := NewClient(WithTimeout(5 * time.Second)); c.Timeout != 5*time.Second {
		t.Errorf("custom timeout = %v, want 5s", c.Timeout)
	}
	if c := NewClient(WithTimeout(0)); c.Timeout != 0 {
		t.Errorf("zero timeout = %v, want 0", c.Timeout)
	}
}

func TestUserAgentInjected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	defer srv.Close()

	c := NewClient()
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(string(body), "aura/") {
		t.Errorf("default User-Agent = %q, want aura/ prefix", body)
	}
}

func TestUserAgentOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	defer srv.Close()

	c := NewClient(WithUserAgent("acme/2.0"))
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "acme/2.0" {
		t.Errorf("User-Agent = %q, want acme/2.0", body)
	}
}

func TestExistingUserAgentKept(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	defer srv.Close()

	c := NewClient()
	req, _ := http.NewRequest("GET", srv.URL, nil)
	req.Header.Set("User-Agent", "explicit/1.0")
	resp, err := c.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "explicit/1.0" {
		t.Errorf("User-Agent = %q, want explicit/1.0", body)
	}
}

func TestNewTransportHasTimeouts(t *testing.T) {
	tr := NewTransport()
	if tr.TLSHandshakeTimeout != DefaultTLSHandshakeTimeout {
		t.Errorf("TLSHandshakeTimeout = %v", tr.TLSHandshakeTimeout)
	}
	if tr.ResponseHeaderTimeout != DefaultResponseHeader {
		t.Errorf("ResponseHeaderTimeout = %v", tr.ResponseHeaderTimeout)
	}
	if tr.MaxIdleConnsPerHost != DefaultMaxIdleConnsPerHost {
		t.Errorf("MaxIdleConnsPerHost = %d", tr.MaxIdleConnsPerHost)
	}
}

func TestReadErrorBody(t *testing.T) {
	rc := io.NopCloser(strings.NewReader("bad request details"))
	if got := ReadErrorBody(rc, 100); got != "bad request details" {
		t.Errorf("ReadErrorBody = %q", got)
	}

	rc = io.NopCloser(strings.NewReader("0123456789"))
	if got := ReadErrorBody(rc, 4); got != "0123" {
		t.Errorf("truncated ReadErrorBody = %q", got)
	}

	if got := ReadErrorBody(nil, 100); got != "" {
		t.Errorf("nil ReadErrorBody = %q", got)
	}
}

func TestDrainAndClose(t *testing.T) {
	// Nil must be a no-op rather than a panic.
	DrainAndClose(nil, 100)

	rc := io.NopCloser(strings.NewReader("leftover"))
	DrainAndClose(rc, 100)
}

// failingRoundTripper fails the first n calls with a dial error, then
// succeeds.
type failingRoundTripper struct {
	failures int
	calls    int
}

func (f *failingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, &net.OpError{
			Op:  "dial",
			Net: "tcp",
			Err: &net.OpError{Op: "connect", Err: syscall.ECONNREFUSED},
		}
	}
	return &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(strings.NewReader("ok")),
	}, nil
}

func TestRetryRecoversFromDialFailure(t *testing.T) {
	ft := &failingRoundTripper{failures: 1}
	rt := &retryTransport{base: ft, count: 2, delay: 10 * time.Millisecond}

	req, _ := http.NewRequest("GET", "http://example.com", nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("expected success after retry, got: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ft.calls != 2 {
		t.Fatalf("calls = %d, want 2", ft.calls)
	}
}

func TestRetryNotTriggeredOnSuccess(t *testing.T) {
	ft := &failingRoundTripper{}
	rt := &retryTransport{base: ft, count: 2, delay: 10 * time.Millisecond}

	req, _ := http.NewRequest("GET", "http://example.com", nil)
	if _, err := rt.RoundTrip(req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ft.calls != 1 {
		t.Fatalf("calls = %d, want 1", ft.calls)
	}
}

func TestRetryExhausted(t *testing.T) {
	ft := &failingRoundTripper{failures: 10}
	rt := &retryTransport{base: ft, count: 2, delay: 10 * time.Millisecond}

	req, _ := http.NewRequest("GET", "http://example.com", nil)
	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if ft.calls != 3 { // 1 initial + 2 retries
		t.Fatalf("calls = %d, want 3", ft.calls)
	}
}

// errorRoundTripper always fails with a fixed error.
type errorRoundTripper struct {
	err   error
	calls int
}

func (e *errorRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	e.calls++
	return nil, e.err
}

func TestNoRetryOnNonRetryableError(t *testing.T) {
	et := &errorRoundTripper{err: errors.New("tls: handshake failure")}
	rt := &retryTransport{base: et, count: 3, delay: time.Millisecond}

	req, _ := http.NewRequest("GET", "http://example.com", nil)
	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected error")
	}
	if et.calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry)", et.calls)
	}
}

func TestNoRetryWithoutGetBody(t *testing.T) {
	ft := &failingRoundTripper{failures: 10}
	rt := &retryTransport{base: ft, count: 3, delay: time.Millisecond}

	// Body present but GetBody nil: the request cannot be rewound.
	req, _ := http.NewRequest("POST", "http://example.com", io.NopCloser(strings.NewReader("payload")))
	req.GetBody = nil
	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected error")
	}
	if ft.calls != 1 {
		t.Fatalf("calls = %d, want 1 (body not rewindable)", ft.calls)
	}
}

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"econnrefused", syscall.ECONNREFUSED, true},
		{"ehostunreach", syscall.EHOSTUNREACH, true},
		{"enetunreach", syscall.ENETUNREACH, true},
		{"econnreset", syscall.ECONNRESET, false},
		{"wrapped", &net.OpError{Op: "dial", Err: syscall.EHOSTUNREACH}, true},
		{"generic", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := isRetryableError(tc.err); got != tc.want {
			t.Errorf("%s: isRetryableError = %v, want %v", tc.name, got, tc.want)
		}
	}
}
