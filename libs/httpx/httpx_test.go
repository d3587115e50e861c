package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRateLimitBlocksAfterLimit(t *testing.T) {
	counter := NewMemoryCounter()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	counter.now = func() time.Time { return base }

	h := RateLimit(counter, RateLimitConfig{
		Limit:  2,
		Window: time.Minute,
		Key:    func(r *http.Request) string { return r.Header.Get("X-User") },
	}, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", nil)
		req.Header.Set("X-User", user)
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
		return rw
	}

	if do("u1").Code != http.StatusOK {
		t.Fatal("first request should pass")
	}
	second := do("u1")
	if second.Code != http.StatusOK || second.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("second request should pass with no budget left, got %d remaining=%q", second.Code, second.Header().Get("X-RateLimit-Remaining"))
	}

	base = base.Add(15 * time.Second)
	third := do("u1")
	if third.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", third.Code)
	}
	if got := third.Header().Get("Retry-After"); got != "45" {
		t.Fatalf("expected Retry-After 45, got %q", got)
	}
	if got := do("u2").Code; got != http.StatusOK {
		t.Fatalf("other bucket should pass, got %d", got)
	}

	base = base.Add(time.Minute)
	if got := do("u1").Code; got != http.StatusOK {
		t.Fatalf("window reset should pass, got %d", got)
	}
}

type brokenCounter struct{}

func (brokenCounter) Hit(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("redis down")
}

func TestRateLimitFailOpenAndClosed(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	for failOpen, want := range map[bool]int{true: http.StatusOK, false: http.StatusServiceUnavailable} {
		rw := httptest.NewRecorder()
		RateLimit(brokenCounter{}, RateLimitConfig{Limit: 1, FailOpen: failOpen}, nil)(ok).
			ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
		if rw.Code != want {
			t.Fatalf("failOpen=%v: expected %d, got %d", failOpen, want, rw.Code)
		}
	}
}

func TestAccessLogIncludesAnnotations(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AnnotateLog(r.Context(), "user_id", "user-42")
		w.WriteHeader(http.StatusCreated)
	}), WithRequestID, WithAccessLog(logger))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)

	line := buf.String()
	for _, want := range []string{`"user_id":"user-42"`, `"request_id":"req-1"`, `"status":201`} {
		if !strings.Contains(line, want) {
			t.Fatalf("access log %q missing %s", line, want)
		}
	}
	if rw.Header().Get(RequestIDHeader) != "req-1" {
		t.Fatal("request id should be echoed")
	}
}

func TestCORSPreflight(t *testing.T) {
	h := WithCORS(CORSPolicy{
		AllowedOrigins: []string{"http://localhost:5173"},
		AllowedMethods: []string{"GET", "PATCH"},
		ExposedHeaders: []string{"X-Request-Id"},
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("preflight must not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/appointments/1/reschedule", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "PATCH")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)

	if rw.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rw.Code)
	}
	if rw.Header().Get("Access-Control-Expose-Headers") != "X-Request-Id" {
		t.Fatalf("missing expose headers: %v", rw.Header())
	}
}

func TestCORSSubdomainWildcard(t *testing.T) {
	h := WithCORS(CORSPolicy{
		AllowedOrigins:   []string{"https://*.findmyvet.com"},
		AllowCredentials: true,
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for origin, want := range map[string]string{
		"https://app.findmyvet.com":  "https://app.findmyvet.com",
		"https://findmyvet.com.evil": "",
		"http://app.findmyvet.com":   "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
		req.Header.Set("Origin", origin)
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
		if got := rw.Header().Get("Access-Control-Allow-Origin"); got != want {
			t.Fatalf("origin %s: expected %q, got %q", origin, want, got)
		}
	}
}

func TestDecodeJSONIgnoresUnknownFieldsRejectsTrailing(t *testing.T) {
	var v struct {
		Reason string `json:"reason"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"x","extra":1}`))
	if err := DecodeJSON(req, &v); err != nil || v.Reason != "x" {
		t.Fatalf("expected unknown field to be ignored, got reason=%q err=%v", v.Reason, err)
	}
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"x"} {}`))
	if err := DecodeJSON(req, &v); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestWithRequestIDReplacesUnsafeIDs(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))
	for _, in := range []string{"", "has space", "line\nbreak", strings.Repeat("a", 200)} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, in)
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
		if seen == in || seen == "" {
			t.Fatalf("expected minted id for %q, got %q", in, seen)
		}
		if rw.Header().Get(RequestIDHeader) != seen {
			t.Fatalf("response header %q does not match context id %q", rw.Header().Get(RequestIDHeader), seen)
		}
	}
}
