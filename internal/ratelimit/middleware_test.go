package ratelimit_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/keiro/internal/model"
	"github.com/ashita-ai/keiro/internal/ratelimit"
)

// stubLimiter returns a fixed Result for every call.
type stubLimiter struct {
	result ratelimit.Result
	calls  int
}

func (s *stubLimiter) Allow(_ context.Context, rule ratelimit.Rule, _ string) ratelimit.Result {
	s.calls++
	r := s.result
	r.Limit = rule.Limit
	return r
}

func (s *stubLimiter) Close() error { return nil }

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareAllowsAndSetsHeaders(t *testing.T) {
	lim := &stubLimiter{result: ratelimit.Result{
		Allowed:   true,
		Remaining: 7,
		ResetAt:   time.Now().Add(time.Minute),
	}}
	rule := ratelimit.Rule{Prefix: "query", Limit: 10, Window: time.Minute}
	keyFn := func(*http.Request) string { return "client-1" }

	h := ratelimit.Middleware(lim, rule, keyFn)(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "7", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, 1, lim.calls)
}

func TestMiddlewareDeniesWithEnvelope(t *testing.T) {
	resetAt := time.Now().Add(42 * time.Second)
	lim := &stubLimiter{result: ratelimit.Result{
		Allowed:   false,
		Remaining: 0,
		ResetAt:   resetAt,
	}}
	rule := ratelimit.Rule{Prefix: "write", Limit: 300, Window: time.Minute}
	keyFn := func(*http.Request) string { return "client-1" }
	reqIDFn := func(*http.Request) string { return "req-123" }

	h := ratelimit.MiddlewareWithRequestID(lim, rule, keyFn, reqIDFn)(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/outcomes", nil))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var apiErr model.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, model.ErrCodeRateLimited, apiErr.Error.Code)
	assert.Equal(t, "too many requests", apiErr.Error.Message)
	assert.Equal(t, "req-123", apiErr.Meta.RequestID)
}

func TestMiddlewareRetryAfterAtLeastOneSecond(t *testing.T) {
	// Window resets almost immediately; Retry-After must still be >= 1.
	lim := &stubLimiter{result: ratelimit.Result{
		Allowed: false,
		ResetAt: time.Now().Add(10 * time.Millisecond),
	}}
	rule := ratelimit.Rule{Prefix: "auth", Limit: 20, Window: time.Minute}
	keyFn := func(*http.Request) string { return "10.0.0.1" }

	h := ratelimit.Middleware(lim, rule, keyFn)(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/token", nil))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestMiddlewareEmptyKeySkips(t *testing.T) {
	lim := &stubLimiter{result: ratelimit.Result{Allowed: false}}
	rule := ratelimit.Rule{Prefix: "query", Limit: 1, Window: time.Minute}
	keyFn := func(*http.Request) string { return "" } // e.g. admin exemption

	h := ratelimit.Middleware(lim, rule, keyFn)(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, lim.calls, "limiter should not be consulted when key is empty")
}

func TestMiddlewareNilLimiterPassesThrough(t *testing.T) {
	rule := ratelimit.Rule{Prefix: "query", Limit: 1, Window: time.Minute}
	keyFn := func(*http.Request) string { return "client-1" }

	h := ratelimit.Middleware(nil, rule, keyFn)(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		want       string
	}{
		{"ipv4 with port", "203.0.113.7:54321", "203.0.113.7"},
		{"ipv6 with port", "[2001:db8::1]:443", "[2001:db8::1]"},
		{"no port", "203.0.113.7", "203.0.113.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			assert.Equal(t, tt.want, ratelimit.IPKeyFunc(r))
		})
	}
}
