// Package ratelimit provides a pluggable rate limiting interface.
//
// The standard distribution ships an in-memory fixed-window limiter
// (MemoryLimiter). Deployments that need cross-instance coordination can
// substitute their own implementation; the Limiter interface is the contract.
package ratelimit

import (
	"context"
	"strconv"
	"time"
)

// Rule describes one rate limit: at most Limit requests per Window, counted
// separately per key under the given Prefix. Distinct prefixes never share
// counters, so one client can be limited independently per route group.
type Rule struct {
	Prefix string
	Limit  int
	Window time.Duration
}

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// FormatHeaders returns the standard X-RateLimit-* response headers.
func (r Result) FormatHeaders() map[string]string {
	return map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(r.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(r.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(r.ResetAt.Unix(), 10),
	}
}

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow records one request against rule for key and reports whether it
	// may proceed. The key is opaque; callers construct it (e.g. a client
	// ID or remote IP).
	Allow(ctx context.Context, rule Rule, key string) Result

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always permits, reporting the rule's full allowance.
func (NoopLimiter) Allow(_ context.Context, rule Rule, _ string) Result {
	return Result{
		Allowed:   true,
		Limit:     rule.Limit,
		Remaining: rule.Limit,
		ResetAt:   time.Now().Add(rule.Window),
	}
}

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
