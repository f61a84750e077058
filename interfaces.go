package keiro

import (
	"context"
	"net/http"
)

// OutcomeObserver receives async notifications when outcomes are recorded.
// Multiple observers may be registered via multiple WithOutcomeHook calls.
// Observer methods run in goroutines — they must not block indefinitely.
// Failures are logged but do not fail the originating request.
type OutcomeObserver interface {
	OnOutcomeRecorded(ctx context.Context, outcome Outcome) error
}

// RouteRegistrar registers additional routes on the shared HTTP mux.
// Registered routes share the mux, auth chain, and OTEL instrumentation with
// built-in routes. The function is called once during New() after all
// built-in routes are registered.
type RouteRegistrar func(mux *http.ServeMux)

// Middleware wraps the root HTTP handler.
// Applied outermost (before routing), so it sees all requests including /health.
// Use for license enforcement, custom logging, or cross-cutting headers.
// Multiple middlewares are applied in registration order (first-registered = outermost).
type Middleware func(http.Handler) http.Handler
