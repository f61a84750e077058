package keiro

import (
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port            int
	logger          *slog.Logger
	version         string
	engineCfg       *EngineConfig
	outcomeHooks    []OutcomeObserver
	routeRegistrars []RouteRegistrar
	middlewares     []Middleware
}

// WithPort overrides the TCP port from config (KEIRO_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithEngineConfig replaces the engine tuning loaded from KEIRO_* env vars.
// Only the last call wins. The configuration is validated during New();
// start from DefaultEngineConfig and override fields as needed.
func WithEngineConfig(cfg EngineConfig) Option {
	return func(o *resolvedOptions) { o.engineCfg = &cfg }
}

// WithOutcomeHook registers an observer to receive recorded outcomes.
// Multiple observers may be registered; all registered observers receive
// every outcome.
func WithOutcomeHook(hook OutcomeObserver) Option {
	return func(o *resolvedOptions) { o.outcomeHooks = append(o.outcomeHooks, hook) }
}

// WithExtraRoutes registers additional routes on the shared HTTP mux.
// Multiple registrars may be registered; all are called in registration order.
func WithExtraRoutes(fn RouteRegistrar) Option {
	return func(o *resolvedOptions) { o.routeRegistrars = append(o.routeRegistrars, fn) }
}

// WithMiddleware registers an outermost HTTP middleware.
// Multiple middlewares may be registered. Applied in registration order:
// the first-registered middleware is outermost (called first by every request).
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}
