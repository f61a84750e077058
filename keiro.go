// Package keiro is the public API for the keiro reliability-aware routing
// engine.
//
// Service consumers construct and run the full App (engine + HTTP + MCP +
// telemetry):
//
//	app, err := keiro.New(
//	    keiro.WithVersion(version),
//	    keiro.WithLogger(logger),
//	    keiro.WithOutcomeHook(myAuditHook{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// Library consumers embed the bare engine instead, with no HTTP anywhere:
//
//	router, err := keiro.NewRouter(keiro.DefaultEngineConfig(), logger)
//	if err != nil { ... }
//	router.Record(keiro.Outcome{Source: "planner", Target: "coder", Success: true, Confidence: 0.9})
//	best, score := router.BestTarget("planner", []string{"coder", "reviewer"})
//
// The import graph enforces a strict no-cycle rule: keiro (root) imports
// internal/*, but internal/* never imports keiro (root).  Public types
// (Outcome, TargetScore, Stats) are standalone structs with no internal
// imports; conversion helpers (toPublicOutcome, EngineConfig.internal) live
// here because this is the only package that sees both sides of the boundary.
package keiro

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/keiro/api"
	"github.com/ashita-ai/keiro/internal/auth"
	"github.com/ashita-ai/keiro/internal/config"
	"github.com/ashita-ai/keiro/internal/mcp"
	"github.com/ashita-ai/keiro/internal/model"
	"github.com/ashita-ai/keiro/internal/ratelimit"
	"github.com/ashita-ai/keiro/internal/reliability"
	"github.com/ashita-ai/keiro/internal/server"
	"github.com/ashita-ai/keiro/internal/telemetry"
)

// App is the keiro server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	engine       *reliability.Tracker
	srv          *server.Server
	limiter      ratelimit.Limiter
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the keiro server. It loads configuration, wires all
// subsystems, and returns a ready-to-run App. It does NOT start any
// goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	// Apply options.
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("keiro starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx(opts), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Create the reliability engine. Env-derived tuning is replaced
	// wholesale when WithEngineConfig is used.
	engineCfg := cfg.EngineConfig()
	if o.engineCfg != nil {
		engineCfg = o.engineCfg.internal()
	}
	engine, err := reliability.New(engineCfg, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("engine: %w", err)
	}
	registerEngineMetrics(engine)

	// Parse the API keyring. An empty keyring disables authentication;
	// the server logs a warning and treats every request as anonymous admin.
	keyring, err := auth.ParseKeyring(cfg.APIKeys)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("keyring: %w", err)
	}

	// Create JWT manager.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}

	// Rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter()
		logger.Info("rate limiting: memory (in-process fixed window)")
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	// SSE broker.
	broker := server.NewBroker(cfg.EventBufferSize, logger)

	// MCP server.
	mcpSrv := mcp.New(engine, logger, version)

	// Adapt outcome hooks from public keiro.OutcomeObserver to internal server.OutcomeHook.
	var outcomeHooks []server.OutcomeHook
	for _, h := range o.outcomeHooks {
		outcomeHooks = append(outcomeHooks, &outcomeHookAdapter{hook: h})
	}

	// Collapse route registrars into the single mux hook the server accepts.
	var extraRoutes func(*http.ServeMux)
	if len(o.routeRegistrars) > 0 {
		registrars := o.routeRegistrars
		extraRoutes = func(mux *http.ServeMux) {
			for _, fn := range registrars {
				fn(mux)
			}
		}
	}

	// Adapt middlewares from keiro.Middleware to func(http.Handler) http.Handler.
	var middlewares []func(http.Handler) http.Handler
	for _, mw := range o.middlewares {
		middlewares = append(middlewares, mw)
	}

	// Create HTTP server.
	srv := server.New(server.ServerConfig{
		Engine:              engine,
		JWTMgr:              jwtMgr,
		Logger:              logger,
		Keyring:             keyring,
		Limiter:             limiter,
		Broker:              broker,
		MCPServer:           mcpSrv.MCPServer(),
		OutcomeHooks:        outcomeHooks,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         api.OpenAPISpec,
		ExtraRoutes:         extraRoutes,
		Middleware:          middlewares,
	})

	return &App{
		cfg:          cfg,
		engine:       engine,
		srv:          srv,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the background prune loop and the HTTP server, then blocks until
// ctx is cancelled or a fatal server error occurs. On return, Shutdown is called
// automatically — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	// Background goroutines.
	go a.pruneLoop(ctx)

	// Start HTTP server.
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Block until signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown stops accepting HTTP requests, drains in-flight ones, then closes
// the rate limiter and OTEL provider. Recorded history lives in memory only,
// so there is nothing to flush.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("keiro shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	cancel()

	// Cleanup.
	if err := a.limiter.Close(); err != nil {
		a.logger.Warn("rate limiter close error", "error", err)
	}
	_ = a.otelShutdown(context.Background())

	a.logger.Info("keiro stopped")
	return nil
}

// ── Background loops ───────────────────────────────────────────────────────────

// pruneLoop drops outcome records older than the retention horizon (twice the
// scoring window) every PruneInterval. Scores only read records inside the
// window plus one decayed window behind it, so older records are dead weight.
func (a *App) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := a.engine.PruneExpired(); removed > 0 {
				a.logger.Info("expired outcome records pruned", "removed", removed)
			}
		}
	}
}

// ── Adapters (defined here because this file imports both sides) ───────────────

// outcomeHookAdapter wraps a keiro.OutcomeObserver to satisfy server.OutcomeHook.
// It converts internal model types to public keiro types at the boundary.
type outcomeHookAdapter struct {
	hook OutcomeObserver
}

func (a *outcomeHookAdapter) OnOutcomeRecorded(ctx context.Context, event model.OutcomeEvent) error {
	return a.hook.OnOutcomeRecorded(ctx, toPublicOutcome(event))
}

// ── Type converters ────────────────────────────────────────────────────────────

// toPublicOutcome converts an internal model.OutcomeEvent to the public
// keiro.Outcome. The wire format carries latency in milliseconds; the public
// type uses time.Duration.
func toPublicOutcome(e model.OutcomeEvent) Outcome {
	var latency *time.Duration
	if e.LatencyMS != nil {
		d := time.Duration(*e.LatencyMS * float64(time.Millisecond))
		latency = &d
	}
	return Outcome{
		Source:     e.Source,
		Target:     e.Target,
		Success:    e.Success,
		Confidence: e.Confidence,
		Latency:    latency,
		RecordedAt: e.RecordedAt,
	}
}

// ── Helpers ────────────────────────────────────────────────────────────────────

// registerEngineMetrics registers observable OTEL gauges for engine health
// monitoring. Called after telemetry.Init so the gauges land on the real
// meter provider rather than the noop default.
func registerEngineMetrics(engine *reliability.Tracker) {
	meter := telemetry.Meter("keiro/engine")

	_, _ = meter.Int64ObservableGauge("keiro.pairs",
		metric.WithDescription("Number of source→target pairs with recorded history"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(engine.PairCount()))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("keiro.records",
		metric.WithDescription("Total outcome records held across all pairs"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(engine.RecordCount()))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("keiro.cache.entries",
		metric.WithDescription("Number of cached computed scores"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(engine.CachedCount()))
			return nil
		}),
	)
}

// ctx is a no-op helper so that New(opts ...) can pass a background context to
// telemetry.Init without adding a context parameter to the public API.
// The returned context is never cancelled by this function.
func ctx(_ []Option) context.Context { return context.Background() }
