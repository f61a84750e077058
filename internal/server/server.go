package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/keiro/internal/auth"
	"github.com/ashita-ai/keiro/internal/ctxutil"
	"github.com/ashita-ai/keiro/internal/model"
	"github.com/ashita-ai/keiro/internal/ratelimit"
	"github.com/ashita-ai/keiro/internal/reliability"
)

// Server is the keiro HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Keyring, Limiter, Broker, MCPServer,
// OutcomeHooks, OpenAPISpec, ExtraRoutes, Middleware.
type ServerConfig struct {
	// Required dependencies.
	Engine *reliability.Tracker
	JWTMgr *auth.JWTManager
	Logger *slog.Logger

	// Optional dependencies (nil = disabled). An empty or nil keyring
	// disables authentication entirely.
	Keyring      *auth.Keyring
	Limiter      ratelimit.Limiter
	Broker       *Broker
	MCPServer    *mcpserver.MCPServer
	OutcomeHooks []OutcomeHook

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64

	// Optional embedded assets.
	OpenAPISpec []byte // Embedded OpenAPI YAML.

	// Extension points for the embedding API. ExtraRoutes registers
	// additional routes on the mux before the middleware chain is applied;
	// Middleware wraps the fully assembled handler, first entry outermost.
	ExtraRoutes func(mux *http.ServeMux)
	Middleware  []func(http.Handler) http.Handler
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Engine:              cfg.Engine,
		JWTMgr:              cfg.JWTMgr,
		Keyring:             cfg.Keyring,
		Broker:              cfg.Broker,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
		OutcomeHooks:        cfg.OutcomeHooks,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Rate limit rules.
	writeRL := ratelimit.MiddlewareWithRequestID(cfg.Limiter, ratelimit.Rule{
		Prefix: "write", Limit: 300, Window: time.Minute,
	}, clientKeyFunc, reqIDFunc)
	queryRL := ratelimit.MiddlewareWithRequestID(cfg.Limiter, ratelimit.Rule{
		Prefix: "query", Limit: 300, Window: time.Minute,
	}, clientKeyFunc, reqIDFunc)
	authRL := ratelimit.MiddlewareWithRequestID(cfg.Limiter, ratelimit.Rule{
		Prefix: "auth", Limit: 20, Window: time.Minute,
	}, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Token endpoint (no auth required, rate limited by IP).
	mux.Handle("POST /v1/auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Outcome ingestion (agent+, rate limited).
	writeRole := requireRole(model.RoleAgent)
	mux.Handle("POST /v1/outcomes", writeRL(writeRole(http.HandlerFunc(h.HandleRecordOutcome))))

	// Scoring and routing (reader+, rate limited).
	readRole := requireRole(model.RoleReader)
	mux.Handle("GET /v1/reliability", queryRL(readRole(http.HandlerFunc(h.HandleGetReliability))))
	mux.Handle("POST /v1/route/best", queryRL(readRole(http.HandlerFunc(h.HandleBestTarget))))
	mux.Handle("POST /v1/route/alternatives", queryRL(readRole(http.HandlerFunc(h.HandleAlternatives))))
	mux.Handle("GET /v1/matrix", queryRL(readRole(http.HandlerFunc(h.HandleMatrix))))
	mux.Handle("GET /v1/stats", queryRL(readRole(http.HandlerFunc(h.HandleStats))))

	// Outcome event stream (reader+, no rate limit — long-lived connection).
	mux.Handle("GET /v1/events", readRole(http.HandlerFunc(h.HandleEvents)))

	// History maintenance (admin-only, no rate limit — admin is exempt).
	adminOnly := requireRole(model.RoleAdmin)
	mux.Handle("DELETE /v1/history", adminOnly(http.HandlerFunc(h.HandleClearHistory)))
	mux.Handle("POST /v1/history/prune", adminOnly(http.HandlerFunc(h.HandlePrune)))

	// MCP StreamableHTTP transport (auth required, reader+).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", readRole(mcpHTTP))
	}

	// OpenAPI spec (no auth, no rate limit).
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	if cfg.ExtraRoutes != nil {
		cfg.ExtraRoutes(mux)
	}

	authDisabled := cfg.Keyring.Empty()
	if authDisabled {
		cfg.Logger.Warn("no API keys configured, authentication disabled: all requests run as anonymous admin")
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, authDisabled, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	// Caller-supplied middleware wraps everything, first entry outermost.
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		handler = cfg.Middleware[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// clientKeyFunc extracts the client ID from the request context for rate
// limiting. Returns empty string for admin roles (exempt from rate limits).
func clientKeyFunc(r *http.Request) string {
	claims := ctxutil.ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	if model.RoleAtLeast(claims.Role, model.RoleAdmin) {
		return ""
	}
	return claims.ClientID
}

// Handlers returns the underlying Handlers for direct access in tests.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
