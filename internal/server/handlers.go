package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/keiro/internal/auth"
	"github.com/ashita-ai/keiro/internal/ctxutil"
	"github.com/ashita-ai/keiro/internal/model"
	"github.com/ashita-ai/keiro/internal/reliability"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	engine              *reliability.Tracker
	jwtMgr              *auth.JWTManager
	keyring             *auth.Keyring
	broker              *Broker
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	openapiSpec         []byte
	// outcomeHooks are fired asynchronously after an outcome is recorded.
	// Nil or empty slice means no hooks registered.
	outcomeHooks []OutcomeHook

	// matrixGroup deduplicates concurrent identical matrix builds.
	matrixGroup singleflight.Group
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Broker, OpenAPISpec, OutcomeHooks.
type HandlersDeps struct {
	Engine              *reliability.Tracker
	JWTMgr              *auth.JWTManager
	Keyring             *auth.Keyring
	Broker              *Broker
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
	OutcomeHooks        []OutcomeHook
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		engine:              d.Engine,
		jwtMgr:              d.JWTMgr,
		keyring:             d.Keyring,
		broker:              d.Broker,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		openapiSpec:         d.OpenAPISpec,
		outcomeHooks:        d.OutcomeHooks,
	}
}

// writeInternalError logs the underlying error and writes a generic 500
// response. The error itself never reaches the client.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

// HandleAuthToken handles POST /v1/auth/token.
// Verifies the API key against the static keyring and issues a JWT. When the
// keyring is empty auth is disabled and any credentials yield an admin token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateAgentID("client_id", req.ClientID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	var client model.Client
	if h.keyring.Empty() {
		// Auth disabled: hand out an admin token so SDK clients configured
		// with credentials still work against a dev deployment.
		client = model.Client{ClientID: req.ClientID, Role: model.RoleAdmin}
	} else {
		var ok bool
		client, ok = h.keyring.Verify(req.ClientID, req.APIKey)
		if !ok {
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
			return
		}
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(client)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}

	h.logger.Info("token issued",
		"client_id", client.ClientID,
		"role", client.Role,
		"expires_at", expiresAt,
		"request_id", RequestIDFromContext(r.Context()),
	)

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleRecordOutcome handles POST /v1/outcomes.
func (h *Handlers) HandleRecordOutcome(w http.ResponseWriter, r *http.Request) {
	var req model.RecordOutcomeRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if err := model.ValidateAgentID("source", req.Source); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if err := model.ValidateAgentID("target", req.Target); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if req.Success == nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "success is required")
		return
	}
	if req.Confidence == nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "confidence is required")
		return
	}
	if err := model.ValidateConfidence(*req.Confidence); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	var latency *time.Duration
	if req.LatencyMS != nil {
		if err := model.ValidateLatencyMS(*req.LatencyMS); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
		d := time.Duration(*req.LatencyMS * float64(time.Millisecond))
		latency = &d
	}

	h.engine.Record(req.Source, req.Target, *req.Success, *req.Confidence, latency)

	event := model.OutcomeEvent{
		Source:     req.Source,
		Target:     req.Target,
		Success:    *req.Success,
		Confidence: *req.Confidence,
		LatencyMS:  req.LatencyMS,
		RecordedAt: time.Now().UTC(),
	}
	if h.broker != nil {
		h.broker.Publish(event)
	}
	h.fireOutcomeHooks(event)

	writeJSON(w, r, http.StatusAccepted, model.RecordOutcomeResponse{
		Source:  req.Source,
		Target:  req.Target,
		Records: h.engine.PairRecords(req.Source, req.Target),
	})
}

// fireOutcomeHooks invokes registered hooks in goroutines with a bounded
// context. Hook failures are logged, never surfaced to the caller.
func (h *Handlers) fireOutcomeHooks(event model.OutcomeEvent) {
	for _, hook := range h.outcomeHooks {
		go func(hk OutcomeHook) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := hk.OnOutcomeRecorded(ctx, event); err != nil {
				h.logger.Warn("outcome hook failed",
					"source", event.Source, "target", event.Target, "error", err)
			}
		}(hook)
	}
}

// HandleGetReliability handles GET /v1/reliability.
func (h *Handlers) HandleGetReliability(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	target := r.URL.Query().Get("target")
	if err := model.ValidateAgentID("source", source); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if err := model.ValidateAgentID("target", target); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	score, basis := h.engine.Evaluate(source, target)
	writeJSON(w, r, http.StatusOK, model.ReliabilityResponse{
		Source:      source,
		Target:      target,
		Reliability: score,
		Basis:       basis.String(),
	})
}

// HandleBestTarget handles POST /v1/route/best.
// An empty candidate list is not an error: the response carries an empty
// target and a zero score, and the caller decides what to do.
func (h *Handlers) HandleBestTarget(w http.ResponseWriter, r *http.Request) {
	var req model.BestTargetRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateAgentID("source", req.Source); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	target, score := h.engine.BestTarget(req.Source, req.Candidates)
	writeJSON(w, r, http.StatusOK, model.BestTargetResponse{
		Target:      target,
		Reliability: score,
	})
}

// HandleAlternatives handles POST /v1/route/alternatives.
func (h *Handlers) HandleAlternatives(w http.ResponseWriter, r *http.Request) {
	var req model.AlternativesRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateAgentID("source", req.Source); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if err := model.ValidateAgentID("current_target", req.CurrentTarget); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	scores := h.engine.Alternatives(req.Source, req.CurrentTarget, req.Candidates)
	alts := make([]model.TargetReliability, len(scores))
	for i, s := range scores {
		alts[i] = model.TargetReliability{Target: s.Target, Reliability: s.Score}
	}
	writeJSON(w, r, http.StatusOK, model.AlternativesResponse{
		Source:        req.Source,
		CurrentTarget: req.CurrentTarget,
		Alternatives:  alts,
	})
}

// HandleMatrix handles GET /v1/matrix.
// Building the matrix walks every tracked pair, so identical concurrent
// requests are collapsed into one computation via singleflight.
func (h *Handlers) HandleMatrix(w http.ResponseWriter, r *http.Request) {
	sources := splitList(r.URL.Query().Get("sources"))
	targets := splitList(r.URL.Query().Get("targets"))

	key := strings.Join(sources, ",") + "|" + strings.Join(targets, ",")
	result, _, _ := h.matrixGroup.Do(key, func() (any, error) {
		return h.engine.Matrix(sources, targets), nil
	})

	writeJSON(w, r, http.StatusOK, model.MatrixResponse{
		Matrix: result.(map[string]map[string]float64),
	})
}

// splitList parses a comma-separated query parameter into a slice, trimming
// whitespace and dropping empty entries. Returns nil for an empty parameter.
func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// HandleStats handles GET /v1/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	target := r.URL.Query().Get("target")

	st := h.engine.Stats(source, target)

	resp := model.StatsResponse{
		Source:         source,
		Target:         target,
		TotalRecords:   st.TotalRecords,
		Sources:        st.Sources,
		Targets:        st.Targets,
		AvgSuccessRate: st.AvgSuccessRate,
		AvgConfidence:  st.AvgConfidence,
	}
	if st.AvgLatency != nil {
		ms := float64(*st.AvgLatency) / float64(time.Millisecond)
		resp.AvgLatencyMS = &ms
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleEvents handles GET /v1/events (SSE).
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError,
			"event streaming not available")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Disable the server's WriteTimeout for this long-lived connection.
	// Without this, idle SSE connections are killed after WriteTimeout (default 30s).
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleClearHistory handles DELETE /v1/history.
// Query parameter combinations select the scope: source+target clears one
// pair, source alone clears every pair from that source, neither clears
// everything. Target without source is not a supported filter.
func (h *Handlers) HandleClearHistory(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	target := r.URL.Query().Get("target")

	var removed int
	switch {
	case source != "" && target != "":
		removed = h.engine.ClearPair(source, target)
	case source != "":
		removed = h.engine.ClearSource(source)
	case target != "":
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			"target filter requires source")
		return
	default:
		removed = h.engine.ClearAll()
	}

	claims := ctxutil.ClaimsFromContext(r.Context())
	h.logger.Info("history cleared",
		"source", source,
		"target", target,
		"removed", removed,
		"client_id", clientID(claims),
		"request_id", RequestIDFromContext(r.Context()),
	)

	writeJSON(w, r, http.StatusOK, model.ClearHistoryResponse{Removed: removed})
}

// HandlePrune handles POST /v1/history/prune. The body is optional; without
// max_age_seconds the default retention of twice the scoring window applies.
func (h *Handlers) HandlePrune(w http.ResponseWriter, r *http.Request) {
	var req model.PruneRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil && !errors.Is(err, io.EOF) {
		handleDecodeError(w, r, err)
		return
	}

	var removed int
	if req.MaxAgeSeconds == nil {
		removed = h.engine.PruneExpired()
	} else {
		if *req.MaxAgeSeconds < 0 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
				"max_age_seconds must not be negative")
			return
		}
		removed = h.engine.Prune(time.Duration(*req.MaxAgeSeconds * float64(time.Second)))
	}

	claims := ctxutil.ClaimsFromContext(r.Context())
	h.logger.Info("history pruned",
		"removed", removed,
		"client_id", clientID(claims),
		"request_id", RequestIDFromContext(r.Context()),
	)

	writeJSON(w, r, http.StatusOK, model.PruneResponse{Removed: removed})
}

func clientID(claims *auth.Claims) string {
	if claims == nil {
		return ""
	}
	return claims.ClientID
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, model.HealthResponse{
		Status:       "healthy",
		Version:      h.version,
		Pairs:        h.engine.PairCount(),
		Records:      h.engine.RecordCount(),
		CachedScores: h.engine.CachedCount(),
		Uptime:       int64(time.Since(h.startedAt).Seconds()),
	})
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}
