package model

import (
	"fmt"
	"math"
	"time"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// RecordOutcomeRequest is the request body for POST /v1/outcomes.
// Success and Confidence are pointers so a missing field is distinguishable
// from a zero value and rejected instead of silently recorded.
type RecordOutcomeRequest struct {
	Source     string   `json:"source"`
	Target     string   `json:"target"`
	Success    *bool    `json:"success"`
	Confidence *float64 `json:"confidence"`
	LatencyMS  *float64 `json:"latency_ms,omitempty"`
}

// RecordOutcomeResponse is the response for POST /v1/outcomes.
type RecordOutcomeResponse struct {
	Source  string `json:"source"`
	Target  string `json:"target"`
	Records int    `json:"records"` // records now held for the pair
}

// ReliabilityResponse is the response for GET /v1/reliability.
type ReliabilityResponse struct {
	Source      string  `json:"source"`
	Target      string  `json:"target"`
	Reliability float64 `json:"reliability"`
	Basis       string  `json:"basis"` // no_data | low_sample | computed
}

// BestTargetRequest is the request body for POST /v1/route/best.
type BestTargetRequest struct {
	Source     string   `json:"source"`
	Candidates []string `json:"candidates"`
}

// BestTargetResponse is the response for POST /v1/route/best. Target is empty
// when no candidates were supplied.
type BestTargetResponse struct {
	Target      string  `json:"target"`
	Reliability float64 `json:"reliability"`
}

// AlternativesRequest is the request body for POST /v1/route/alternatives.
// A nil Candidates list means "consider every target observed for the source".
type AlternativesRequest struct {
	Source        string   `json:"source"`
	CurrentTarget string   `json:"current_target"`
	Candidates    []string `json:"candidates,omitempty"`
}

// TargetReliability is one scored target in routing responses.
type TargetReliability struct {
	Target      string  `json:"target"`
	Reliability float64 `json:"reliability"`
}

// AlternativesResponse is the response for POST /v1/route/alternatives,
// sorted by descending reliability.
type AlternativesResponse struct {
	Source        string              `json:"source"`
	CurrentTarget string              `json:"current_target"`
	Alternatives  []TargetReliability `json:"alternatives"`
}

// MatrixResponse is the response for GET /v1/matrix: source → target → score.
type MatrixResponse struct {
	Matrix map[string]map[string]float64 `json:"matrix"`
}

// StatsResponse is the response for GET /v1/stats. Averages are null when no
// records match the filters (distinct from a true zero average).
type StatsResponse struct {
	Source         string   `json:"source,omitempty"`
	Target         string   `json:"target,omitempty"`
	TotalRecords   int      `json:"total_records"`
	Sources        []string `json:"sources"`
	Targets        []string `json:"targets"`
	AvgSuccessRate *float64 `json:"avg_success_rate"`
	AvgConfidence  *float64 `json:"avg_confidence"`
	AvgLatencyMS   *float64 `json:"avg_latency_ms"`
}

// ClearHistoryResponse is the response for DELETE /v1/history.
type ClearHistoryResponse struct {
	Removed int `json:"removed"`
}

// PruneRequest is the request body for POST /v1/history/prune. A missing
// MaxAgeSeconds means the default retention of twice the scoring window.
type PruneRequest struct {
	MaxAgeSeconds *float64 `json:"max_age_seconds,omitempty"`
}

// PruneResponse is the response for POST /v1/history/prune.
type PruneResponse struct {
	Removed int `json:"removed"`
}

// AuthTokenRequest is the request body for POST /v1/auth/token.
type AuthTokenRequest struct {
	ClientID string `json:"client_id"`
	APIKey   string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /v1/auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Pairs        int    `json:"pairs"`
	Records      int    `json:"records"`
	CachedScores int    `json:"cached_scores"`
	Uptime       int64  `json:"uptime_seconds"`
}

// OutcomeEvent is one recorded outcome as published on the event stream.
type OutcomeEvent struct {
	Source     string    `json:"source"`
	Target     string    `json:"target"`
	Success    bool      `json:"success"`
	Confidence float64   `json:"confidence"`
	LatencyMS  *float64  `json:"latency_ms,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ValidateConfidence checks that a confidence value is within [0, 1].
func ValidateConfidence(c float64) error {
	if math.IsNaN(c) || c < 0 || c > 1 {
		return fmt.Errorf("confidence must be between 0 and 1, got %v", c)
	}
	return nil
}

// ValidateLatencyMS checks that a latency value is non-negative.
func ValidateLatencyMS(ms float64) error {
	if math.IsNaN(ms) || ms < 0 {
		return fmt.Errorf("latency_ms must not be negative, got %v", ms)
	}
	return nil
}
