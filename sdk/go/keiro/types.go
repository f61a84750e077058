package keiro

import "time"

// Basis values reported alongside reliability scores. A pair with no
// recorded history scores the server's configured default and is marked
// no_data; a pair with fewer records than the minimum sample size is
// low_sample; everything else is computed.
const (
	BasisNoData    = "no_data"
	BasisLowSample = "low_sample"
	BasisComputed  = "computed"
)

// RecordOutcomeRequest is the input for Client.RecordOutcome. Success and
// Confidence are always sent on the wire; LatencyMS is optional.
type RecordOutcomeRequest struct {
	Source     string   `json:"source"`
	Target     string   `json:"target"`
	Success    bool     `json:"success"`
	Confidence float64  `json:"confidence"`
	LatencyMS  *float64 `json:"latency_ms,omitempty"`
}

// RecordOutcomeResponse reports how many records the pair holds after the
// outcome was accepted.
type RecordOutcomeResponse struct {
	Source  string `json:"source"`
	Target  string `json:"target"`
	Records int    `json:"records"`
}

// ReliabilityResponse is one pair's current reliability score.
type ReliabilityResponse struct {
	Source      string  `json:"source"`
	Target      string  `json:"target"`
	Reliability float64 `json:"reliability"`
	Basis       string  `json:"basis"`
}

// BestTargetResponse names the highest-scoring candidate. Target is empty
// when no candidates were supplied.
type BestTargetResponse struct {
	Target      string  `json:"target"`
	Reliability float64 `json:"reliability"`
}

// AlternativesRequest is the input for Client.Alternatives. A nil
// Candidates list means "consider every target observed for the source".
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

// AlternativesResponse lists targets scoring meaningfully above the
// current one, sorted by descending reliability.
type AlternativesResponse struct {
	Source        string              `json:"source"`
	CurrentTarget string              `json:"current_target"`
	Alternatives  []TargetReliability `json:"alternatives"`
}

// MatrixResponse maps source to target to reliability score.
type MatrixResponse struct {
	Matrix map[string]map[string]float64 `json:"matrix"`
}

// StatsResponse summarizes recorded history. Averages are nil when no
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

// ClearHistoryResponse reports how many records were removed.
type ClearHistoryResponse struct {
	Removed int `json:"removed"`
}

// PruneResponse reports how many aged-out records were removed.
type PruneResponse struct {
	Removed int `json:"removed"`
}

// HealthResponse is the server's health status.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Pairs         int    `json:"pairs"`
	Records       int    `json:"records"`
	CachedScores  int    `json:"cached_scores"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// OutcomeEvent is one recorded outcome as delivered on the event stream.
type OutcomeEvent struct {
	Source     string    `json:"source"`
	Target     string    `json:"target"`
	Success    bool      `json:"success"`
	Confidence float64   `json:"confidence"`
	LatencyMS  *float64  `json:"latency_ms,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}
