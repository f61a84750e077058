package keiro

import (
	"time"
)

// Role is an API client's RBAC role.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleAgent  Role = "agent"
	RoleReader Role = "reader"
)

// EngineConfig tunes the reliability engine. It mirrors the internal engine
// configuration so embedders can tune scoring without importing internal
// packages. Zero values are invalid — start from DefaultEngineConfig and
// override fields as needed.
type EngineConfig struct {
	// DecayFactor is the per-window exponential decay applied to records
	// older than the scoring window. Must be in (0, 1).
	DecayFactor float64

	// SuccessWeight, ConfidenceWeight, and SpeedWeight blend the three
	// scoring components. They must sum to 1.0.
	SuccessWeight    float64
	ConfidenceWeight float64
	SpeedWeight      float64

	// MinDataPoints is the sample size below which a pair's score is
	// dampened toward DefaultReliability instead of fully computed.
	MinDataPoints int

	// DefaultReliability is the score reported for pairs with no history.
	DefaultReliability float64

	// MemorySize caps the number of records retained per pair (FIFO).
	MemorySize int

	// WindowSize is the scoring window; records older than it decay, and
	// records older than twice it are dropped by periodic pruning.
	WindowSize time.Duration

	// MinReliabilityDiff is the margin an alternative must clear over the
	// current target's score to be suggested.
	MinReliabilityDiff float64

	// CacheValidity bounds how long a computed score may be served from
	// cache before recomputation.
	CacheValidity time.Duration

	// MaxPairs caps the number of tracked pairs; 0 means unlimited. When
	// the cap is reached the pair with the oldest newest-record is evicted.
	MaxPairs int
}

// Outcome is one observed routing outcome: source delegated a task to target,
// and the task either succeeded or failed with some confidence. Latency is
// optional. RecordedAt is set by the engine when recording; it is populated
// on outcomes delivered to observers and ignored on input.
type Outcome struct {
	Source     string
	Target     string
	Success    bool
	Confidence float64
	Latency    *time.Duration
	RecordedAt time.Time
}

// TargetScore pairs a candidate target with its reliability score.
type TargetScore struct {
	Target string
	Score  float64
}

// ScoreBasis reports how a reliability score was derived.
type ScoreBasis string

const (
	// BasisNoData means the score is the configured default: the pair has
	// no recorded history.
	BasisNoData ScoreBasis = "no_data"

	// BasisLowSample means the pair has history but fewer records than the
	// minimum sample size, so the score is dampened toward the default.
	BasisLowSample ScoreBasis = "low_sample"

	// BasisComputed means the score is fully computed from the pair's
	// recorded history.
	BasisComputed ScoreBasis = "computed"
)

// Stats summarizes recorded history, optionally filtered by source and/or
// target. Average fields are nil when no records match the filter.
type Stats struct {
	TotalRecords   int
	Sources        []string
	Targets        []string
	AvgSuccessRate *float64
	AvgConfidence  *float64
	AvgLatency     *time.Duration
}
