package keiro

import (
	"log/slog"
	"time"

	"github.com/ashita-ai/keiro/internal/reliability"
)

// Router is the bare reliability engine for embedding directly in Go agent
// frameworks. It tracks delegation outcomes and scores source→target routes
// in memory, with none of the App's HTTP, MCP, or telemetry surface.
//
// A Router runs no background goroutines. Long-lived embedders should call
// Prune periodically to drop records outside the retention horizon; App does
// this automatically, a bare Router leaves the schedule to the caller.
//
// All methods are safe for concurrent use.
type Router struct {
	engine *reliability.Tracker
}

// NewRouter creates a bare engine with the given tuning. Pass
// DefaultEngineConfig() for standard behavior. A nil logger falls back to
// slog.Default().
func NewRouter(cfg EngineConfig, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	engine, err := reliability.New(cfg.internal(), logger)
	if err != nil {
		return nil, err
	}
	return &Router{engine: engine}, nil
}

// DefaultEngineConfig returns the standard engine tuning.
func DefaultEngineConfig() EngineConfig {
	return toPublicEngineConfig(reliability.DefaultConfig())
}

// Record stores one observed outcome. Outcomes with an empty Source or
// Target are dropped with a warning. Confidence is clamped to [0, 1] and
// negative latencies are discarded. The outcome's RecordedAt is ignored;
// the engine stamps its own clock.
func (r *Router) Record(o Outcome) {
	r.engine.Record(o.Source, o.Target, o.Success, o.Confidence, o.Latency)
}

// Score returns the reliability score for a source→target pair in [0, 1].
// Pairs with no recorded history score the configured default.
func (r *Router) Score(source, target string) float64 {
	return r.engine.Score(source, target)
}

// Evaluate returns the reliability score along with how it was derived.
func (r *Router) Evaluate(source, target string) (float64, ScoreBasis) {
	score, basis := r.engine.Evaluate(source, target)
	return score, ScoreBasis(basis.String())
}

// BestTarget returns the highest-scoring candidate for a source, with its
// score. Ties break toward the earliest candidate, so callers can encode
// preference in candidate order. An empty candidate list returns ("", 0).
func (r *Router) BestTarget(source string, candidates []string) (string, float64) {
	return r.engine.BestTarget(source, candidates)
}

// Alternatives returns candidates that outscore the current target by the
// configured margin, best first. A nil candidate list considers every
// target observed for the source.
func (r *Router) Alternatives(source, current string, candidates []string) []TargetScore {
	return toPublicTargetScores(r.engine.Alternatives(source, current, candidates))
}

// Matrix scores every requested source against every requested target.
// Nil sources or targets default to all observed ones.
func (r *Router) Matrix(sources, targets []string) map[string]map[string]float64 {
	return r.engine.Matrix(sources, targets)
}

// Stats summarizes recorded history. Empty source and target aggregate over
// everything; either may be set to filter.
func (r *Router) Stats(source, target string) Stats {
	return toPublicStats(r.engine.Stats(source, target))
}

// ObservedSources returns all sources with recorded history, sorted.
func (r *Router) ObservedSources() []string {
	return r.engine.ObservedSources()
}

// ObservedTargets returns all targets observed for a source, sorted.
func (r *Router) ObservedTargets(source string) []string {
	return r.engine.ObservedTargets(source)
}

// ClearPair removes all records for one source→target pair and reports how
// many were removed.
func (r *Router) ClearPair(source, target string) int {
	return r.engine.ClearPair(source, target)
}

// ClearSource removes all records for every pair under a source.
func (r *Router) ClearSource(source string) int {
	return r.engine.ClearSource(source)
}

// ClearAll wipes all recorded history.
func (r *Router) ClearAll() int {
	return r.engine.ClearAll()
}

// Prune removes records older than maxAge and reports how many were
// removed. Prune(0) removes everything.
func (r *Router) Prune(maxAge time.Duration) int {
	return r.engine.Prune(maxAge)
}

// PruneExpired removes records older than twice the scoring window, the
// standard retention horizon.
func (r *Router) PruneExpired() int {
	return r.engine.PruneExpired()
}

// ── Type converters ────────────────────────────────────────────────────────────

// internal converts the public EngineConfig to the engine's configuration.
// Lives here because the root package is the only one that sees both sides
// of the boundary.
func (c EngineConfig) internal() reliability.Config {
	return reliability.Config{
		DecayFactor:        c.DecayFactor,
		SuccessWeight:      c.SuccessWeight,
		ConfidenceWeight:   c.ConfidenceWeight,
		SpeedWeight:        c.SpeedWeight,
		MinDataPoints:      c.MinDataPoints,
		DefaultReliability: c.DefaultReliability,
		MemorySize:         c.MemorySize,
		WindowSize:         c.WindowSize,
		MinReliabilityDiff: c.MinReliabilityDiff,
		CacheValidity:      c.CacheValidity,
		MaxPairs:           c.MaxPairs,
	}
}

func toPublicEngineConfig(c reliability.Config) EngineConfig {
	return EngineConfig{
		DecayFactor:        c.DecayFactor,
		SuccessWeight:      c.SuccessWeight,
		ConfidenceWeight:   c.ConfidenceWeight,
		SpeedWeight:        c.SpeedWeight,
		MinDataPoints:      c.MinDataPoints,
		DefaultReliability: c.DefaultReliability,
		MemorySize:         c.MemorySize,
		WindowSize:         c.WindowSize,
		MinReliabilityDiff: c.MinReliabilityDiff,
		CacheValidity:      c.CacheValidity,
		MaxPairs:           c.MaxPairs,
	}
}

func toPublicTargetScores(scores []reliability.TargetScore) []TargetScore {
	if scores == nil {
		return nil
	}
	out := make([]TargetScore, len(scores))
	for i, s := range scores {
		out[i] = TargetScore{Target: s.Target, Score: s.Score}
	}
	return out
}

func toPublicStats(s reliability.Stats) Stats {
	return Stats{
		TotalRecords:   s.TotalRecords,
		Sources:        s.Sources,
		Targets:        s.Targets,
		AvgSuccessRate: s.AvgSuccessRate,
		AvgConfidence:  s.AvgConfidence,
		AvgLatency:     s.AvgLatency,
	}
}
