package reliability

import (
	"math"
	"sort"
)

// Basis tags how a reliability value was produced. The boundary between "no
// usable data", "a little data" and "a real computation" is where scoring
// bugs hide, so the engine keeps the distinction explicit instead of
// collapsing everything to a float internally.
type Basis int

const (
	// BasisNoData means the value is the configured default: the pair has no
	// history, or none of it survived windowing and backfill.
	BasisNoData Basis = iota
	// BasisLowSample means the value is the default nudged by fewer than
	// MinDataPoints observations.
	BasisLowSample
	// BasisComputed means the value came from the full weighted blend. Only
	// computed values enter the cache.
	BasisComputed
)

// String returns the wire name of the basis.
func (b Basis) String() string {
	switch b {
	case BasisLowSample:
		return "low_sample"
	case BasisComputed:
		return "computed"
	default:
		return "no_data"
	}
}

// TargetScore pairs a candidate target with its reliability score.
type TargetScore struct {
	Target string
	Score  float64
}

// Score returns the reliability of target as seen from source, in [0, 1].
func (t *Tracker) Score(source, target string) float64 {
	score, _ := t.Evaluate(source, target)
	return score
}

// Evaluate returns the reliability of target as seen from source along with
// the basis the value rests on. A fresh cache entry short-circuits
// recomputation; only fully computed scores are cached, so cache hits always
// report BasisComputed.
func (t *Tracker) Evaluate(source, target string) (float64, Basis) {
	p := Pair{Source: source, Target: target}

	t.mu.RLock()
	if e, ok := t.cache[p]; ok && t.now().Sub(e.computedAt) < t.cfg.CacheValidity {
		t.mu.RUnlock()
		return e.score, BasisComputed
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Another caller may have recomputed while we waited for the write lock.
	if e, ok := t.cache[p]; ok && t.now().Sub(e.computedAt) < t.cfg.CacheValidity {
		return e.score, BasisComputed
	}

	score, basis := t.evaluateLocked(p)
	if basis == BasisComputed {
		t.cache[p] = cacheEntry{score: score, computedAt: t.now()}
	}
	return score, basis
}

// evaluateLocked runs the scoring pipeline over the pair's history:
// window filter, decayed backfill, low-sample bias, weighted blend.
// Caller holds t.mu.
func (t *Tracker) evaluateLocked(p Pair) (float64, Basis) {
	records := t.history[p]
	if len(records) == 0 {
		return t.cfg.DefaultReliability, BasisNoData
	}

	now := t.now()
	windowStart := now.Add(-t.cfg.WindowSize)

	recent := make([]Observation, 0, len(records))
	for _, r := range records {
		if !r.Timestamp.Before(windowStart) {
			recent = append(recent, r)
		}
	}

	// The window is thin but the pair has a real track record: backfill from
	// older records, newest first, fading each by how far outside the window
	// it sits. A faded record keeps its success only while decay stays at or
	// above 0.5; its confidence scales with the decay.
	if len(recent) < t.cfg.MinDataPoints && len(records) >= t.cfg.MinDataPoints {
		for i := len(records) - 1; i >= 0 && len(recent) < t.cfg.MinDataPoints; i-- {
			r := records[i]
			if !r.Timestamp.Before(windowStart) {
				continue // already counted
			}
			age := now.Sub(r.Timestamp)
			decay := math.Pow(t.cfg.DecayFactor, age.Seconds()/t.cfg.WindowSize.Seconds())
			faded := r
			faded.Success = r.Success && decay >= 0.5
			faded.Confidence = r.Confidence * decay
			recent = append(recent, faded)
		}
	}

	if len(recent) < t.cfg.MinDataPoints {
		if len(recent) == 0 {
			return t.cfg.DefaultReliability, BasisNoData
		}
		// Too little evidence for the full blend: nudge the default toward
		// what little there is, scaled way down.
		successes := 0
		confidenceSum := 0.0
		for _, r := range recent {
			if r.Success {
				successes++
			}
			confidenceSum += r.Confidence
		}
		n := float64(len(recent))
		bias := (float64(successes)/n*0.6 + confidenceSum/n*0.4 - 0.5) * 0.2
		return clamp(t.cfg.DefaultReliability+bias, 0, 1), BasisLowSample
	}

	var (
		successes     int
		confidenceSum float64
		latencySum    float64
		latencyCount  int
	)
	for _, r := range recent {
		if r.Success {
			successes++
		}
		confidenceSum += r.Confidence
		if r.Latency != nil {
			latencySum += r.Latency.Seconds()
			latencyCount++
		}
	}
	n := float64(len(recent))
	successRate := float64(successes) / n
	avgConfidence := confidenceSum / n

	// Logistic speed factor centered at one second: ~1.0 for fast targets,
	// ~0.0 for slow ones, 0.5 when latency was never measured.
	speedFactor := 0.5
	if latencyCount > 0 {
		avgLatency := latencySum / float64(latencyCount)
		speedFactor = 1 / (1 + math.Exp(3*(avgLatency-1.0)))
	}

	weightSum := t.cfg.SuccessWeight + t.cfg.ConfidenceWeight + t.cfg.SpeedWeight
	score := (successRate*t.cfg.SuccessWeight +
		avgConfidence*t.cfg.ConfidenceWeight +
		speedFactor*t.cfg.SpeedWeight) / weightSum
	return clamp(score, 0, 1), BasisComputed
}

// BestTarget scores every candidate for source and returns the highest scorer.
// Ties go to the earliest candidate in the list. An empty candidate list is a
// recoverable condition: it returns ("", 0) and logs a warning.
func (t *Tracker) BestTarget(source string, candidates []string) (string, float64) {
	if len(candidates) == 0 {
		t.logger.Warn("best target requested with no candidates", "source", source)
		return "", 0.0
	}
	best := ""
	bestScore := -1.0
	for _, c := range candidates {
		if s := t.Score(source, c); s > bestScore {
			best, bestScore = c, s
		}
	}
	return best, bestScore
}

// Alternatives returns the candidates that beat the current target's score by
// more than MinReliabilityDiff, sorted by score descending. The margin keeps
// noise-level differences from churning routes. A nil candidates slice means
// "every target ever observed for source"; the current target is never
// suggested.
func (t *Tracker) Alternatives(source, current string, candidates []string) []TargetScore {
	if candidates == nil {
		candidates = t.ObservedTargets(source)
	}
	threshold := t.Score(source, current) + t.cfg.MinReliabilityDiff

	out := make([]TargetScore, 0, len(candidates))
	for _, c := range candidates {
		if c == current {
			continue
		}
		if s := t.Score(source, c); s > threshold {
			out = append(out, TargetScore{Target: c, Score: s})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Target < out[j].Target
	})
	return out
}

// Matrix computes the full score matrix for the given sources and targets.
// A nil sources slice means every known source; a nil targets slice means the
// union of targets observed across the selected sources. Every cell is a
// fresh Score call, so wide matrices do real work.
func (t *Tracker) Matrix(sources, targets []string) map[string]map[string]float64 {
	if sources == nil {
		sources = t.ObservedSources()
	}
	if targets == nil {
		seen := make(map[string]struct{})
		for _, s := range sources {
			for _, tgt := range t.ObservedTargets(s) {
				seen[tgt] = struct{}{}
			}
		}
		targets = make([]string, 0, len(seen))
		for tgt := range seen {
			targets = append(targets, tgt)
		}
		sort.Strings(targets)
	}

	matrix := make(map[string]map[string]float64, len(sources))
	for _, s := range sources {
		row := make(map[string]float64, len(targets))
		for _, tgt := range targets {
			row[tgt] = t.Score(s, tgt)
		}
		matrix[s] = row
	}
	return matrix
}

// ObservedSources lists every source with recorded history, sorted.
func (t *Tracker) ObservedSources() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[string]struct{})
	for p := range t.history {
		seen[p.Source] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ObservedTargets lists every target with recorded history for source, sorted.
func (t *Tracker) ObservedTargets(source string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, 8)
	for p := range t.history {
		if p.Source == source {
			out = append(out, p.Target)
		}
	}
	sort.Strings(out)
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
