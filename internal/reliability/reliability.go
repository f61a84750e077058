// Package reliability implements the routing engine's trust model: it records
// delegation outcomes per (source, target) pair, turns that history into
// time-decayed reliability scores, and answers routing queries (best target,
// better alternatives, score matrix, aggregate stats).
//
// All state is in-memory and process-lifetime. The tracker is safe for
// concurrent use; a single coarse lock guards history and the score cache
// together so a recorded outcome and its cache invalidation are never torn.
package reliability

import (
	"log/slog"
	"sync"
	"time"
)

// Pair identifies a directed delegation edge in the routing graph.
type Pair struct {
	Source string
	Target string
}

// Observation is one recorded delegation outcome. Immutable once stored; only
// the containing history slice is appended to, trimmed, or cleared.
type Observation struct {
	Timestamp  time.Time
	Success    bool
	Confidence float64
	Latency    *time.Duration // nil when not measured
}

type cacheEntry struct {
	score      float64
	computedAt time.Time
}

// Tracker is the reliability engine. Construct with New.
type Tracker struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	history  map[Pair][]Observation
	cache    map[Pair]cacheEntry
	lastSeen map[Pair]time.Time // last observation per pair; drives MaxPairs eviction

	now func() time.Time // swapped in tests
}

// New validates cfg and returns a ready tracker. A nil logger falls back to
// slog.Default().
func New(cfg Config, logger *slog.Logger) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		cfg:      cfg,
		logger:   logger,
		history:  make(map[Pair][]Observation),
		cache:    make(map[Pair]cacheEntry),
		lastSeen: make(map[Pair]time.Time),
		now:      time.Now,
	}, nil
}

// Record appends an outcome observation for (source, target) with the current
// timestamp, trims the pair's history to MemorySize (oldest first), and
// invalidates the pair's cached score. It never fails: an empty source or
// target is dropped with a warning, and out-of-range confidence is stored
// as given — scoring clamps the final result.
func (t *Tracker) Record(source, target string, success bool, confidence float64, latency *time.Duration) {
	if source == "" || target == "" {
		t.logger.Warn("outcome dropped: empty source or target",
			"source", source, "target", target)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p := Pair{Source: source, Target: target}
	if _, known := t.history[p]; !known {
		t.evictForCeilingLocked()
	}

	obs := Observation{
		Timestamp:  t.now(),
		Success:    success,
		Confidence: confidence,
	}
	if latency != nil {
		d := *latency
		obs.Latency = &d
	}

	recs := append(t.history[p], obs)
	if len(recs) > t.cfg.MemorySize {
		recs = recs[len(recs)-t.cfg.MemorySize:]
	}
	t.history[p] = recs
	t.lastSeen[p] = obs.Timestamp
	delete(t.cache, p)
}

// evictForCeilingLocked makes room for one new pair when MaxPairs is set.
// The least recently observed pair goes first. The scan is O(pairs), which is
// fine at the cardinalities a single ceiling-protected process tracks.
func (t *Tracker) evictForCeilingLocked() {
	if t.cfg.MaxPairs <= 0 || len(t.history) < t.cfg.MaxPairs {
		return
	}
	var victim Pair
	var victimSeen time.Time
	found := false
	for p, seen := range t.lastSeen {
		if !found || seen.Before(victimSeen) {
			victim, victimSeen, found = p, seen, true
		}
	}
	if !found {
		return
	}
	delete(t.history, victim)
	delete(t.cache, victim)
	delete(t.lastSeen, victim)
	t.logger.Warn("pair ceiling reached: evicted least recently observed pair",
		"source", victim.Source, "target", victim.Target, "max_pairs", t.cfg.MaxPairs)
}

// ClearPair removes all history for one pair and its cached score. Returns the
// number of records removed.
func (t *Tracker) ClearPair(source, target string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := Pair{Source: source, Target: target}
	removed := len(t.history[p])
	delete(t.history, p)
	delete(t.cache, p)
	delete(t.lastSeen, p)
	if removed > 0 {
		t.logger.Info("history cleared", "source", source, "target", target, "removed", removed)
	}
	return removed
}

// ClearSource removes history for every pair originating at source, along
// with their cached scores. Returns the number of records removed.
func (t *Tracker) ClearSource(source string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for p, recs := range t.history {
		if p.Source != source {
			continue
		}
		removed += len(recs)
		delete(t.history, p)
		delete(t.cache, p)
		delete(t.lastSeen, p)
	}
	if removed > 0 {
		t.logger.Info("history cleared", "source", source, "removed", removed)
	}
	return removed
}

// ClearAll wipes every pair and every cached score. Returns the number of
// records removed.
func (t *Tracker) ClearAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for _, recs := range t.history {
		removed += len(recs)
	}
	t.history = make(map[Pair][]Observation)
	t.cache = make(map[Pair]cacheEntry)
	t.lastSeen = make(map[Pair]time.Time)
	if removed > 0 {
		t.logger.Info("history cleared", "removed", removed)
	}
	return removed
}

// Prune removes records older than maxAge across all pairs and invalidates
// the cache of every pair that lost records. Pairs left empty are removed
// entirely. A maxAge of zero or less removes everything. Returns the number
// of records removed.
func (t *Tracker) Prune(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-maxAge)
	removed := 0
	for p, recs := range t.history {
		// History is chronological, so survivors are a suffix.
		firstKept := len(recs)
		for i, r := range recs {
			if r.Timestamp.After(cutoff) {
				firstKept = i
				break
			}
		}
		if firstKept == 0 {
			continue
		}
		removed += firstKept
		delete(t.cache, p)
		if firstKept == len(recs) {
			delete(t.history, p)
			delete(t.lastSeen, p)
			continue
		}
		kept := make([]Observation, len(recs)-firstKept)
		copy(kept, recs[firstKept:])
		t.history[p] = kept
	}
	if removed > 0 {
		t.logger.Info("history pruned", "max_age", maxAge, "removed", removed)
	}
	return removed
}

// PruneExpired prunes with the default retention of twice the scoring window.
// This is the form the scheduled maintenance loop calls.
func (t *Tracker) PruneExpired() int {
	return t.Prune(2 * t.cfg.WindowSize)
}

// PairCount reports the number of tracked (source, target) pairs.
func (t *Tracker) PairCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.history)
}

// PairRecords reports the number of observations held for one pair.
func (t *Tracker) PairRecords(source, target string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.history[Pair{Source: source, Target: target}])
}

// RecordCount reports the total number of observations across all pairs.
func (t *Tracker) RecordCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := 0
	for _, recs := range t.history {
		total += len(recs)
	}
	return total
}

// CachedCount reports the number of cached scores, fresh or stale.
func (t *Tracker) CachedCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.cache)
}
