package reliability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore_ColdStart(t *testing.T) {
	tr, _ := newTestTracker(t, DefaultConfig())

	// No history at all: exactly the configured default, tagged as no-data.
	score, basis := tr.Evaluate("planner", "coder")
	assert.Equal(t, 0.5, score)
	assert.Equal(t, BasisNoData, basis)
	assert.Equal(t, 0.5, tr.Score("planner", "coder"))
}

func TestScore_WorkedExample(t *testing.T) {
	tr, _ := newTestTracker(t, DefaultConfig())

	for i := 0; i < 5; i++ {
		tr.Record("A", "B", true, 0.9, nil)
	}
	for i := 0; i < 5; i++ {
		tr.Record("A", "C", false, 0.1, nil)
	}

	// success_rate=1.0, avg_confidence=0.9, neutral speed 0.5 with default
	// weights 0.6/0.3/0.1 -> (0.6 + 0.27 + 0.05) / 1.0 = 0.92.
	scoreB := tr.Score("A", "B")
	assert.InDelta(t, 0.92, scoreB, 1e-9)
	assert.GreaterOrEqual(t, scoreB, 0.8)

	// All failures at confidence 0.1 -> (0 + 0.03 + 0.05) = 0.08.
	scoreC := tr.Score("A", "C")
	assert.InDelta(t, 0.08, scoreC, 1e-9)
	assert.LessOrEqual(t, scoreC, 0.2)

	best, bestScore := tr.BestTarget("A", []string{"B", "C"})
	assert.Equal(t, "B", best)
	assert.InDelta(t, 0.92, bestScore, 1e-9)
}

func TestScore_MonotonicUnderPureSuccess(t *testing.T) {
	tr, _ := newTestTracker(t, DefaultConfig())

	prev := tr.Score("A", "B") // 0 records -> 0.5
	assert.Equal(t, 0.5, prev)

	// Non-decreasing while below MinDataPoints, then stable at the full blend.
	for i := 1; i <= 8; i++ {
		tr.Record("A", "B", true, 1.0, nil)
		score := tr.Score("A", "B")
		assert.GreaterOrEqual(t, score, prev, "score regressed at %d records", i)
		prev = score
	}
	// 1..4 records: biased default (0.6 + 0.4 - 0.5) * 0.2 above 0.5.
	// 5+ records: (0.6 + 0.3 + 0.05) = 0.95, stable.
	assert.InDelta(t, 0.95, prev, 1e-9)
}

func TestScore_SpeedFactor(t *testing.T) {
	tr, _ := newTestTracker(t, DefaultConfig())

	for i := 0; i < 5; i++ {
		tr.Record("A", "fast", true, 1.0, durPtr(300*time.Millisecond))
		tr.Record("A", "slow", true, 1.0, durPtr(3*time.Second))
		tr.Record("A", "unmeasured", true, 1.0, nil)
	}

	fast := tr.Score("A", "fast")
	slow := tr.Score("A", "slow")
	neutral := tr.Score("A", "unmeasured")

	// Logistic curve centered at 1s: 300ms -> ~0.891, 3s -> ~0.002, none -> 0.5.
	assert.InDelta(t, 0.9891, fast, 0.001)
	assert.InDelta(t, 0.9002, slow, 0.001)
	assert.InDelta(t, 0.95, neutral, 1e-9)
	assert.Greater(t, fast, neutral)
	assert.Greater(t, neutral, slow)
}

func TestScore_BackfillDecay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowSize = time.Hour
	cfg.MinDataPoints = 3
	tr, clk := newTestTracker(t, cfg)

	// Three successes, then a quiet 90 minutes, then one more. The window
	// holds a single record, so two older ones are backfilled at
	// decay = 0.9^1.5 ~= 0.8538: success kept, confidence faded.
	for i := 0; i < 3; i++ {
		tr.Record("A", "B", true, 1.0, nil)
	}
	clk.Advance(90 * time.Minute)
	tr.Record("A", "B", true, 1.0, nil)

	// success_rate=1.0, avg_confidence=(1.0 + 2*0.8538)/3 ~= 0.9025,
	// neutral speed -> 0.6 + 0.2708 + 0.05 ~= 0.9208.
	assert.InDelta(t, 0.9208, tr.Score("A", "B"), 0.001)
}

func TestScore_BackfillDecayCutoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowSize = time.Hour
	cfg.MinDataPoints = 2
	tr, clk := newTestTracker(t, cfg)

	// Records aged eight windows decay to 0.9^8 ~= 0.4305 < 0.5: a backfilled
	// success flips to failure and its confidence fades with it.
	tr.Record("A", "B", true, 1.0, nil)
	tr.Record("A", "B", true, 1.0, nil)
	clk.Advance(8 * time.Hour)
	tr.Record("A", "B", true, 1.0, nil)

	// recent = fresh success (conf 1.0) + faded failure (conf 0.4305):
	// 0.6*0.5 + 0.3*0.7152 + 0.05 ~= 0.5646.
	assert.InDelta(t, 0.5646, tr.Score("A", "B"), 0.001)
}

func TestScore_OldRecordsOutsideWindowDoNotDepress(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowSize = time.Hour
	tr, clk := newTestTracker(t, cfg)

	// A->C carries old failures that fell out of the window; A->B does not.
	// Both have a full window of identical fresh successes, so backfill never
	// triggers and the scores must match exactly.
	for i := 0; i < 5; i++ {
		tr.Record("A", "C", false, 0.9, nil)
	}
	clk.Advance(2 * time.Hour)
	for i := 0; i < 5; i++ {
		tr.Record("A", "B", true, 0.9, nil)
		tr.Record("A", "C", true, 0.9, nil)
	}

	assert.Equal(t, tr.Score("A", "B"), tr.Score("A", "C"))
}

func TestScore_LowSampleBias(t *testing.T) {
	tr, _ := newTestTracker(t, DefaultConfig())

	tr.Record("A", "good", true, 0.9, nil)
	tr.Record("A", "good", true, 0.9, nil)
	tr.Record("A", "bad", false, 0.1, nil)
	tr.Record("A", "bad", false, 0.1, nil)

	// Two records is below MinDataPoints: the default is nudged by
	// (success_rate*0.6 + avg_confidence*0.4 - 0.5) * 0.2.
	score, basis := tr.Evaluate("A", "good")
	assert.InDelta(t, 0.592, score, 1e-9)
	assert.Equal(t, BasisLowSample, basis)

	score, basis = tr.Evaluate("A", "bad")
	assert.InDelta(t, 0.408, score, 1e-9)
	assert.Equal(t, BasisLowSample, basis)
}

func TestScore_StaleHistoryOnlyReturnsDefault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowSize = time.Hour
	tr, clk := newTestTracker(t, cfg)

	// Two records, both stale, total below MinDataPoints: backfill is not
	// allowed and the untouched default comes back.
	tr.Record("A", "B", false, 0.2, nil)
	tr.Record("A", "B", false, 0.2, nil)
	clk.Advance(3 * time.Hour)

	score, basis := tr.Evaluate("A", "B")
	assert.Equal(t, 0.5, score)
	assert.Equal(t, BasisNoData, basis)
}

func TestScore_CacheHitWithinValidity(t *testing.T) {
	tr, clk := newTestTracker(t, DefaultConfig())

	for i := 0; i < 5; i++ {
		tr.Record("A", "B", true, 0.9, nil)
	}
	require.InDelta(t, 0.92, tr.Score("A", "B"), 1e-9)
	require.Equal(t, 1, tr.CachedCount())

	// Slip a failure into the history behind the tracker's back. Within
	// CacheValidity the cached score is served as-is — stale-within-TTL is
	// accepted behavior for reads that bypass Record.
	tr.mu.Lock()
	p := Pair{Source: "A", Target: "B"}
	tr.history[p] = append(tr.history[p], Observation{
		Timestamp: clk.Now(), Success: false, Confidence: 0.9,
	})
	tr.mu.Unlock()

	assert.InDelta(t, 0.92, tr.Score("A", "B"), 1e-9)

	// Past the TTL the recompute sees all six records:
	// 0.6*(5/6) + 0.27 + 0.05 = 0.82.
	clk.Advance(6 * time.Minute)
	assert.InDelta(t, 0.82, tr.Score("A", "B"), 1e-9)
}

func TestScore_RecordInvalidatesCache(t *testing.T) {
	tr, _ := newTestTracker(t, DefaultConfig())

	for i := 0; i < 5; i++ {
		tr.Record("A", "B", true, 0.9, nil)
	}
	require.InDelta(t, 0.92, tr.Score("A", "B"), 1e-9)

	// A recorded outcome must show up in the very next score, no matter how
	// fresh the cache entry is.
	tr.Record("A", "B", false, 0.9, nil)
	assert.InDelta(t, 0.82, tr.Score("A", "B"), 1e-9)
}

func TestEvaluate_CacheHitReportsComputed(t *testing.T) {
	tr, _ := newTestTracker(t, DefaultConfig())

	for i := 0; i < 5; i++ {
		tr.Record("A", "B", true, 0.9, nil)
	}
	_, basis := tr.Evaluate("A", "B")
	require.Equal(t, BasisComputed, basis)

	// Second call is served from cache; only computed scores are cached.
	_, basis = tr.Evaluate("A", "B")
	assert.Equal(t, BasisComputed, basis)
	assert.Equal(t, 1, tr.CachedCount())
}

func TestEvaluate_LowSampleNotCached(t *testing.T) {
	tr, _ := newTestTracker(t, DefaultConfig())

	tr.Record("A", "B", true, 0.9, nil)
	_, basis := tr.Evaluate("A", "B")
	assert.Equal(t, BasisLowSample, basis)
	assert.Equal(t, 0, tr.CachedCount())
}

func TestBasis_String(t *testing.T) {
	assert.Equal(t, "no_data", BasisNoData.String())
	assert.Equal(t, "low_sample", BasisLowSample.String())
	assert.Equal(t, "computed", BasisComputed.String())
}

func TestBestTarget_EmptyCandidates(t *testing.T) {
	tr, _ := newTestTracker(t, DefaultConfig())

	// A recoverable condition, not an error: empty sentinel plus a warning.
	target, score := tr.BestTarget("A", nil)
	assert.Equal(t, "", target)
	assert.Equal(t, 0.0, score)

	target, score = tr.BestTarget("A", []string{})
	assert.Equal(t, "", target)
	assert.Equal(t, 0.0, score)
}

func TestBestTarget_TieKeepsFirst(t *testing.T) {
	tr, _ := newTestTracker(t, DefaultConfig())

	// No history for either candidate: both score the default, first wins.
	target, score := tr.BestTarget("A", []string{"x", "y"})
	assert.Equal(t, "x", target)
	assert.Equal(t, 0.5, score)
}

func TestAlternatives_ThresholdFiltersNoise(t *testing.T) {
	tr, _ := newTestTracker(t, DefaultConfig())

	for i := 0; i < 5; i++ {
		tr.Record("A", "B", true, 0.9, nil)  // 0.92
		tr.Record("A", "C", false, 0.1, nil) // 0.08
	}

	// Nothing beats 0.92 + 0.1.
	assert.Empty(t, tr.Alternatives("A", "B", nil))
}

func TestAlternatives_SortedAndExcludesCurrent(t *testing.T) {
	tr, _ := newTestTracker(t, DefaultConfig())

	for i := 0; i < 5; i++ {
		tr.Record("A", "B", true, 0.9, nil)  // 0.92
		tr.Record("A", "C", false, 0.1, nil) // 0.08
		tr.Record("A", "D", true, 0.5, nil)  // 0.80
	}

	// Candidates omitted: every observed target for A except the current one.
	alts := tr.Alternatives("A", "C", nil)
	require.Len(t, alts, 2)
	assert.Equal(t, "B", alts[0].Target)
	assert.InDelta(t, 0.92, alts[0].Score, 1e-9)
	assert.Equal(t, "D", alts[1].Target)
	assert.InDelta(t, 0.80, alts[1].Score, 1e-9)
}

func TestAlternatives_ExplicitCandidates(t *testing.T) {
	tr, _ := newTestTracker(t, DefaultConfig())

	for i := 0; i < 5; i++ {
		tr.Record("A", "B", true, 0.9, nil)
		tr.Record("A", "C", false, 0.1, nil)
		tr.Record("A", "D", true, 0.5, nil)
	}

	alts := tr.Alternatives("A", "C", []string{"D"})
	require.Len(t, alts, 1)
	assert.Equal(t, "D", alts[0].Target)

	// An explicitly empty list means "no candidates", not "all observed".
	assert.Empty(t, tr.Alternatives("A", "C", []string{}))
}

func TestMatrix_DefaultsToObservedPairs(t *testing.T) {
	tr, _ := newTestTracker(t, DefaultConfig())

	for i := 0; i < 5; i++ {
		tr.Record("A", "B", true, 0.9, nil)
		tr.Record("A", "C", false, 0.1, nil)
		tr.Record("X", "B", true, 0.9, nil)
	}

	m := tr.Matrix(nil, nil)
	require.Len(t, m, 2)
	require.Contains(t, m, "A")
	require.Contains(t, m, "X")

	// Targets are the union across selected sources; unseen cells fall back
	// to the default score.
	assert.InDelta(t, 0.92, m["A"]["B"], 1e-9)
	assert.InDelta(t, 0.08, m["A"]["C"], 1e-9)
	assert.InDelta(t, 0.92, m["X"]["B"], 1e-9)
	assert.Equal(t, 0.5, m["X"]["C"])
}

func TestMatrix_ExplicitSelection(t *testing.T) {
	tr, _ := newTestTracker(t, DefaultConfig())

	for i := 0; i < 5; i++ {
		tr.Record("A", "B", true, 0.9, nil)
		tr.Record("X", "B", true, 0.2, nil)
	}

	m := tr.Matrix([]string{"A"}, []string{"B", "Z"})
	require.Len(t, m, 1)
	require.Len(t, m["A"], 2)
	assert.InDelta(t, 0.92, m["A"]["B"], 1e-9)
	assert.Equal(t, 0.5, m["A"]["Z"])
}

func TestObservedSourcesAndTargets(t *testing.T) {
	tr, _ := newTestTracker(t, DefaultConfig())

	tr.Record("b-src", "t2", true, 1.0, nil)
	tr.Record("a-src", "t1", true, 1.0, nil)
	tr.Record("a-src", "t0", true, 1.0, nil)

	assert.Equal(t, []string{"a-src", "b-src"}, tr.ObservedSources())
	assert.Equal(t, []string{"t0", "t1"}, tr.ObservedTargets("a-src"))
	assert.Empty(t, tr.ObservedTargets("missing"))
}
