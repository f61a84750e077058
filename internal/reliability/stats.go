package reliability

import (
	"sort"
	"time"
)

// Stats aggregates raw observation records — not decayed scores — matching
// the optional source/target filters. Averages are nil when no records match.
type Stats struct {
	TotalRecords   int
	Sources        []string
	Targets        []string
	AvgSuccessRate *float64
	AvgConfidence  *float64
	AvgLatency     *time.Duration // over latency-bearing records only
}

// Stats reports aggregate health numbers. Empty source and target mean "no
// filter"; either may be set independently.
func (t *Tracker) Stats(source, target string) Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var (
		total        int
		successes    int
		confSum      float64
		latencySum   time.Duration
		latencyCount int
	)
	sources := make(map[string]struct{})
	targets := make(map[string]struct{})

	for p, recs := range t.history {
		if source != "" && p.Source != source {
			continue
		}
		if target != "" && p.Target != target {
			continue
		}
		sources[p.Source] = struct{}{}
		targets[p.Target] = struct{}{}
		total += len(recs)
		for _, r := range recs {
			if r.Success {
				successes++
			}
			confSum += r.Confidence
			if r.Latency != nil {
				latencySum += *r.Latency
				latencyCount++
			}
		}
	}

	st := Stats{
		TotalRecords: total,
		Sources:      sortedKeys(sources),
		Targets:      sortedKeys(targets),
	}
	if total > 0 {
		rate := float64(successes) / float64(total)
		conf := confSum / float64(total)
		st.AvgSuccessRate = &rate
		st.AvgConfidence = &conf
	}
	if latencyCount > 0 {
		avg := latencySum / time.Duration(latencyCount)
		st.AvgLatency = &avg
	}
	return st
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
