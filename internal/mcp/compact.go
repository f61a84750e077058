package mcp

import (
	"fmt"
	"time"

	"github.com/ashita-ai/keiro/internal/reliability"
)

// compactStats returns a minimal representation of engine stats for MCP
// responses. Nil averages (nothing matched the filters, or no latency-bearing
// records) are omitted rather than reported as null, and latency is converted
// to milliseconds so agents never see Go duration encoding.
func compactStats(st reliability.Stats) map[string]any {
	m := map[string]any{
		"total_records": st.TotalRecords,
		"sources":       st.Sources,
		"targets":       st.Targets,
	}
	if st.AvgSuccessRate != nil {
		m["avg_success_rate"] = *st.AvgSuccessRate
	}
	if st.AvgConfidence != nil {
		m["avg_confidence"] = *st.AvgConfidence
	}
	if st.AvgLatency != nil {
		m["avg_latency_ms"] = float64(*st.AvgLatency) / float64(time.Millisecond)
	}
	return m
}

// scoreNote produces a human-readable caveat for a scored route (rule-based,
// not LLM). Rules are evaluated in priority order; first match wins. Returns
// "" when the score needs no caveat.
func scoreNote(score float64, basis reliability.Basis, records int) string {
	switch {
	case basis == reliability.BasisNoData:
		return "NOTE: no outcomes recorded for this route yet. The score is the configured default. Record outcomes after each delegation so future picks rest on data."

	case basis == reliability.BasisLowSample:
		return fmt.Sprintf("NOTE: only %d outcome(s) recorded for this route. The score is mostly the default, nudged by early results. Treat it as provisional.", records)

	case score < 0.3:
		return "NOTE: this route has been failing. Consider keiro_alternatives before delegating again."
	}
	return ""
}
