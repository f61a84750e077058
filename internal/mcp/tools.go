package mcp

import (
	"context"
	"encoding/json"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/keiro/internal/auth"
	"github.com/ashita-ai/keiro/internal/ctxutil"
	"github.com/ashita-ai/keiro/internal/model"
)

func (s *Server) registerTools() {
	// keiro_best_target — pick the most reliable target before delegating.
	s.mcpServer.AddTool(
		mcplib.NewTool("keiro_best_target",
			mcplib.WithDescription(`Pick the most reliable target for a task, based on recorded outcomes.

WHEN TO USE: BEFORE delegating any task. Route to whoever has been
delivering results for you, not whoever happens to be listed first.

Scores blend success rate, reported confidence, and speed, with newer
outcomes weighing more. Exact ties go to the earliest candidate in your
list. If you omit candidates, every target you have recorded outcomes
for is considered.

WHAT YOU GET BACK:
- target: the best candidate
- reliability: its score in [0,1]
- a caveat when the pick rests on little or no data

EXAMPLE: Before delegating a summarization task, call keiro_best_target
with source="planner", candidates=["worker-1","worker-2","worker-3"].`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("source",
				mcplib.Description("Who is delegating the task. Scores are per source: the same target can be reliable for one caller and flaky for another."),
				mcplib.Required(),
			),
			mcplib.WithArray("candidates",
				mcplib.Description("Candidate target IDs to choose among. Omit to consider every target observed for this source."),
				mcplib.Items(map[string]any{"type": "string"}),
			),
		),
		s.handleBestTarget,
	)

	// keiro_record_outcome — feed the engine after each delegation.
	s.mcpServer.AddTool(
		mcplib.NewTool("keiro_record_outcome",
			mcplib.WithDescription(`Record the outcome of a delegated task so future routing learns from it.

IMPORTANT: Call this after EVERY delegation, success or failure. The
engine only knows what you report; unreported outcomes leave scores
stale and routing blind.

WHAT TO INCLUDE:
- target: who executed the task
- success: whether the result was acceptable
- confidence: how confident you are in that judgement (0.0-1.0)
- latency_ms: how long execution took, if you measured it

EXAMPLE: After worker-3 returns a summary that passes validation, record
target="worker-3", success=true, confidence=0.9, latency_ms=1240.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("source",
				mcplib.Description("Who delegated the task. Defaults to your authenticated identity if omitted."),
			),
			mcplib.WithString("target",
				mcplib.Description("Who executed the task"),
				mcplib.Required(),
			),
			mcplib.WithBoolean("success",
				mcplib.Description("Whether the task outcome was acceptable"),
				mcplib.Required(),
			),
			mcplib.WithNumber("confidence",
				mcplib.Description("How confident you are in the success judgement (0.0 = guessing, 1.0 = certain)"),
				mcplib.Required(),
				mcplib.Min(0),
				mcplib.Max(1),
			),
			mcplib.WithNumber("latency_ms",
				mcplib.Description("Task execution time in milliseconds, if measured"),
				mcplib.Min(0),
			),
		),
		s.handleRecordOutcome,
	)

	// keiro_alternatives — find targets worth switching to.
	s.mcpServer.AddTool(
		mcplib.NewTool("keiro_alternatives",
			mcplib.WithDescription(`Find targets meaningfully more reliable than the one you are using.

WHEN TO USE: When a route keeps failing and you are considering a
switch. Only targets that beat the current score by the configured
margin are returned, best first. An empty list means no switch is
worth the churn.

Omit candidates to consider every target observed for this source.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("source",
				mcplib.Description("Who is delegating the task"),
				mcplib.Required(),
			),
			mcplib.WithString("current_target",
				mcplib.Description("The target currently handling this kind of task"),
				mcplib.Required(),
			),
			mcplib.WithArray("candidates",
				mcplib.Description("Candidate target IDs to consider. Omit to consider every target observed for this source."),
				mcplib.Items(map[string]any{"type": "string"}),
			),
		),
		s.handleAlternatives,
	)

	// keiro_reliability — inspect one route's score.
	s.mcpServer.AddTool(
		mcplib.NewTool("keiro_reliability",
			mcplib.WithDescription(`Look up the reliability score for one source-to-target route.

WHEN TO USE: When you need the engine's current opinion of a specific
route, to debug a pick or decide whether a target needs attention.
For choosing among several targets, use keiro_best_target instead.

WHAT YOU GET BACK:
- reliability: blended score in [0,1] from success rate, confidence,
  and speed, with newer outcomes weighing more
- basis: "computed" (enough history), "low_sample" (only a few
  observations), or "no_data" (the configured default)`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("source",
				mcplib.Description("The delegating side of the route"),
				mcplib.Required(),
			),
			mcplib.WithString("target",
				mcplib.Description("The executing side of the route"),
				mcplib.Required(),
			),
		),
		s.handleReliability,
	)

	// keiro_stats — aggregate view over recorded outcomes.
	s.mcpServer.AddTool(
		mcplib.NewTool("keiro_stats",
			mcplib.WithDescription(`Aggregate health numbers over recorded outcomes.

WHEN TO USE: For a quick overview of what the engine has seen: how many
outcomes, which sources and targets, average success rate, confidence,
and latency. Filter by source and/or target to narrow the view.

Averages are over raw records with no recency weighting, and are
omitted when nothing matches the filters.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("source",
				mcplib.Description("Optional: only count outcomes delegated by this source"),
			),
			mcplib.WithString("target",
				mcplib.Description("Optional: only count outcomes executed by this target"),
			),
		),
		s.handleStats,
	)

	// keiro_prune — drop stale history.
	s.mcpServer.AddTool(
		mcplib.NewTool("keiro_prune",
			mcplib.WithDescription(`Drop outcome records older than a cutoff. Requires the admin role.

WHEN TO USE: Rarely by hand. The server already prunes expired records
on a schedule. Reach for this after a topology change, when history
from a retired deployment should stop informing scores.

Omit max_age_seconds to use the default retention of twice the scoring
window. max_age_seconds=0 removes all records.`),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithNumber("max_age_seconds",
				mcplib.Description("Age cutoff in seconds. Records older than this are removed."),
				mcplib.Min(0),
			),
		),
		s.handlePrune,
	)
}

func (s *Server) handleBestTarget(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	source := request.GetString("source", "")
	if source == "" {
		return errorResult("source is required"), nil
	}

	candidates := request.GetStringSlice("candidates", nil)
	if len(candidates) == 0 {
		candidates = s.engine.ObservedTargets(source)
	}
	if len(candidates) == 0 {
		return errorResult("no candidates to choose from: pass a candidates list or record outcomes for this source first"), nil
	}

	best, score := s.engine.BestTarget(source, candidates)
	_, basis := s.engine.Evaluate(source, best)

	resultData, _ := json.MarshalIndent(map[string]any{
		"source":                source,
		"target":                best,
		"reliability":           score,
		"candidates_considered": len(candidates),
	}, "", "  ")

	contents := []mcplib.Content{
		mcplib.TextContent{Type: "text", Text: string(resultData)},
	}
	if note := scoreNote(score, basis, s.engine.PairRecords(source, best)); note != "" {
		contents = append(contents, mcplib.TextContent{Type: "text", Text: note})
	}

	return &mcplib.CallToolResult{Content: contents}, nil
}

func (s *Server) handleRecordOutcome(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	claims := ctxutil.ClaimsFromContext(ctx)
	if claims != nil && !model.RoleAtLeast(claims.Role, model.RoleAgent) {
		return errorResult("recording outcomes requires the agent role"), nil
	}

	// Default source to the caller's authenticated identity.
	source := request.GetString("source", "")
	if source == "" {
		if claims != nil {
			source = claims.ClientID
		} else {
			return errorResult("source is required"), nil
		}
	}
	if err := model.ValidateAgentID("source", source); err != nil {
		return errorResult(err.Error()), nil
	}

	target := request.GetString("target", "")
	if target == "" {
		return errorResult("target is required"), nil
	}
	if err := model.ValidateAgentID("target", target); err != nil {
		return errorResult(err.Error()), nil
	}

	success, err := request.RequireBool("success")
	if err != nil {
		return errorResult("success is required and must be a boolean"), nil
	}

	confidence, err := request.RequireFloat("confidence")
	if err != nil {
		return errorResult("confidence is required and must be a number"), nil
	}
	if err := model.ValidateConfidence(confidence); err != nil {
		return errorResult(err.Error()), nil
	}

	var latency *time.Duration
	if _, ok := request.GetArguments()["latency_ms"]; ok {
		ms := request.GetFloat("latency_ms", 0)
		if err := model.ValidateLatencyMS(ms); err != nil {
			return errorResult(err.Error()), nil
		}
		d := time.Duration(ms * float64(time.Millisecond))
		latency = &d
	}

	s.engine.Record(source, target, success, confidence, latency)

	resultData, _ := json.Marshal(map[string]any{
		"source":  source,
		"target":  target,
		"records": s.engine.PairRecords(source, target),
		"status":  "recorded",
	})

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func (s *Server) handleAlternatives(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	source := request.GetString("source", "")
	current := request.GetString("current_target", "")
	if source == "" || current == "" {
		return errorResult("source and current_target are required"), nil
	}

	candidates := request.GetStringSlice("candidates", nil)
	alts := s.engine.Alternatives(source, current, candidates)

	items := make([]map[string]any, 0, len(alts))
	for _, a := range alts {
		items = append(items, map[string]any{
			"target":      a.Target,
			"reliability": a.Score,
		})
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"source":              source,
		"current_target":      current,
		"current_reliability": s.engine.Score(source, current),
		"alternatives":        items,
		"total":               len(items),
	}, "", "  ")

	contents := []mcplib.Content{
		mcplib.TextContent{Type: "text", Text: string(resultData)},
	}
	if len(items) == 0 {
		contents = append(contents, mcplib.TextContent{
			Type: "text",
			Text: "NOTE: no alternative clears the switching margin. Staying with the current target avoids route churn.",
		})
	}

	return &mcplib.CallToolResult{Content: contents}, nil
}

func (s *Server) handleReliability(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	source := request.GetString("source", "")
	target := request.GetString("target", "")
	if source == "" || target == "" {
		return errorResult("source and target are required"), nil
	}

	score, basis := s.engine.Evaluate(source, target)

	resultData, _ := json.MarshalIndent(map[string]any{
		"source":      source,
		"target":      target,
		"reliability": score,
		"basis":       basis.String(),
	}, "", "  ")

	contents := []mcplib.Content{
		mcplib.TextContent{Type: "text", Text: string(resultData)},
	}
	if note := scoreNote(score, basis, s.engine.PairRecords(source, target)); note != "" {
		contents = append(contents, mcplib.TextContent{Type: "text", Text: note})
	}

	return &mcplib.CallToolResult{Content: contents}, nil
}

func (s *Server) handleStats(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	source := request.GetString("source", "")
	target := request.GetString("target", "")

	st := s.engine.Stats(source, target)

	resultData, _ := json.MarshalIndent(compactStats(st), "", "  ")

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func (s *Server) handlePrune(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	claims := ctxutil.ClaimsFromContext(ctx)
	if claims != nil && !model.RoleAtLeast(claims.Role, model.RoleAdmin) {
		return errorResult("pruning history requires the admin role"), nil
	}

	var removed int
	if _, ok := request.GetArguments()["max_age_seconds"]; ok {
		maxAge := request.GetFloat("max_age_seconds", 0)
		if maxAge < 0 {
			return errorResult("max_age_seconds must not be negative"), nil
		}
		removed = s.engine.Prune(time.Duration(maxAge * float64(time.Second)))
	} else {
		removed = s.engine.PruneExpired()
	}

	s.logger.Info("mcp: history pruned", "removed", removed, "client_id", clientID(claims))

	resultData, _ := json.Marshal(map[string]any{
		"removed": removed,
		"status":  "pruned",
	})

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func clientID(claims *auth.Claims) string {
	if claims == nil {
		return "anonymous"
	}
	return claims.ClientID
}
