package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// before-routing — guides the agent through picking a target on evidence.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("before-routing",
			mcplib.WithPromptDescription("Pick the most reliable target before delegating a task"),
			mcplib.WithArgument("source",
				mcplib.ArgumentDescription("Your agent identifier, the delegating side of the route"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleBeforeRoutingPrompt,
	)

	// after-task — reminds the agent to report the outcome.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("after-task",
			mcplib.WithPromptDescription("Record a delegation outcome after the task completes"),
			mcplib.WithArgument("target",
				mcplib.ArgumentDescription("The agent that executed the task"),
				mcplib.RequiredArgument(),
			),
			mcplib.WithArgument("success",
				mcplib.ArgumentDescription("Whether the result was acceptable (true or false)"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleAfterTaskPrompt,
	)

	// agent-setup — full system prompt snippet explaining the keiro routing workflow.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("agent-setup",
			mcplib.WithPromptDescription("System prompt snippet explaining the keiro routing workflow (route-by-evidence/report-every-outcome)"),
		),
		s.handleAgentSetupPrompt,
	)
}

func (s *Server) handleBeforeRoutingPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	source := request.Params.Arguments["source"]
	if source == "" {
		return nil, fmt.Errorf("source argument is required")
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Pick the most reliable target for %s", source),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Before delegating this task, follow these steps:

1. CALL keiro_best_target with source="%s" and the candidates you are
   considering. Omit candidates to rank every target you have history with.

2. REVIEW the response:
   - If the result carries no caveat, the pick rests on real history. Use it.
   - If the caveat says "low_sample" or "no_data", the score is mostly the
     configured default. The pick is still your best guess, but treat it as
     provisional and watch the result closely.
   - If the current route has been failing, call keiro_alternatives to see
     whether any candidate beats it by a meaningful margin.

3. DELEGATE the task to the chosen target.

4. REPORT the outcome afterwards by calling keiro_record_outcome with:
   - source="%s"
   - target: who executed the task
   - success: whether the result was acceptable
   - confidence: how sure you are of that judgement (0.0-1.0)
   - latency_ms: execution time, if you measured it`, source, source),
				},
			},
		},
	}, nil
}

func (s *Server) handleAfterTaskPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	target := request.Params.Arguments["target"]
	success := request.Params.Arguments["success"]
	if target == "" || success == "" {
		return nil, fmt.Errorf("target and success arguments are required")
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Record the outcome of the task %s executed", target),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`A delegated task just completed. Record the outcome now so routing keeps
learning from real results instead of stale scores.

CALL keiro_record_outcome with:
- target: "%s"
- success: %s
- confidence: how sure you are of that judgement (0.0-1.0). Be honest.
- latency_ms: how long execution took, if you measured it.

Judge success by whether the result was actually usable, not by whether
the target returned without error. A confident-sounding but wrong answer
is a failure. A slow but correct answer is a success with high latency.`, target, success),
				},
			},
		},
	}, nil
}

func (s *Server) handleAgentSetupPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	return &mcplib.GetPromptResult{
		Description: "keiro routing workflow for AI agents",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: `You have access to keiro, a reliability-aware router for multi-agent
delegation. It scores every source-to-target route from recorded task
outcomes -- successes, failures, confidence, and speed -- so delegation
follows evidence instead of a hardcoded list.

## The Pattern: Route by Evidence, Report Every Outcome

Every delegation should follow this workflow:

### Before delegating:
Call keiro_best_target with your source id and the candidates you are
considering. The engine ranks them by recorded reliability, weighing
recent outcomes more than old ones. Heed any caveat in the response:
a pick based on "no_data" or "low_sample" is a guess, not evidence.

### After the task:
Call keiro_record_outcome with what actually happened. This is not
optional bookkeeping: the engine only knows what you report, and every
unreported outcome leaves the scores a little more wrong.

## Available Tools

- keiro_best_target: Rank candidates and pick the most reliable (use FIRST)
- keiro_record_outcome: Report a task outcome (use AFTER every delegation)
- keiro_alternatives: Find targets meaningfully better than the current one
- keiro_reliability: Inspect one route's score and the basis behind it
- keiro_stats: Aggregate counts and averages over recorded outcomes
- keiro_prune: Drop stale history (admin only, rarely needed)

## Reading Scores

Scores live in [0, 1] and blend success rate, reported confidence, and
speed, with newer outcomes weighing more. The basis tells you how much
to trust one:
- "computed": enough history to mean something
- "low_sample": a few observations nudging the default
- "no_data": the configured default, nothing recorded yet

Small score differences are noise. The engine only suggests switching
routes when an alternative clears a configured margin, and so should you.

## Judging Success

Be honest when recording outcomes:
- success=true means the result was actually usable, not merely returned
- confidence is your certainty in that judgement (0.9 = verified it,
  0.5 = looks plausible, 0.2 = could not really tell)
- include latency_ms when you have it; slow routes lose score too`,
				},
			},
		},
	}, nil
}
