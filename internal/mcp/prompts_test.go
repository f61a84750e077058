package mcp

import (
	"context"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func promptRequest(name string, args map[string]string) mcplib.GetPromptRequest {
	return mcplib.GetPromptRequest{
		Params: mcplib.GetPromptParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// promptText extracts the first user-message text from a prompt result.
func promptText(t *testing.T, result *mcplib.GetPromptResult) string {
	t.Helper()
	require.NotEmpty(t, result.Messages, "expected at least one message")
	msg := result.Messages[0]
	assert.Equal(t, mcplib.RoleUser, msg.Role)
	tc, ok := msg.Content.(mcplib.TextContent)
	require.True(t, ok, "message content should be TextContent")
	return tc.Text
}

func TestBeforeRoutingPrompt(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleBeforeRoutingPrompt(context.Background(),
		promptRequest("before-routing", map[string]string{"source": "planner"}))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Contains(t, result.Description, "planner")

	text := promptText(t, result)
	assert.Contains(t, text, "keiro_best_target",
		"prompt should instruct the agent to rank candidates first")
	assert.Contains(t, text, "keiro_record_outcome",
		"prompt should instruct the agent to report the outcome after")
	assert.Contains(t, text, `source="planner"`)
}

func TestBeforeRoutingPrompt_MissingSource(t *testing.T) {
	s := newTestServer(t)

	_, err := s.handleBeforeRoutingPrompt(context.Background(),
		promptRequest("before-routing", map[string]string{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source")
}

func TestAfterTaskPrompt(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleAfterTaskPrompt(context.Background(),
		promptRequest("after-task", map[string]string{
			"target":  "worker-3",
			"success": "true",
		}))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Contains(t, result.Description, "worker-3")

	text := promptText(t, result)
	assert.Contains(t, text, "keiro_record_outcome")
	assert.Contains(t, text, `"worker-3"`)
	assert.Contains(t, text, "confidence")
}

func TestAfterTaskPrompt_MissingArguments(t *testing.T) {
	s := newTestServer(t)

	_, err := s.handleAfterTaskPrompt(context.Background(),
		promptRequest("after-task", map[string]string{"target": "worker-3"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "success")
}

func TestAgentSetupPrompt(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleAgentSetupPrompt(context.Background(),
		promptRequest("agent-setup", nil))
	require.NoError(t, err)
	require.NotNil(t, result)

	text := promptText(t, result)

	// The setup snippet should name every tool an agent can call.
	for _, tool := range []string{
		"keiro_best_target",
		"keiro_record_outcome",
		"keiro_alternatives",
		"keiro_reliability",
		"keiro_stats",
		"keiro_prune",
	} {
		assert.Contains(t, text, tool)
	}

	// And explain how to read the basis values.
	assert.Contains(t, text, "computed")
	assert.Contains(t, text, "low_sample")
	assert.Contains(t, text, "no_data")
}
