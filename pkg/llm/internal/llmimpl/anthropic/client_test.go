package anthropic

import (
	"context"
	"net/http"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genforge/pkg/llm"
	"genforge/pkg/llm/llmerrors"
	"genforge/pkg/plan"
	"genforge/pkg/testkit"
	"genforge/pkg/tools"
)

func newTestClient(srv *testkit.MockServer) llm.LLMClient {
	return NewClaudeClientWithModel("test-key", "claude-mock", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
}

func TestCompleteForcedToolCall(t *testing.T) {
	srv := testkit.MockAnthropicServer(testkit.MockReply{
		ToolName:  plan.SubmitPlanTool,
		ToolInput: map[string]any{"name": "site", "description": "a site"},
	})
	defer srv.Close()

	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage("be brief"),
		llm.NewUserMessage("plan a site"),
	})
	req.Tools = []tools.ToolDefinition{plan.PlanToolDefinition()}
	req.ToolChoice = llm.ToolChoiceAny

	resp, err := newTestClient(srv).Complete(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, plan.SubmitPlanTool, resp.ToolCalls[0].Name)
	assert.Equal(t, "site", resp.ToolCalls[0].Parameters["name"])
	assert.Equal(t, "tool_use", resp.StopReason)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	choice, ok := reqs[0]["tool_choice"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "any", choice["type"])
	assert.NotEmpty(t, reqs[0]["system"])
	assert.Len(t, reqs[0]["messages"], 1)
}

func TestCompleteRateLimited(t *testing.T) {
	srv := testkit.MockAnthropicServer(testkit.MockReply{Status: http.StatusTooManyRequests, ErrorMessage: "Rate limit reached"})
	defer srv.Close()

	client := llm.Chain(newTestClient(srv), llm.RateLimitMiddleware())
	_, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.Error(t, err)
	assert.True(t, llm.IsRateLimit(err))
	assert.Equal(t, llmerrors.ErrorTypeRateLimit, llmerrors.TypeOf(err))
}

func TestConvertMessagesMergesToolTurns(t *testing.T) {
	msgs := []llm.CompletionMessage{
		llm.NewUserMessage("write it"),
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "t1", Name: "write_file", Parameters: map[string]any{"path": "a"}}}},
		{Role: llm.RoleUser, ToolResults: []llm.ToolResult{{ToolCallID: "t1", Content: "WROTE:/a"}}},
		llm.NewUserMessage("continue"),
	}
	out, err := convertMessages(msgs)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Len(t, out[2].Content, 2, "tool result and follow-up text share one user turn")

	_, err = convertMessages([]llm.CompletionMessage{{Role: llm.RoleAssistant, Content: "hi"}})
	assert.Error(t, err)
}
