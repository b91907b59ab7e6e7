// Package anthropic implements llm.LLMClient on the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"genforge/pkg/llm"
	"genforge/pkg/llm/llmerrors"
	"genforge/pkg/tools"
)

// ClaudeClient wraps the Anthropic API client.
type ClaudeClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaudeClientWithModel creates a raw client; middleware is applied by the caller.
func NewClaudeClientWithModel(apiKey, model string, opts ...option.RequestOption) llm.LLMClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &ClaudeClient{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}
}

// Complete implements llm.LLMClient.
//
//nolint:gocritic // CompletionRequest passed by value to match the interface
func (c *ClaudeClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	systemPrompt, rest := llm.SplitSystem(in.Messages)
	messages, err := convertMessages(rest)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion failed")
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(in.MaxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if len(in.Tools) > 0 {
		params.Tools = convertTools(in.Tools)
		switch in.ToolChoice {
		case llm.ToolChoiceAny:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		default:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty response from Claude API")
	}

	var out llm.CompletionResponse
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			out.Content += block.AsText().Text
		case "tool_use":
			toolUse := block.AsToolUse()
			var args map[string]any
			if err := json.Unmarshal(toolUse.Input, &args); err != nil {
				return llm.CompletionResponse{}, fmt.Errorf("failed to parse tool input: %w", err)
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: toolUse.ID, Name: toolUse.Name, Parameters: args})
		}
	}
	out.StopReason = string(resp.StopReason)
	return out, nil
}

// GetModelName returns the model name for this client.
func (c *ClaudeClient) GetModelName() string {
	return string(c.model)
}

// convertMessages maps turns to content blocks. Tool calls become tool_use
// blocks on the assistant turn and tool results become tool_result blocks on
// the following user turn. Consecutive same-role turns are merged.
func convertMessages(msgs []llm.CompletionMessage) ([]anthropic.MessageParam, error) {
	if len(msgs) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}

	var out []anthropic.MessageParam
	for i := range msgs {
		msg := &msgs[i]
		var blocks []anthropic.ContentBlockParamUnion

		for j := range msg.ToolResults {
			tr := &msg.ToolResults[j]
			blocks = append(blocks, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		if msg.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
		}
		for j := range msg.ToolCalls {
			tc := &msg.ToolCalls[j]
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Parameters, tc.Name))
		}
		if len(blocks) == 0 {
			continue
		}

		role := anthropic.MessageParamRoleUser
		if msg.Role == llm.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			continue
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}

	if len(out) == 0 || out[0].Role != anthropic.MessageParamRoleUser {
		return nil, fmt.Errorf("first message must be user role")
	}
	return out, nil
}

func convertTools(defs []tools.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		schema := def.InputSchema.AsMap()
		tool := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema["properties"],
				Required:   def.InputSchema.Required,
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out
}

func classifyError(err error) *llmerrors.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request canceled")
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llmerrors.FromStatus(apiErr.StatusCode, err)
	}
	return llmerrors.FromStatus(0, err)
}
