// Package openai implements llm.LLMClient on the OpenAI Chat Completions API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"genforge/pkg/llm"
	"genforge/pkg/llm/llmerrors"
	"genforge/pkg/tools"
)

// Client wraps the official OpenAI SDK.
type Client struct {
	client openai.Client
	model  string
}

// NewClientWithModel creates a raw client. A non-empty baseURL targets an
// OpenAI-compatible endpoint.
func NewClientWithModel(apiKey, model, baseURL string) llm.LLMClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{client: openai.NewClient(opts...), model: model}
}

// Complete implements llm.LLMClient.
//
//nolint:gocritic // CompletionRequest passed by value to match the interface
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages, err := convertMessages(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion failed")
	}

	params := openai.ChatCompletionNewParams{
		Model:               o.model,
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(in.MaxTokens)),
		Temperature:         openai.Float(float64(in.Temperature)),
	}
	if len(in.Tools) > 0 {
		params.Tools = convertTools(in.Tools)
		choice := "auto"
		if in.ToolChoice == llm.ToolChoiceAny {
			choice = "required"
		}
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(choice)}
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "no choices in OpenAI response")
	}

	choice := resp.Choices[0]
	out := llm.CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
	}
	for i := range choice.Message.ToolCalls {
		tc := &choice.Message.ToolCalls[i]
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return llm.CompletionResponse{}, fmt.Errorf("failed to parse tool arguments for %s: %w", tc.Function.Name, err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Function.Name, Parameters: args})
	}
	return out, nil
}

// GetModelName returns the model name for this client.
func (o *Client) GetModelName() string {
	return o.model
}

func convertMessages(msgs []llm.CompletionMessage) ([]openai.ChatCompletionMessageParamUnion, error) {
	if len(msgs) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for i := range msgs {
		msg := &msgs[i]
		switch msg.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			asst := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				asst.Content.OfString = openai.String(msg.Content)
			}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				args, err := json.Marshal(tc.Parameters)
				if err != nil {
					return nil, fmt.Errorf("encode tool call %s: %w", tc.Name, err)
				}
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		default:
			for j := range msg.ToolResults {
				tr := &msg.ToolResults[j]
				out = append(out, openai.ToolMessage(tr.Content, tr.ToolCallID))
			}
			if msg.Content != "" {
				out = append(out, openai.UserMessage(msg.Content))
			}
		}
	}
	return out, nil
}

func convertTools(defs []tools.ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  openai.FunctionParameters(def.InputSchema.AsMap()),
			},
		})
	}
	return out
}

func classifyError(err error) *llmerrors.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request canceled or timed out")
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return llmerrors.FromStatus(apiErr.StatusCode, err)
	}
	return llmerrors.FromStatus(0, err)
}
