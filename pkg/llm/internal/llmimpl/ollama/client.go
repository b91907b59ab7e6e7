// Package ollama implements llm.LLMClient against a local Ollama server.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"

	"genforge/pkg/llm"
	"genforge/pkg/llm/llmerrors"
	"genforge/pkg/tools"
)

// DefaultHostURL is used when no base URL is configured.
const DefaultHostURL = "http://localhost:11434"

// Client wraps the Ollama API client.
type Client struct {
	client *api.Client
	model  string
}

// NewOllamaClientWithModel creates a client for hostURL, falling back to DefaultHostURL.
func NewOllamaClientWithModel(hostURL, model string) llm.LLMClient {
	if hostURL == "" {
		hostURL = DefaultHostURL
	}
	parsed, err := url.Parse(hostURL)
	if err != nil {
		parsed, _ = url.Parse(DefaultHostURL)
	}
	return &Client{client: api.NewClient(parsed, http.DefaultClient), model: model}
}

// Complete implements llm.LLMClient.
//
//nolint:gocritic // CompletionRequest passed by value to match the interface
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages, err := convertMessages(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion failed")
	}

	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}
	if len(in.Tools) > 0 {
		req.Tools = convertTools(in.Tools)
	}

	var response api.ChatResponse
	err = o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}

	return llm.CompletionResponse{
		Content:    response.Message.Content,
		StopReason: stopReason(&response),
		ToolCalls:  convertToolCalls(response.Message.ToolCalls),
	}, nil
}

// GetModelName returns the model name for this client.
func (o *Client) GetModelName() string {
	return o.model
}

func convertMessages(messages []llm.CompletionMessage) ([]api.Message, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}
	result := make([]api.Message, 0, len(messages))
	for i := range messages {
		msg := &messages[i]

		// Tool results travel as separate "tool" role messages.
		for j := range msg.ToolResults {
			tr := &msg.ToolResults[j]
			result = append(result, api.Message{Role: "tool", Content: tr.Content, ToolCallID: tr.ToolCallID})
		}
		if len(msg.ToolResults) > 0 && msg.Content == "" {
			continue
		}

		m := api.Message{Role: string(msg.Role), Content: msg.Content}
		for j := range msg.ToolCalls {
			tc := &msg.ToolCalls[j]
			m.ToolCalls = append(m.ToolCalls, api.ToolCall{
				ID: tc.ID,
				Function: api.ToolCallFunction{
					Name:      tc.Name,
					Arguments: convertArguments(tc.Parameters),
				},
			})
		}
		result = append(result, m)
	}
	return result, nil
}

// convertArguments copies params in key order so repeated requests serialize identically.
func convertArguments(params map[string]any) api.ToolCallFunctionArguments {
	args := api.NewToolCallFunctionArguments()
	for _, k := range sortedKeys(params) {
		args.Set(k, params[k])
	}
	return args
}

func convertTools(defs []tools.ToolDefinition) api.Tools {
	out := make(api.Tools, len(defs))
	for i := range defs {
		def := &defs[i]
		props := api.NewToolPropertiesMap()
		for _, name := range sortedKeys(def.InputSchema.Properties) {
			p := def.InputSchema.Properties[name]
			props.Set(name, convertProperty(&p))
		}
		out[i] = api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       def.InputSchema.Type,
					Properties: props,
					Required:   def.InputSchema.Required,
				},
			},
		}
	}
	return out
}

func convertProperty(prop *tools.Property) api.ToolProperty {
	out := api.ToolProperty{
		Type:        api.PropertyType{prop.Type},
		Description: prop.Description,
	}
	if len(prop.Enum) > 0 {
		enum := make([]any, len(prop.Enum))
		for i, v := range prop.Enum {
			enum[i] = v
		}
		out.Enum = enum
	}
	if len(prop.Properties) > 0 {
		nested := api.NewToolPropertiesMap()
		for _, name := range sortedKeys(prop.Properties) {
			nested.Set(name, convertProperty(prop.Properties[name]))
		}
		out.Properties = nested
	}
	if prop.Items != nil {
		out.Items = prop.Items.AsMap()
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func convertToolCalls(calls []api.ToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, len(calls))
	for i := range calls {
		id := calls[i].ID
		if id == "" {
			id = uuid.NewString()
		}
		params := calls[i].Function.Arguments.ToMap()
		if params == nil {
			params = map[string]any{}
		}
		out[i] = llm.ToolCall{
			ID:         id,
			Name:       calls[i].Function.Name,
			Parameters: params,
		}
	}
	return out
}

func stopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}
	switch resp.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return resp.DoneReason
	}
}

func classifyError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return llmerrors.FromStatus(statusErr.StatusCode, err)
	}
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "model") && strings.Contains(errStr, "not found"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "Ollama model not found")
	default:
		return llmerrors.FromStatus(0, err)
	}
}
