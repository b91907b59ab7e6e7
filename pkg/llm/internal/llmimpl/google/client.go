// Package google implements llm.LLMClient on the Gemini API.
package google

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"genforge/pkg/llm"
	"genforge/pkg/llm/llmerrors"
	"genforge/pkg/tools"
)

const (
	roleUser  = "user"
	roleModel = "model"
)

// GeminiClient creates the underlying genai client on first use.
type GeminiClient struct {
	mu     sync.Mutex
	client *genai.Client
	apiKey string
	model  string
}

// NewGeminiClientWithModel creates a raw client.
func NewGeminiClientWithModel(apiKey, model string) llm.LLMClient {
	return &GeminiClient{apiKey: apiKey, model: model}
}

func (g *GeminiClient) ensureClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, "failed to create Gemini client")
	}
	g.client = client
	return client, nil
}

// Complete implements llm.LLMClient.
//
//nolint:gocritic // CompletionRequest passed by value to match the interface
func (g *GeminiClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	client, err := g.ensureClient(ctx)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	systemInstruction, rest := llm.SplitSystem(in.Messages)
	contents, err := convertMessages(rest)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion failed")
	}

	temperature := in.Temperature
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(in.MaxTokens),
	}
	if systemInstruction != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemInstruction}}}
	}
	if len(in.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: convertTools(in.Tools)}}
		mode := genai.FunctionCallingConfigModeAuto
		if in.ToolChoice == llm.ToolChoiceAny {
			mode = genai.FunctionCallingConfigModeAny
		}
		config.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode}}
	}

	result, err := client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if result == nil || len(result.Candidates) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Gemini API")
	}

	out := llm.CompletionResponse{
		Content:    result.Text(),
		StopReason: string(result.Candidates[0].FinishReason),
	}
	for _, fc := range result.FunctionCalls() {
		id := fc.ID
		if id == "" {
			id = uuid.NewString()
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: id, Name: fc.Name, Parameters: fc.Args})
	}
	return out, nil
}

// GetModelName returns the model name for this client.
func (g *GeminiClient) GetModelName() string {
	return g.model
}

func convertMessages(msgs []llm.CompletionMessage) ([]*genai.Content, error) {
	if len(msgs) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}
	var contents []*genai.Content
	for i := range msgs {
		msg := &msgs[i]
		role := roleUser
		if msg.Role == llm.RoleAssistant {
			role = roleModel
		}

		var parts []*genai.Part
		if msg.Content != "" {
			parts = append(parts, &genai.Part{Text: msg.Content})
		}
		for j := range msg.ToolCalls {
			tc := &msg.ToolCalls[j]
			parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Parameters}})
		}
		for j := range msg.ToolResults {
			tr := &msg.ToolResults[j]
			parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:   tr.ToolCallID,
				Name: tr.Name,
				Response: map[string]any{
					"content":  tr.Content,
					"is_error": tr.IsError,
				},
			}})
		}
		if len(parts) > 0 {
			contents = append(contents, &genai.Content{Role: role, Parts: parts})
		}
	}
	return contents, nil
}

func convertTools(defs []tools.ToolDefinition) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, len(defs))
	for i := range defs {
		def := &defs[i]
		props := make(map[string]*genai.Schema, len(def.InputSchema.Properties))
		for name := range def.InputSchema.Properties {
			p := def.InputSchema.Properties[name]
			props[name] = convertProperty(&p)
		}
		out[i] = &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: props,
				Required:   def.InputSchema.Required,
			},
		}
	}
	return out
}

func convertProperty(prop *tools.Property) *genai.Schema {
	schema := &genai.Schema{Description: prop.Description, Enum: prop.Enum, Required: prop.Required}
	switch prop.Type {
	case "number":
		schema.Type = genai.TypeNumber
	case "integer":
		schema.Type = genai.TypeInteger
	case "boolean":
		schema.Type = genai.TypeBoolean
	case "array":
		schema.Type = genai.TypeArray
		if prop.Items != nil {
			schema.Items = convertProperty(prop.Items)
		}
	case "object":
		schema.Type = genai.TypeObject
		if len(prop.Properties) > 0 {
			schema.Properties = make(map[string]*genai.Schema, len(prop.Properties))
			for name, child := range prop.Properties {
				schema.Properties[name] = convertProperty(child)
			}
		}
	default:
		schema.Type = genai.TypeString
	}
	return schema
}

func classifyError(err error) *llmerrors.Error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return llmerrors.FromStatus(apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return llmerrors.FromStatus(apiErrPtr.Code, err)
	}
	return llmerrors.FromStatus(0, err)
}
