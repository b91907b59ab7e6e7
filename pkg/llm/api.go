// Package llm defines the provider-neutral completion interface used by the pipeline.
package llm

import (
	"context"
	"fmt"

	"genforge/pkg/tools"
)

// CompletionRole represents the role of a message in a conversation.
type CompletionRole string

const (
	RoleSystem    CompletionRole = "system"
	RoleUser      CompletionRole = "user"
	RoleAssistant CompletionRole = "assistant"
)

const (
	// DefaultMaxTokens caps a single completion when the caller does not.
	DefaultMaxTokens = 8192

	// TemperatureDefault is used for planning and decomposition.
	TemperatureDefault = 0.3
)

// Tool choice values.
const (
	ToolChoiceAuto = "auto"
	ToolChoiceAny  = "any"
)

// ToolCall represents a tool call made by the model.
type ToolCall struct {
	Parameters map[string]any `json:"parameters"`
	ID         string         `json:"id"`
	Name       string         `json:"name"`
}

// ToolResult answers a ToolCall in the next user turn.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// CompletionMessage is one conversation turn. Assistant turns may carry
// ToolCalls; the following user turn carries the matching ToolResults.
type CompletionMessage struct {
	Role        CompletionRole
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// CompletionRequest represents a request to generate a completion.
//
//nolint:govet // fieldalignment: grouped for readability
type CompletionRequest struct {
	Messages    []CompletionMessage
	Tools       []tools.ToolDefinition
	ToolChoice  string
	MaxTokens   int
	Temperature float32
}

// CompletionResponse represents a response from a completion request.
type CompletionResponse struct {
	ToolCalls  []ToolCall
	Content    string
	StopReason string
}

// LLMClient defines the interface for language model interactions.
type LLMClient interface { //nolint:revive // name mirrors the provider packages
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)

	// GetModelName returns the model name for this client.
	GetModelName() string
}

// NewCompletionRequest creates a request with default limits.
func NewCompletionRequest(messages []CompletionMessage) CompletionRequest {
	return CompletionRequest{
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: TemperatureDefault,
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleUser, Content: content}
}

// SplitSystem separates leading system messages (joined) from the rest.
// Providers that take the system prompt out of band use this.
func SplitSystem(msgs []CompletionMessage) (system string, rest []CompletionMessage) {
	for i := range msgs {
		if msgs[i].Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msgs[i].Content
			continue
		}
		rest = append(rest, msgs[i])
	}
	return system, rest
}

// LLMConfig represents configuration for a provider client.
type LLMConfig struct { //nolint:revive // see LLMClient
	Provider    string
	APIKey      string
	BaseURL     string
	ModelName   string
	MaxTokens   int
	Temperature float32
}

// Validate validates the client configuration. Local providers need no key.
func (c *LLMConfig) Validate() error {
	if c.APIKey == "" && c.Provider != "ollama" {
		return fmt.Errorf("API key cannot be empty")
	}
	if c.ModelName == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive")
	}
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	return nil
}
