// Package toolloop runs a model/tool exchange until the model stops calling tools
// or the step budget runs out.
package toolloop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"genforge/pkg/llm"
	"genforge/pkg/logx"
	"genforge/pkg/tools"
)

// DefaultMaxSteps bounds one loop when Config.MaxSteps is unset.
const DefaultMaxSteps = 15

// ErrStepBudgetExceeded is returned when the loop used all of its steps
// without the model producing a final answer.
var ErrStepBudgetExceeded = errors.New("tool loop step budget exceeded")

// ToolProvider is what the loop needs from a tool set.
type ToolProvider interface {
	Get(name string) (tools.Tool, error)
	Definitions() []tools.ToolDefinition
}

// ToolLoop manages model interactions with tool calling.
type ToolLoop struct {
	llmClient llm.LLMClient
	logger    *logx.Logger
}

// New creates a new ToolLoop.
func New(llmClient llm.LLMClient, logger *logx.Logger) *ToolLoop {
	if logger == nil {
		logger = logx.NewLogger("toolloop")
	}
	return &ToolLoop{llmClient: llmClient, logger: logger}
}

// Config defines one run of the loop.
//
//nolint:govet // fieldalignment: ordered for clarity
type Config struct {
	SystemPrompt  string
	InitialPrompt string
	ToolProvider  ToolProvider

	// MaxSteps counts every model call and every tool round.
	MaxSteps    int
	MaxTokens   int
	Temperature float32

	// OnToolResult, when set, observes each executed call.
	OnToolResult func(call llm.ToolCall, result llm.ToolResult)
}

// Result is the outcome of a completed loop.
type Result struct {
	Content   string
	Steps     int
	ToolCalls int
}

// Run executes the loop. Tool failures are fed back to the model as error
// results; only model failures and budget exhaustion end the loop with an error.
func (tl *ToolLoop) Run(ctx context.Context, cfg *Config) (Result, error) {
	if cfg.ToolProvider == nil {
		return Result{}, fmt.Errorf("ToolProvider is required")
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = llm.DefaultMaxTokens
	}

	var messages []llm.CompletionMessage
	if cfg.SystemPrompt != "" {
		messages = append(messages, llm.NewSystemMessage(cfg.SystemPrompt))
	}
	messages = append(messages, llm.NewUserMessage(cfg.InitialPrompt))
	toolDefs := cfg.ToolProvider.Definitions()

	var res Result
	for res.Steps < cfg.MaxSteps {
		req := llm.CompletionRequest{
			Messages:    messages,
			Tools:       toolDefs,
			ToolChoice:  llm.ToolChoiceAuto,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}

		start := time.Now()
		resp, err := tl.llmClient.Complete(ctx, req)
		res.Steps++
		if err != nil {
			tl.logger.Error("LLM call failed after %.3gs: %v", time.Since(start).Seconds(), err)
			return res, fmt.Errorf("LLM completion failed: %w", err)
		}
		tl.logger.Debug("LLM call completed in %.3gs, %d chars, %d tool calls",
			time.Since(start).Seconds(), len(resp.Content), len(resp.ToolCalls))

		messages = append(messages, llm.CompletionMessage{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			res.Content = resp.Content
			return res, nil
		}

		if res.Steps >= cfg.MaxSteps {
			break
		}

		results := make([]llm.ToolResult, len(resp.ToolCalls))
		for i := range resp.ToolCalls {
			results[i] = tl.execute(ctx, cfg, &resp.ToolCalls[i])
			res.ToolCalls++
		}
		messages = append(messages, llm.CompletionMessage{Role: llm.RoleUser, ToolResults: results})
		res.Steps++
	}

	tl.logger.Warn("Maximum tool steps (%d) reached", cfg.MaxSteps)
	return res, fmt.Errorf("%w: maximum tool steps (%d) exceeded", ErrStepBudgetExceeded, cfg.MaxSteps)
}

func (tl *ToolLoop) execute(ctx context.Context, cfg *Config, call *llm.ToolCall) llm.ToolResult {
	result := llm.ToolResult{ToolCallID: call.ID, Name: call.Name}

	tool, err := cfg.ToolProvider.Get(call.Name)
	if err == nil {
		var out *tools.ExecResult
		out, err = tool.Exec(ctx, call.Parameters)
		if err == nil {
			result.Content = out.Content
		}
	}
	if err != nil {
		tl.logger.Warn("Tool %s failed: %v", call.Name, err)
		result.Content = "Error: " + err.Error()
		result.IsError = true
	}

	if cfg.OnToolResult != nil {
		cfg.OnToolResult(*call, result)
	}
	return result
}
