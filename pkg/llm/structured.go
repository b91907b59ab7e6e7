package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"genforge/pkg/tools"
)

// ErrNoStructuredOutput is returned when the model produced nothing decodable into the target.
var ErrNoStructuredOutput = errors.New("no structured output")

// CompleteStructured forces the model to call submit (a single-tool schema
// describing out) and decodes the call's arguments into out. When the model
// answers in plain text instead, a JSON object in the content is accepted.
func CompleteStructured(ctx context.Context, client LLMClient, req CompletionRequest, submit tools.ToolDefinition, out any) error {
	req.Tools = []tools.ToolDefinition{submit}
	req.ToolChoice = ToolChoiceAny
	if req.MaxTokens <= 0 {
		req.MaxTokens = DefaultMaxTokens
	}

	resp, err := client.Complete(ctx, req)
	if err != nil {
		return err //nolint:wrapcheck // callers branch on provider error kinds
	}

	for i := range resp.ToolCalls {
		if resp.ToolCalls[i].Name != submit.Name {
			continue
		}
		raw, err := json.Marshal(resp.ToolCalls[i].Parameters)
		if err != nil {
			return fmt.Errorf("%w: encode %s arguments: %w", ErrNoStructuredOutput, submit.Name, err)
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: decode %s arguments: %w", ErrNoStructuredOutput, submit.Name, err)
		}
		return nil
	}

	body := extractJSONObject(resp.Content)
	if body == "" {
		return fmt.Errorf("%w: model did not call %s", ErrNoStructuredOutput, submit.Name)
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("%w: decode content: %w", ErrNoStructuredOutput, err)
	}
	return nil
}

// extractJSONObject returns the outermost {...} span of s, ignoring code fences.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
