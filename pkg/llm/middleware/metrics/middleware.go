// Package metrics provides metrics middleware for LLM clients.
package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"genforge/pkg/llm"
	"genforge/pkg/llm/llmerrors"
	"genforge/pkg/logx"
	pmetrics "genforge/pkg/metrics"
	"genforge/pkg/utils"
)

// UsageExtractor estimates token usage of a request/response pair.
type UsageExtractor func(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int)

// DefaultUsageExtractor counts message, tool-result and tool-call text with tiktoken.
func DefaultUsageExtractor(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int) {
	var prompt strings.Builder
	for i := range req.Messages {
		prompt.WriteString(req.Messages[i].Content)
		prompt.WriteByte('\n')
		for j := range req.Messages[i].ToolResults {
			prompt.WriteString(req.Messages[i].ToolResults[j].Content)
			prompt.WriteByte('\n')
		}
	}
	promptTokens = utils.CountTokensSimple(prompt.String())

	completion := resp.Content
	for i := range resp.ToolCalls {
		for _, v := range resp.ToolCalls[i].Parameters {
			if s, ok := v.(string); ok {
				completion += "\n" + s
			}
		}
	}
	completionTokens = utils.CountTokensSimple(completion)
	return promptTokens, completionTokens
}

// Middleware records latency, estimated token usage and error kind for every
// completion. Run and stage labels come from metrics.WithRun on the context.
func Middleware(recorder pmetrics.Recorder, usageExtractor UsageExtractor, logger *logx.Logger) llm.Middleware {
	if usageExtractor == nil {
		usageExtractor = DefaultUsageExtractor
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				var promptTokens, completionTokens int
				if err == nil {
					promptTokens, completionTokens = usageExtractor(req, resp)
				}

				runID, stage := pmetrics.RunLabels(ctx)
				recorder.ObserveRequest(next.GetModelName(), runID, stage,
					promptTokens, completionTokens, err == nil, errorType(err), duration)

				if logger != nil {
					logger.Debug("LLM request: model=%s stage=%s tokens=%d+%d ok=%t duration=%dms",
						next.GetModelName(), stage, promptTokens, completionTokens, err == nil, duration.Milliseconds())
				}
				return resp, err //nolint:wrapcheck // pass-through
			},
			next.GetModelName,
		)
	}
}

func errorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case llm.IsRateLimit(err):
		return llmerrors.ErrorTypeRateLimit.String()
	default:
		return llmerrors.TypeOf(err).String()
	}
}
