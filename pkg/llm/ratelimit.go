package llm

import (
	"context"
	"errors"
	"strings"

	"genforge/pkg/llm/llmerrors"
)

// ErrRateLimitExceeded is matched by every error produced by RateLimitMiddleware.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// RateLimitExceededError is a provider rate-limit failure surfaced to the orchestrator.
type RateLimitExceededError struct {
	Err error
}

func (e *RateLimitExceededError) Error() string {
	return "rate limit exceeded: " + e.Err.Error()
}

func (e *RateLimitExceededError) Unwrap() error { return e.Err }

// Is reports ErrRateLimitExceeded.
func (e *RateLimitExceededError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}

// IsRateLimit reports whether err's text mentions "rate limit" in any case,
// or whether a provider already classified it as a rate-limit error.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if llmerrors.Is(err, llmerrors.ErrorTypeRateLimit) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "rate limit")
}

// RateLimitMiddleware re-raises rate-limit failures as *RateLimitExceededError.
// Other errors and successful results pass through unchanged. No retry is attempted.
func RateLimitMiddleware() Middleware {
	return func(next LLMClient) LLMClient {
		return WrapClient(
			func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
				resp, err := next.Complete(ctx, req)
				if err != nil && IsRateLimit(err) && !errors.Is(err, ErrRateLimitExceeded) {
					return resp, &RateLimitExceededError{Err: err}
				}
				return resp, err //nolint:wrapcheck // pass-through
			},
			next.GetModelName,
		)
	}
}
