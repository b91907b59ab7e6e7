// Package utils provides tiktoken-based token estimation.
package utils

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter estimates token counts. Every provider is approximated with the GPT-4 encoding.
type TokenCounter struct {
	codec tokenizer.Codec
}

var (
	defaultOnce    sync.Once
	defaultCounter *TokenCounter
)

// NewTokenCounter creates a counter using the GPT-4 encoding.
func NewTokenCounter() (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the token count, falling back to len/4 when the codec is unavailable.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// CountTokensSimple counts with a shared lazily-built counter.
func CountTokensSimple(text string) int {
	defaultOnce.Do(func() {
		defaultCounter, _ = NewTokenCounter()
	})
	return defaultCounter.CountTokens(text)
}
