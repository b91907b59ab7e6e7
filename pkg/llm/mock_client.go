package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockStep is one scripted reply: either a response or an error.
type MockStep struct {
	Response CompletionResponse
	Err      error
}

// MockLLMClient is a scripted LLMClient for tests. Steps are consumed in
// order; when they run out, Handler (if set) answers instead.
type MockLLMClient struct {
	mu       sync.Mutex
	steps    []MockStep
	requests []CompletionRequest

	Model   string
	Handler func(req CompletionRequest) (CompletionResponse, error)
}

// NewMockLLMClient creates a mock that replays steps.
func NewMockLLMClient(steps ...MockStep) *MockLLMClient {
	return &MockLLMClient{steps: steps, Model: "mock-model"}
}

// Complete returns the next scripted step.
func (m *MockLLMClient) Complete(_ context.Context, req CompletionRequest) (CompletionResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	if len(m.steps) > 0 {
		step := m.steps[0]
		m.steps = m.steps[1:]
		m.mu.Unlock()
		return step.Response, step.Err
	}
	handler := m.Handler
	m.mu.Unlock()

	if handler != nil {
		return handler(req)
	}
	return CompletionResponse{}, fmt.Errorf("mock client: no more responses")
}

// GetModelName returns the configured model name.
func (m *MockLLMClient) GetModelName() string {
	return m.Model
}

// Requests returns a copy of every request seen so far.
func (m *MockLLMClient) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CompletionRequest(nil), m.requests...)
}

// CallCount returns how many completions were requested.
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
