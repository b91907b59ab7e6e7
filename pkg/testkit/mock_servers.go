package testkit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// MockReply is what a mock provider server answers.
type MockReply struct {
	// Status, when not 200, makes the server answer with a provider error body.
	Status       int
	ErrorMessage string

	Text      string
	ToolName  string
	ToolInput map[string]any
}

// MockServer is an httptest server that records decoded request bodies.
type MockServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []map[string]any
}

// Requests returns the decoded JSON bodies received so far.
func (s *MockServer) Requests() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.requests...)
}

func (s *MockServer) record(r *http.Request) bool {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return false
	}
	s.mu.Lock()
	s.requests = append(s.requests, body)
	s.mu.Unlock()
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// MockAnthropicServer emulates the Anthropic Messages API.
func MockAnthropicServer(reply MockReply) *MockServer {
	s := &MockServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !s.record(r) {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		if reply.Status != 0 && reply.Status != http.StatusOK {
			errType := "api_error"
			if reply.Status == http.StatusTooManyRequests {
				errType = "rate_limit_error"
			}
			writeJSON(w, reply.Status, map[string]any{
				"type":  "error",
				"error": map[string]any{"type": errType, "message": reply.ErrorMessage},
			})
			return
		}

		var content []map[string]any
		if reply.Text != "" {
			content = append(content, map[string]any{"type": "text", "text": reply.Text})
		}
		stopReason := "end_turn"
		if reply.ToolName != "" {
			content = append(content, map[string]any{
				"type":  "tool_use",
				"id":    "toolu_mock_1",
				"name":  reply.ToolName,
				"input": reply.ToolInput,
			})
			stopReason = "tool_use"
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"id":            "msg_mock_12345",
			"type":          "message",
			"role":          "assistant",
			"model":         "claude-mock",
			"content":       content,
			"stop_reason":   stopReason,
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": 100, "output_tokens": 200},
		})
	}))
	return s
}

// MockOpenAIServer emulates the OpenAI Chat Completions API.
func MockOpenAIServer(reply MockReply) *MockServer {
	s := &MockServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		if !s.record(r) {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		if reply.Status != 0 && reply.Status != http.StatusOK {
			writeJSON(w, reply.Status, map[string]any{
				"error": map[string]any{"message": reply.ErrorMessage, "type": "requests", "code": nil},
			})
			return
		}

		message := map[string]any{"role": "assistant", "content": reply.Text}
		finish := "stop"
		if reply.ToolName != "" {
			args, _ := json.Marshal(reply.ToolInput)
			message["tool_calls"] = []map[string]any{{
				"id":   "call_mock_1",
				"type": "function",
				"function": map[string]any{
					"name":      reply.ToolName,
					"arguments": string(args),
				},
			}}
			finish = "tool_calls"
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"id":      "chatcmpl-mock",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "gpt-mock",
			"choices": []map[string]any{{
				"index":         0,
				"message":       message,
				"finish_reason": finish,
			}},
			"usage": map[string]any{"prompt_tokens": 100, "completion_tokens": 200, "total_tokens": 300},
		})
	}))
	return s
}
