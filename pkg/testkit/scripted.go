// Package testkit provides scripted models, mock provider servers and
// message assertions for genforge tests.
package testkit

import (
	"fmt"
	"regexp"
	"sync"

	"genforge/pkg/llm"
	"genforge/pkg/plan"
	"genforge/pkg/tools"
)

var fileLine = regexp.MustCompile(`(?m)^File: (.+)$`)

// PipelineModel answers planner, architect and coder requests the way a
// well-behaved model would: it submits Plan, then TaskPlan, then for every
// coder step writes the step's file with Content(path) and finishes.
type PipelineModel struct {
	Plan  plan.Plan
	Steps []plan.ImplementationStep

	// Content returns what the coder writes to path. Defaults to a short HTML page.
	Content func(path string) string
	// FailStep, when it returns an error for a path, makes that step's model call fail.
	FailStep func(path string) error

	mu         sync.Mutex
	toolCalls  int
	coderCalls int
}

// TwoPageSite returns a PipelineModel for a two-page static site.
func TwoPageSite() *PipelineModel {
	return &PipelineModel{
		Plan: plan.Plan{
			Name:        "two-page-site",
			Description: "A static site with a home page and an about page",
			TechStack:   "html, css",
			Features:    []string{"home page", "about page", "shared stylesheet"},
			Files: []plan.File{
				{Path: "index.html", Purpose: "home page"},
				{Path: "about.html", Purpose: "about page"},
				{Path: "css/style.css", Purpose: "shared styles"},
			},
		},
		Steps: []plan.ImplementationStep{
			{FilePath: "css/style.css", TaskDescription: "Write the shared stylesheet"},
			{FilePath: "index.html", TaskDescription: "Write the home page linking css/style.css and about.html"},
			{FilePath: "about.html", TaskDescription: "Write the about page linking back to index.html"},
		},
	}
}

// Client wraps m in a mock LLM client.
func (m *PipelineModel) Client() *llm.MockLLMClient {
	client := llm.NewMockLLMClient()
	client.Handler = m.Respond
	return client
}

// ToolCalls returns how many write_file calls the model has issued.
func (m *PipelineModel) ToolCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.toolCalls
}

// CoderCalls returns how many coder requests the model has answered.
func (m *PipelineModel) CoderCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coderCalls
}

// Respond answers one request.
func (m *PipelineModel) Respond(req llm.CompletionRequest) (llm.CompletionResponse, error) {
	if len(req.Tools) == 1 {
		switch req.Tools[0].Name {
		case plan.SubmitPlanTool:
			return llm.CompletionResponse{ToolCalls: []llm.ToolCall{{
				ID: "plan", Name: plan.SubmitPlanTool, Parameters: toParams(m.Plan),
			}}}, nil
		case plan.SubmitTaskPlanTool:
			steps := make([]any, len(m.Steps))
			for i := range m.Steps {
				steps[i] = map[string]any{"filepath": m.Steps[i].FilePath, "task_description": m.Steps[i].TaskDescription}
			}
			return llm.CompletionResponse{ToolCalls: []llm.ToolCall{{
				ID: "tasks", Name: plan.SubmitTaskPlanTool, Parameters: map[string]any{"implementation_steps": steps},
			}}}, nil
		}
	}
	return m.respondCoder(req)
}

func (m *PipelineModel) respondCoder(req llm.CompletionRequest) (llm.CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coderCalls++

	last := req.Messages[len(req.Messages)-1]
	if len(last.ToolResults) > 0 {
		return llm.CompletionResponse{Content: "done", StopReason: "end_turn"}, nil
	}

	var path string
	for i := range req.Messages {
		if match := fileLine.FindStringSubmatch(req.Messages[i].Content); match != nil {
			path = match[1]
		}
	}
	if path == "" {
		return llm.CompletionResponse{}, fmt.Errorf("testkit: coder prompt has no File: line")
	}
	if m.FailStep != nil {
		if err := m.FailStep(path); err != nil {
			return llm.CompletionResponse{}, err
		}
	}

	content := defaultContent(path)
	if m.Content != nil {
		content = m.Content(path)
	}
	m.toolCalls++
	return llm.CompletionResponse{
		ToolCalls: []llm.ToolCall{{
			ID:         fmt.Sprintf("call_%d", m.toolCalls),
			Name:       tools.ToolWriteFile,
			Parameters: map[string]any{"path": path, "content": content},
		}},
		StopReason: "tool_use",
	}, nil
}

func defaultContent(path string) string {
	return fmt.Sprintf("<!-- %s -->\n<html><body><h1>%s</h1></body></html>\n", path, path)
}

func toParams(p plan.Plan) map[string]any {
	files := make([]any, len(p.Files))
	for i := range p.Files {
		files[i] = map[string]any{"path": p.Files[i].Path, "purpose": p.Files[i].Purpose}
	}
	features := make([]any, len(p.Features))
	for i := range p.Features {
		features[i] = p.Features[i]
	}
	return map[string]any{
		"name":        p.Name,
		"description": p.Description,
		"techstack":   p.TechStack,
		"features":    features,
		"files":       files,
	}
}
