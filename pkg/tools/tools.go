// Package tools exposes the sandbox file primitives as LLM-callable tools.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"genforge/pkg/sandbox"
)

// Tool names.
const (
	ToolReadFile      = "read_file"
	ToolWriteFile     = "write_file"
	ToolListFiles     = "list_files"
	ToolGetCurrentDir = "get_current_directory"
	ToolRunCmd        = "run_cmd"
)

// CoderTools is the tool set bound to every coder step. run_cmd is deliberately absent.
//
//nolint:gochecknoglobals // fixed allow-list
var CoderTools = []string{ToolReadFile, ToolWriteFile, ToolListFiles, ToolGetCurrentDir}

// Property is one JSON-schema property of a tool's input. Objects nest
// through Properties, arrays through Items.
type Property struct {
	Type        string               `json:"type"`
	Description string               `json:"description,omitempty"`
	Enum        []string             `json:"enum,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Required    []string             `json:"required,omitempty"`
}

// InputSchema is the JSON schema of a tool's input object.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// AsMap renders the schema as a generic JSON object for SDKs that take one.
func (s InputSchema) AsMap() map[string]any {
	m := map[string]any{
		"type":       s.Type,
		"properties": propertiesAsMap(s.Properties),
	}
	if len(s.Required) > 0 {
		m["required"] = s.Required
	}
	return m
}

func propertiesAsMap(props map[string]Property) map[string]any {
	out := make(map[string]any, len(props))
	for name := range props {
		p := props[name]
		out[name] = p.AsMap()
	}
	return out
}

// AsMap renders the property as a generic JSON object.
func (p *Property) AsMap() map[string]any {
	m := map[string]any{"type": p.Type}
	if p.Description != "" {
		m["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		m["enum"] = p.Enum
	}
	if len(p.Properties) > 0 {
		nested := make(map[string]any, len(p.Properties))
		for name, np := range p.Properties {
			nested[name] = np.AsMap()
		}
		m["properties"] = nested
	}
	if len(p.Required) > 0 {
		m["required"] = p.Required
	}
	if p.Items != nil {
		m["items"] = p.Items.AsMap()
	}
	return m
}

// ToolDefinition is what the model sees.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// ExecResult is a tool's textual result.
type ExecResult struct {
	Content string
}

// Tool is a callable exposed to the model.
type Tool interface {
	Name() string
	Definition() ToolDefinition
	Exec(ctx context.Context, args map[string]any) (*ExecResult, error)
}

// Provider holds the tools allowed for one agent invocation.
type Provider struct {
	tools map[string]Tool
}

// NewProvider builds the allowed subset of the sandbox tools.
func NewProvider(sb *sandbox.Sandbox, allowed []string, opts ...Option) (*Provider, error) {
	cfg := options{commandTimeout: sandbox.DefaultCommandTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	all := map[string]Tool{
		ToolReadFile:      &readFileTool{sb: sb},
		ToolWriteFile:     &writeFileTool{sb: sb},
		ToolListFiles:     &listFilesTool{sb: sb},
		ToolGetCurrentDir: &currentDirTool{sb: sb},
		ToolRunCmd:        &runCmdTool{sb: sb, timeout: cfg.commandTimeout},
	}

	p := &Provider{tools: make(map[string]Tool, len(allowed))}
	for _, name := range allowed {
		tool, ok := all[name]
		if !ok {
			return nil, fmt.Errorf("tool '%s' not registered", name)
		}
		p.tools[name] = tool
	}
	return p, nil
}

type options struct {
	commandTimeout time.Duration
}

// Option configures a Provider.
type Option func(*options)

// WithCommandTimeout bounds run_cmd.
func WithCommandTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.commandTimeout = d
		}
	}
}

// Get returns an allowed tool.
func (p *Provider) Get(name string) (Tool, error) {
	tool, ok := p.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool '%s' not allowed in this context", name)
	}
	return tool, nil
}

// Definitions returns the allowed tool definitions sorted by name.
func (p *Provider) Definitions() []ToolDefinition {
	names := make([]string, 0, len(p.tools))
	for name := range p.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, p.tools[name].Definition())
	}
	return defs
}

// Documentation renders a markdown bullet list of the allowed tools.
func (p *Provider) Documentation() string {
	defs := p.Definitions()
	if len(defs) == 0 {
		return "No tools available"
	}
	var b strings.Builder
	b.WriteString("## Available Tools\n\n")
	for i := range defs {
		fmt.Fprintf(&b, "- **%s** - %s\n", defs[i].Name, defs[i].Description)
	}
	return b.String()
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%s is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}

func optionalStringArg(args map[string]any, key, def string) string {
	if s, ok := args[key].(string); ok && s != "" {
		return s
	}
	return def
}

// intArg handles float64 (JSON), int and int64 values.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return def
	}
}
