package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"genforge/pkg/sandbox"
)

type readFileTool struct {
	sb *sandbox.Sandbox
}

func (t *readFileTool) Name() string { return ToolReadFile }

func (t *readFileTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolReadFile,
		Description: "Reads content from a file in the project. Returns an empty string if the file does not exist.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"path": {Type: "string", Description: "File path relative to the project root"},
			},
			Required: []string{"path"},
		},
	}
}

func (t *readFileTool) Exec(_ context.Context, args map[string]any) (*ExecResult, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	content, err := t.sb.Read(path)
	if err != nil {
		return nil, err
	}
	return &ExecResult{Content: content}, nil
}

type writeFileTool struct {
	sb *sandbox.Sandbox
}

func (t *writeFileTool) Name() string { return ToolWriteFile }

func (t *writeFileTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolWriteFile,
		Description: "Writes content to a file in the project, creating parent directories. Replaces any existing content.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"path":    {Type: "string", Description: "File path relative to the project root"},
				"content": {Type: "string", Description: "Complete file content"},
			},
			Required: []string{"path", "content"},
		},
	}
}

func (t *writeFileTool) Exec(_ context.Context, args map[string]any) (*ExecResult, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return nil, err
	}
	res, err := t.sb.Write(path, content)
	if err != nil {
		return nil, err
	}
	return &ExecResult{Content: res}, nil
}

type listFilesTool struct {
	sb *sandbox.Sandbox
}

func (t *listFilesTool) Name() string { return ToolListFiles }

func (t *listFilesTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolListFiles,
		Description: "Lists all files under a directory of the project, one relative path per line.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"directory": {Type: "string", Description: "Directory relative to the project root. Defaults to '.'"},
			},
		},
	}
}

func (t *listFilesTool) Exec(_ context.Context, args map[string]any) (*ExecResult, error) {
	dir := optionalStringArg(args, "directory", ".")
	out, err := t.sb.List(dir)
	if errors.Is(err, sandbox.ErrSandboxViolation) {
		return nil, err
	}
	if err != nil {
		return &ExecResult{Content: "ERROR: " + dir + " is not a directory"}, nil //nolint:nilerr // reported to the model as text
	}
	return &ExecResult{Content: out}, nil
}

type currentDirTool struct {
	sb *sandbox.Sandbox
}

func (t *currentDirTool) Name() string { return ToolGetCurrentDir }

func (t *currentDirTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolGetCurrentDir,
		Description: "Returns the absolute path of the project root.",
		InputSchema: InputSchema{Type: "object", Properties: map[string]Property{}},
	}
}

func (t *currentDirTool) Exec(context.Context, map[string]any) (*ExecResult, error) {
	return &ExecResult{Content: t.sb.Root()}, nil
}

type runCmdTool struct {
	sb      *sandbox.Sandbox
	timeout time.Duration
}

func (t *runCmdTool) Name() string { return ToolRunCmd }

func (t *runCmdTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolRunCmd,
		Description: "Runs a shell command in a directory of the project and returns its exit code, stdout and stderr.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"cmd":     {Type: "string", Description: "Shell command to run"},
				"cwd":     {Type: "string", Description: "Working directory relative to the project root"},
				"timeout": {Type: "integer", Description: "Timeout in seconds"},
			},
			Required: []string{"cmd"},
		},
	}
}

func (t *runCmdTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	cmd, err := stringArg(args, "cmd")
	if err != nil {
		return nil, err
	}
	cwd := optionalStringArg(args, "cwd", ".")
	timeout := t.timeout
	if secs := intArg(args, "timeout", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	res, err := t.sb.RunCommand(ctx, cmd, cwd, timeout)
	if err != nil && !res.TimedOut {
		return nil, err
	}
	return &ExecResult{
		Content: fmt.Sprintf("exit_code: %d\nstdout:\n%s\nstderr:\n%s", res.ExitCode, res.Stdout, res.Stderr),
	}, nil
}
