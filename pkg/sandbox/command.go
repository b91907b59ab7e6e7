package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultCommandTimeout bounds RunCommand when no timeout is given.
const DefaultCommandTimeout = 30 * time.Second

// CommandResult is the outcome of a shell command run inside the sandbox.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
}

// RunCommand runs command through sh -c with its working directory set to cwd
// (resolved inside the root; "" means the root). A non-zero exit is reported
// through ExitCode, not as an error.
func (s *Sandbox) RunCommand(ctx context.Context, command, cwd string, timeout time.Duration) (CommandResult, error) {
	if strings.TrimSpace(command) == "" {
		return CommandResult{}, fmt.Errorf("command cannot be empty")
	}
	if cwd == "" {
		cwd = "."
	}
	dir, err := s.Resolve(cwd)
	if err != nil {
		return CommandResult{}, err
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	res := CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.ExitCode = -1
		res.TimedOut = true
		return res, fmt.Errorf("command timed out after %s", timeout)
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		return res, fmt.Errorf("run command: %w", runErr)
	}
	return res, nil
}
