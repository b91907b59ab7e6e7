package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genforge/pkg/persistence"
	"genforge/pkg/proto"
	"genforge/pkg/sandbox"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRenderMessage(t *testing.T) {
	tests := []struct {
		msg  proto.Message
		want string
	}{
		{proto.NewFileEvent(sandbox.FileOp{Kind: sandbox.OpCreate, Path: "index.html"}), "+ index.html"},
		{proto.NewFileEvent(sandbox.FileOp{Kind: sandbox.OpUpdate, Path: "index.html"}), "~ index.html"},
		{proto.NewFileEvent(sandbox.FileOp{Kind: sandbox.OpDelete, Path: "old.css"}), "- old.css"},
		{proto.NewLog("📝 Prompt: %s", "site"), "📝 Prompt: site"},
		{proto.NewError("Error: boom"), "Error: boom"},
		{proto.NewCompleted("done"), "done"},
		{proto.NewFailed("boom"), "✗ boom"},
	}
	for _, tt := range tests {
		assert.Contains(t, renderMessage(tt.msg), tt.want)
	}
}

func TestTerminalEmitterWritesLines(t *testing.T) {
	var out bytes.Buffer
	e := newTerminalEmitter(&out)
	e.Emit(proto.NewLog("one"))
	e.Emit(proto.NewLog("two"))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "two")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "genforge")
	assert.Contains(t, out, "version")
}

func TestConfigInitWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genforge.yaml")

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "outer_step_budget: 150")
	assert.Contains(t, string(data), "continuation_policy: best_effort")

	_, err = execute(t, "config", "init", path)
	assert.Error(t, err, "existing file is not overwritten without --force")
}

func TestRunsEmptyHistory(t *testing.T) {
	t.Cleanup(func() { _ = persistence.Reset() })
	db := filepath.Join(t.TempDir(), "runs.db")

	out, err := execute(t, "runs", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs yet")
}

func TestRunsAfterCloseReportsError(t *testing.T) {
	t.Cleanup(func() { _ = persistence.Reset() })
	db := filepath.Join(t.TempDir(), "runs.db")

	_, err := execute(t, "runs", "--db", db)
	require.NoError(t, err)

	_, err = execute(t, "runs", "--db", db)
	assert.ErrorContains(t, err, "is closed")
}

func TestStatsRunRequiresPrometheus(t *testing.T) {
	_, err := execute(t, "stats", "--run", "abc")
	assert.ErrorContains(t, err, "--run requires --prometheus")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
