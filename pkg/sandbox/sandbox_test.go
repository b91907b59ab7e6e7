package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu  sync.Mutex
	ops []FileOp
}

func (r *recorder) FileChanged(op FileOp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

func (r *recorder) snapshot() []FileOp {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FileOp(nil), r.ops...)
}

func newTestSandbox(t *testing.T) (*Sandbox, *recorder) {
	t.Helper()
	rec := &recorder{}
	sb, err := New(filepath.Join(t.TempDir(), "project"), WithObserver(rec))
	require.NoError(t, err)
	return sb, rec
}

func TestNewCreatesRoot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "root")
	sb, err := New(dir)
	require.NoError(t, err)

	info, err := os.Stat(sb.Root())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.True(t, filepath.IsAbs(sb.Root()))
}

func TestResolveContainment(t *testing.T) {
	sb, _ := newTestSandbox(t)

	tests := []struct {
		name    string
		path    string
		violate bool
	}{
		{"nested relative", "a/b/c.txt", false},
		{"root itself", ".", false},
		{"dot segments inside", "a/../b.txt", false},
		{"parent escape", "../outside.txt", true},
		{"deep escape", "a/../../outside.txt", true},
		{"absolute outside", "/etc/passwd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			abs, err := sb.Resolve(tt.path)
			if tt.violate {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrSandboxViolation)
				return
			}
			require.NoError(t, err)
			rel, relErr := filepath.Rel(sb.Root(), abs)
			require.NoError(t, relErr)
			assert.NotContains(t, rel, "..")
		})
	}
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	sb, _ := newTestSandbox(t)
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(sb.Root(), "link")))

	_, err := sb.Resolve("link/secret.txt")
	assert.ErrorIs(t, err, ErrSandboxViolation)
}

func TestWriteClassifiesCreateThenUpdate(t *testing.T) {
	sb, rec := newTestSandbox(t)

	res, err := sb.Write("a/b/c.txt", "one")
	require.NoError(t, err)
	assert.Equal(t, "WROTE:"+filepath.Join(sb.Root(), "a", "b", "c.txt"), res)

	_, err = sb.Write("a/b/c.txt", "two")
	require.NoError(t, err)

	assert.Equal(t, []FileOp{
		{Kind: OpCreate, Path: "a/b/c.txt"},
		{Kind: OpUpdate, Path: "a/b/c.txt"},
	}, rec.snapshot())

	content, err := sb.Read("a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, "two", content)
}

func TestWriteOutsideRootFiresNoEvent(t *testing.T) {
	sb, rec := newTestSandbox(t)

	_, err := sb.Write("../outside.txt", "x")
	assert.ErrorIs(t, err, ErrSandboxViolation)
	assert.Empty(t, rec.snapshot())

	_, statErr := os.Stat(filepath.Join(filepath.Dir(sb.Root()), "outside.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestReadMissingReturnsEmpty(t *testing.T) {
	sb, _ := newTestSandbox(t)
	content, err := sb.Read("missing.txt")
	require.NoError(t, err)
	assert.Equal(t, "", content)
}

func TestList(t *testing.T) {
	sb, _ := newTestSandbox(t)

	out, err := sb.List(".")
	require.NoError(t, err)
	assert.Equal(t, NoFilesFound, out)

	for _, p := range []string{"index.html", "css/style.css", "about.html"} {
		_, err := sb.Write(p, "x")
		require.NoError(t, err)
	}

	out, err = sb.List(".")
	require.NoError(t, err)
	assert.Equal(t, "about.html\ncss/style.css\nindex.html", out)

	_, err = sb.List("index.html")
	assert.Error(t, err)

	_, err = sb.List("..")
	assert.ErrorIs(t, err, ErrSandboxViolation)
}

func TestDeleteNotifies(t *testing.T) {
	sb, rec := newTestSandbox(t)
	_, err := sb.Write("gone.txt", "x")
	require.NoError(t, err)

	require.NoError(t, sb.Delete("gone.txt"))
	ops := rec.snapshot()
	require.Len(t, ops, 2)
	assert.Equal(t, FileOp{Kind: OpDelete, Path: "gone.txt"}, ops[1])

	assert.Error(t, sb.Delete("gone.txt"))
}

func TestWithObserverSharesRoot(t *testing.T) {
	sb, first := newTestSandbox(t)
	second := &recorder{}

	scoped := sb.WithObserver(second)
	_, err := scoped.Write("x.txt", "1")
	require.NoError(t, err)

	assert.Equal(t, sb.Root(), scoped.Root())
	assert.Empty(t, first.snapshot())
	assert.Len(t, second.snapshot(), 1)
}

func TestRunCommand(t *testing.T) {
	sb, _ := newTestSandbox(t)
	_, err := sb.Write("sub/hello.txt", "hi")
	require.NoError(t, err)

	res, err := sb.RunCommand(context.Background(), "cat hello.txt; echo oops 1>&2; exit 3", "sub", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "hi", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)

	_, err = sb.RunCommand(context.Background(), "ls", "..", time.Second)
	assert.ErrorIs(t, err, ErrSandboxViolation)
}

func TestRunCommandTimeout(t *testing.T) {
	sb, _ := newTestSandbox(t)
	res, err := sb.RunCommand(context.Background(), "sleep 5", "", 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, -1, res.ExitCode)
}
