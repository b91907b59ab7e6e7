// Package sandbox confines generated-project file access to a single root directory.
//
// Every caller-supplied path is joined to the root, cleaned, and checked for
// containment before any filesystem access. Paths that escape the root are
// rejected with ErrSandboxViolation; they are never silently corrected.
package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultRootName is the directory created under the working directory when no root is configured.
const DefaultRootName = "generated_project"

// NoFilesFound is returned by List for a directory with no regular files.
const NoFilesFound = "No files found."

// ErrSandboxViolation marks a path that resolves outside the sandbox root.
var ErrSandboxViolation = errors.New("sandbox violation")

// ViolationError carries the offending path.
type ViolationError struct {
	Path string
	Root string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("attempt to access path outside project root: %s", e.Path)
}

// Is reports ErrSandboxViolation.
func (e *ViolationError) Is(target error) bool {
	return target == ErrSandboxViolation
}

// OpKind classifies a file mutation.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// FileOp describes one mutation. Path is relative to the sandbox root, slash-separated.
type FileOp struct {
	Kind OpKind `json:"kind"`
	Path string `json:"path"`
}

// Observer receives file mutations. Implementations must not block.
type Observer interface {
	FileChanged(op FileOp)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(op FileOp)

// FileChanged implements Observer.
func (f ObserverFunc) FileChanged(op FileOp) { f(op) }

// Sandbox is a root directory plus the run-scoped observer notified on writes.
type Sandbox struct {
	root     string
	observer Observer
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithObserver attaches the observer notified on every successful write or delete.
func WithObserver(o Observer) Option {
	return func(s *Sandbox) { s.observer = o }
}

// New creates root if needed and returns a sandbox anchored at its canonical path.
func New(root string, opts ...Option) (*Sandbox, error) {
	if root == "" {
		root = DefaultRootName
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox root %q: %w", abs, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("canonicalize sandbox root %q: %w", abs, err)
	}
	s := &Sandbox{root: canonical}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the canonical absolute root path.
func (s *Sandbox) Root() string {
	return s.root
}

// WithObserver returns a sandbox sharing the same root with a different observer.
func (s *Sandbox) WithObserver(o Observer) *Sandbox {
	return &Sandbox{root: s.root, observer: o}
}

// Resolve maps a caller path to an absolute path inside the root.
// Absolute inputs are treated as relative to the root only if they already lie within it.
func (s *Sandbox) Resolve(path string) (string, error) {
	var joined string
	if filepath.IsAbs(path) {
		joined = filepath.Clean(path)
	} else {
		joined = filepath.Join(s.root, path)
	}

	canonical, err := canonicalize(joined)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	if !s.contains(canonical) {
		return "", &ViolationError{Path: path, Root: s.root}
	}
	return canonical, nil
}

// Rel returns the slash-separated path of abs relative to the root.
func (s *Sandbox) Rel(abs string) string {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

func (s *Sandbox) contains(p string) bool {
	if p == s.root {
		return true
	}
	return strings.HasPrefix(p, s.root+string(filepath.Separator))
}

// canonicalize resolves symlinks on the longest existing prefix of p and
// appends the not-yet-existing remainder.
func canonicalize(p string) (string, error) {
	existing := p
	var rest []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{resolved}, rest...)...), nil
}

// Read returns the file's content, or "" when it does not exist.
func (s *Sandbox) Read(path string) (string, error) {
	abs, err := s.Resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// Write replaces the file's content, creating parent directories, and notifies
// the observer with Create or Update depending on prior existence.
func (s *Sandbox) Write(path, content string) (string, error) {
	abs, err := s.Resolve(path)
	if err != nil {
		return "", err
	}
	if abs == s.root {
		return "", fmt.Errorf("write %s: path is the project root", path)
	}

	kind := OpCreate
	if info, statErr := os.Stat(abs); statErr == nil {
		if info.IsDir() {
			return "", fmt.Errorf("write %s: is a directory", path)
		}
		kind = OpUpdate
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create parent of %s: %w", path, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	s.notify(FileOp{Kind: kind, Path: s.Rel(abs)})
	return "WROTE:" + abs, nil
}

// Delete removes a regular file and notifies the observer.
func (s *Sandbox) Delete(path string) error {
	abs, err := s.Resolve(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("delete %s: is a directory", path)
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	s.notify(FileOp{Kind: OpDelete, Path: s.Rel(abs)})
	return nil
}

// List returns every regular file below dir, relative to the root, one per line.
func (s *Sandbox) List(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	files, err := s.Files(dir)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return NoFilesFound, nil
	}
	return strings.Join(files, "\n"), nil
}

// Files returns the sorted relative paths of regular files below dir.
func (s *Sandbox) Files(dir string) ([]string, error) {
	abs, err := s.Resolve(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("list %s: not a directory", dir)
	}

	var files []string
	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.Type().IsRegular() {
			files = append(files, s.Rel(p))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

func (s *Sandbox) notify(op FileOp) {
	if s.observer != nil {
		s.observer.FileChanged(op)
	}
}
