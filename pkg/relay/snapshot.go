package relay

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"genforge/pkg/logx"
	"genforge/pkg/sandbox"
)

// DefaultSettleDelay bounds how long a SnapshotWatcher waits for the tree to go quiet.
const DefaultSettleDelay = 500 * time.Millisecond

// Snapshot maps slash-separated paths relative to a root to their modification times.
type Snapshot map[string]time.Time

// TakeSnapshot records every regular file under root. A missing root is an empty snapshot.
func TakeSnapshot(root string) (Snapshot, error) {
	snap := Snapshot{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil //nolint:nilerr // file vanished between readdir and stat
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		snap[filepath.ToSlash(rel)] = info.ModTime()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", root, err)
	}
	return snap, nil
}

// Diff reports what changed between two snapshots: paths only in after are
// created, paths with a newer mtime are updated, paths only in before are
// deleted. Results are ordered by path within each kind, creates first.
//
// A file created and deleted between the two snapshots does not appear.
func Diff(before, after Snapshot) []sandbox.FileOp {
	var created, updated, deleted []string
	for path, mtime := range after {
		prev, ok := before[path]
		switch {
		case !ok:
			created = append(created, path)
		case mtime.After(prev):
			updated = append(updated, path)
		}
	}
	for path := range before {
		if _, ok := after[path]; !ok {
			deleted = append(deleted, path)
		}
	}
	sort.Strings(created)
	sort.Strings(updated)
	sort.Strings(deleted)

	ops := make([]sandbox.FileOp, 0, len(created)+len(updated)+len(deleted))
	for _, p := range created {
		ops = append(ops, sandbox.FileOp{Kind: sandbox.OpCreate, Path: p})
	}
	for _, p := range updated {
		ops = append(ops, sandbox.FileOp{Kind: sandbox.OpUpdate, Path: p})
	}
	for _, p := range deleted {
		ops = append(ops, sandbox.FileOp{Kind: sandbox.OpDelete, Path: p})
	}
	return ops
}

// SnapshotWatcher detects file mutations by diffing the tree around a run.
// fsnotify only tells it when the tree has gone quiet; the diff itself comes
// from the two snapshots.
type SnapshotWatcher struct {
	root    string
	settle  time.Duration
	before  Snapshot
	watcher *fsnotify.Watcher
	logger  *logx.Logger
}

// NewSnapshotWatcher snapshots root and starts watching it.
func NewSnapshotWatcher(root string, settle time.Duration) (*SnapshotWatcher, error) {
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	before, err := TakeSnapshot(root)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &SnapshotWatcher{
		root:    root,
		settle:  settle,
		before:  before,
		watcher: watcher,
		logger:  logx.NewLogger("relay"),
	}
	if err := w.watchTree(root); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	return w, nil
}

func (w *SnapshotWatcher) watchTree(dir string) error {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Finish waits for the tree to settle, stops watching and returns the diff.
// The wait lasts at most the settle delay and ends early once no filesystem
// event has arrived for a fifth of it.
func (w *SnapshotWatcher) Finish(ctx context.Context) ([]sandbox.FileOp, error) {
	w.waitQuiet(ctx)
	if err := w.watcher.Close(); err != nil {
		w.logger.Warn("closing watcher: %v", err)
	}

	after, err := TakeSnapshot(w.root)
	if err != nil {
		return nil, err
	}
	ops := Diff(w.before, after)
	w.logger.Debug("snapshot diff: %d changes", len(ops))
	return ops, nil
}

func (w *SnapshotWatcher) waitQuiet(ctx context.Context) {
	deadline := time.NewTimer(w.settle)
	defer deadline.Stop()
	quietWindow := w.settle / 5
	quiet := time.NewTimer(quietWindow)
	defer quiet.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-quiet.C:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.watchTree(ev.Name)
				}
			}
			if !quiet.Stop() {
				select {
				case <-quiet.C:
				default:
				}
			}
			quiet.Reset(quietWindow)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error: %v", err)
		}
	}
}
