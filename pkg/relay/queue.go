// Package relay moves file mutations from the worker goroutine that performs
// them to the goroutine that owns the observer connection.
//
// In queue mode the sandbox observer is a Queue and a Poller drains it into a
// proto.Emitter in enqueue order. In snapshot mode a SnapshotWatcher diffs the
// sandbox tree before and after the run instead.
package relay

import (
	"sync"

	"genforge/pkg/sandbox"
)

// Queue is an unbounded, concurrency-safe FIFO of file mutations.
// It implements sandbox.Observer so it can be attached to a run's sandbox.
type Queue struct {
	mu    sync.Mutex
	items []sandbox.FileOp
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// FileChanged enqueues op. It never blocks on the consumer.
func (q *Queue) FileChanged(op sandbox.FileOp) {
	q.mu.Lock()
	q.items = append(q.items, op)
	q.mu.Unlock()
}

// Drain removes and returns every queued item, oldest first.
func (q *Queue) Drain() []sandbox.FileOp {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
