package orchestrator

import "sync/atomic"

// StopToken is a run-scoped cooperative cancellation flag. The coder checks it
// at the start of every activation; calls already in flight are not interrupted.
type StopToken struct {
	stopped atomic.Bool
}

// NewStopToken returns an unset token.
func NewStopToken() *StopToken {
	return &StopToken{}
}

// Stop requests that the run halt before its next coder step.
func (t *StopToken) Stop() {
	t.stopped.Store(true)
}

// Stopped reports whether Stop was called. A nil token is never stopped.
func (t *StopToken) Stopped() bool {
	return t != nil && t.stopped.Load()
}
