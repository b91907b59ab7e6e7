package relay

import (
	"context"
	"sync/atomic"
	"time"

	"genforge/pkg/logx"
	"genforge/pkg/metrics"
	"genforge/pkg/proto"
)

// Default poller timings.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultDrainGrace   = 500 * time.Millisecond
)

// Poller drains a Queue into an emitter on a fixed interval.
//
// Monitoring starts active. Run keeps polling while monitoring is active or
// the queue is non-empty; Finish clears the flag after the grace period, so
// every item enqueued before Finish returns is emitted exactly once.
type Poller struct {
	queue    *Queue
	emitter  proto.Emitter
	interval time.Duration
	grace    time.Duration
	recorder metrics.Recorder
	logger   *logx.Logger

	monitoring atomic.Bool
	emitted    atomic.Int64
	done       chan struct{}
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithInterval sets the drain interval.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithGrace sets how long Finish waits before clearing the monitoring flag.
func WithGrace(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d >= 0 {
			p.grace = d
		}
	}
}

// WithRecorder counts emitted file events.
func WithRecorder(r metrics.Recorder) PollerOption {
	return func(p *Poller) { p.recorder = r }
}

// NewPoller returns a poller with monitoring active.
func NewPoller(q *Queue, emitter proto.Emitter, opts ...PollerOption) *Poller {
	p := &Poller{
		queue:    q,
		emitter:  emitter,
		interval: DefaultPollInterval,
		grace:    DefaultDrainGrace,
		recorder: metrics.Nop(),
		logger:   logx.NewLogger("relay"),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.monitoring.Store(true)
	return p
}

// Run polls until monitoring is cleared and the queue is empty, or ctx ends.
// On cancellation the queue is drained once more before returning.
func (p *Poller) Run(ctx context.Context) error {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.drain()
			return ctx.Err() //nolint:wrapcheck // cancellation passes through
		case <-ticker.C:
		}

		// Read the flag before draining so an item enqueued just before the
		// flag was cleared is still picked up by this pass.
		active := p.monitoring.Load()
		p.drain()
		if !active && p.queue.Len() == 0 {
			p.logger.Debug("poller finished after %d events", p.emitted.Load())
			return nil
		}
	}
}

// Finish waits the grace period, stops monitoring and blocks until Run has
// emitted everything still queued.
func (p *Poller) Finish(ctx context.Context) error {
	if p.grace > 0 {
		timer := time.NewTimer(p.grace)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.monitoring.Store(false)
			return ctx.Err() //nolint:wrapcheck // cancellation passes through
		case <-timer.C:
		}
	}
	p.monitoring.Store(false)

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck // cancellation passes through
	}
}

// Emitted returns how many file events have been emitted.
func (p *Poller) Emitted() int {
	return int(p.emitted.Load())
}

func (p *Poller) drain() {
	for _, op := range p.queue.Drain() {
		p.emitter.Emit(proto.NewFileEvent(op))
		p.recorder.IncFileEvent(string(op.Kind))
		p.emitted.Add(1)
	}
}
