// Package runner executes generation runs for the CLI and the observer server.
//
// A run is one worker goroutine driving the orchestrator plus one relay
// goroutine moving file events to the run's emitter. Exactly one status
// message ends every run's stream.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"genforge/pkg/config"
	"genforge/pkg/llm"
	"genforge/pkg/logx"
	"genforge/pkg/metrics"
	"genforge/pkg/orchestrator"
	"genforge/pkg/persistence"
	"genforge/pkg/plan"
	"genforge/pkg/proto"
	"genforge/pkg/relay"
	"genforge/pkg/sandbox"
)

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = errors.New("a generation run is already in progress")

// Terminal messages.
const (
	MsgCompleted   = "✅ Project generated successfully!"
	MsgStopped     = "⏹️ Generation stopped. Partial project kept."
	MsgRateLimited = "Rate limit exceeded. Please try again later."
)

// Result describes a finished run.
type Result struct {
	RunID   string
	Status  proto.RunStatus
	Err     error
	Summary orchestrator.Summary
}

// Service runs one generation at a time against a shared sandbox root.
type Service struct {
	cfg      *config.Config
	client   llm.LLMClient
	store    *persistence.DatabaseOperations
	recorder metrics.Recorder
	logger   *logx.Logger

	mu     sync.Mutex
	active *activeRun
}

type activeRun struct {
	id      string
	stop    *orchestrator.StopToken
	emitter proto.Emitter
}

// Option configures a Service.
type Option func(*Service)

// WithStore records runs, checkpoints and file events.
func WithStore(store *persistence.DatabaseOperations) Option {
	return func(s *Service) { s.store = store }
}

// WithRecorder records run and step metrics.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// NewService creates a service. client is shared by every run.
func NewService(cfg *config.Config, client llm.LLMClient, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		client:   client,
		recorder: metrics.Nop(),
		logger:   logx.NewLogger("runner"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sandbox returns a sandbox over the configured root without an observer.
func (s *Service) Sandbox() (*sandbox.Sandbox, error) {
	return sandbox.New(s.cfg.Sandbox.Root)
}

// Store returns the run store, or nil when runs are not persisted.
func (s *Service) Store() *persistence.DatabaseOperations {
	return s.store
}

// ActiveRunID returns the active run's ID, or "".
func (s *Service) ActiveRunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ""
	}
	return s.active.id
}

// Stop asks the active run to halt before its next coder step.
// It reports whether a run was active.
func (s *Service) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return false
	}
	s.active.stop.Stop()
	s.logger.WithRunID(s.active.id).Info("stop requested")
	return true
}

// EmitToActive sends msg to the active run's stream. It reports whether a run was active.
func (s *Service) EmitToActive(msg proto.Message) bool {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil {
		return false
	}
	active.emitter.Emit(msg)
	return true
}

func (s *Service) acquire(id string, stop *orchestrator.StopToken, emitter proto.Emitter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return fmt.Errorf("%w: %s", ErrRunInProgress, s.active.id)
	}
	s.active = &activeRun{id: id, stop: stop, emitter: emitter}
	return nil
}

func (s *Service) release() {
	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()
}

// Run generates a project from prompt, streaming messages to emitter.
// emitter is called from more than one goroutine and must be safe for that.
// A run that cannot start returns an error and emits nothing.
func (s *Service) Run(ctx context.Context, prompt string, emitter proto.Emitter) (Result, error) {
	id := persistence.GenerateRunID()
	return s.run(ctx, plan.NewRunState(id, prompt), emitter, false)
}

// Resume continues a checkpointed run from its persisted stage and cursor.
func (s *Service) Resume(ctx context.Context, runID string, emitter proto.Emitter) (Result, error) {
	if s.store == nil {
		return Result{}, fmt.Errorf("resume requires persistence")
	}
	state, err := s.store.LoadRunState(ctx, runID)
	if err != nil {
		return Result{}, err
	}
	if state.Status == plan.StatusDone {
		return Result{}, fmt.Errorf("run %s already finished", runID)
	}
	return s.run(ctx, state, emitter, true)
}

// Start begins a new run in the background and returns once the run holds
// the service. The channel yields the result when the run ends.
func (s *Service) Start(ctx context.Context, prompt string, emitter proto.Emitter) (string, <-chan Result, error) {
	state := plan.NewRunState(persistence.GenerateRunID(), prompt)
	stop, emit, err := s.begin(state, emitter)
	if err != nil {
		return "", nil, err
	}

	done := make(chan Result, 1)
	go func() {
		defer s.release()
		res, err := s.execute(ctx, state, stop, emit, false)
		if err != nil {
			// Nothing has been streamed yet; the observer still gets an outcome.
			emit.Emit(proto.NewError(fmt.Sprintf("Error: %v", err)))
			emit.Emit(proto.NewFailed(err.Error()))
			res = Result{RunID: state.RunID, Status: proto.StatusError, Err: err}
		}
		done <- res
	}()
	return state.RunID, done, nil
}

func (s *Service) run(ctx context.Context, state *plan.RunState, emitter proto.Emitter, resumed bool) (Result, error) {
	stop, emit, err := s.begin(state, emitter)
	if err != nil {
		return Result{}, err
	}
	defer s.release()
	return s.execute(ctx, state, stop, emit, resumed)
}

// begin claims the service for state's run.
func (s *Service) begin(state *plan.RunState, emitter proto.Emitter) (*orchestrator.StopToken, proto.Emitter, error) {
	if emitter == nil {
		emitter = proto.Discard
	}
	stop := orchestrator.NewStopToken()
	stamped := stampRunID(state.RunID, emitter)
	if err := s.acquire(state.RunID, stop, stamped); err != nil {
		return nil, nil, err
	}
	return stop, stamped, nil
}

func (s *Service) execute(ctx context.Context, state *plan.RunState, stop *orchestrator.StopToken, stamped proto.Emitter, resumed bool) (Result, error) {
	logger := s.logger.WithRunID(state.RunID)
	emit := stamped
	if s.store != nil {
		if err := s.recordStart(ctx, state, resumed); err != nil {
			return Result{}, err
		}
		emit = persistence.JournalEmitter(s.store, state.RunID, stamped)
	}

	if resumed {
		emit.Emit(proto.NewLog("🔁 Resuming run %s at %s", state.RunID, state.Stage()))
	} else {
		emit.Emit(proto.NewLog("🚀 Starting project generation..."))
	}
	emit.Emit(proto.NewLog("📝 Prompt: %s", state.UserPrompt))
	logger.Info("run started (resumed=%t, mode=%s)", resumed, s.cfg.Relay.EventMode)

	summary, runErr := s.drive(ctx, state, stop, emit)
	res := Result{RunID: state.RunID, Summary: summary, Err: runErr}

	final, kind := s.terminal(runErr, summary)
	if runErr != nil {
		emit.Emit(proto.NewError(fmt.Sprintf("Error: %v", runErr)))
		logger.Error("run failed after %d transitions: %v", summary.Transitions, runErr)
	}
	emit.Emit(final)
	res.Status = final.Status

	s.recorder.IncRun(kind)
	if s.store != nil {
		status := persistence.RunStatusCompleted
		errMsg := ""
		if runErr != nil {
			status, errMsg = persistence.RunStatusError, runErr.Error()
		}
		errKind := final.ErrorKind
		//nolint:contextcheck // the run's context may be gone; the outcome still has to be recorded
		if err := s.store.FinishRun(context.Background(), state.RunID, status, errMsg, errKind); err != nil {
			logger.Warn("recording run outcome: %v", err)
		}
	}
	logger.Info("run finished: %s", final.String())
	return res, nil
}

func (s *Service) recordStart(ctx context.Context, state *plan.RunState, resumed bool) error {
	if resumed {
		return s.store.ReopenRun(ctx, state.RunID)
	}
	if err := s.store.CreateRun(ctx, state.RunID, state.UserPrompt, s.cfg.Model.Name); err != nil {
		return err
	}
	return s.store.SaveCheckpoint(ctx, state)
}

// terminal maps the run outcome to its status message and metric label.
func (s *Service) terminal(runErr error, summary orchestrator.Summary) (proto.Message, string) {
	switch {
	case runErr == nil && summary.Stopped:
		return proto.NewCompleted(MsgStopped), "stopped"
	case runErr == nil:
		return proto.NewCompleted(MsgCompleted), "completed"
	case llm.IsRateLimit(runErr):
		return proto.NewRateLimited(MsgRateLimited), "rate_limited"
	default:
		return proto.NewFailed(runErr.Error()), "error"
	}
}

// drive runs the orchestrator on a worker goroutine while the relay
// goroutine streams file events, and waits for both.
func (s *Service) drive(ctx context.Context, state *plan.RunState, stop *orchestrator.StopToken, emit proto.Emitter) (orchestrator.Summary, error) {
	opts := []orchestrator.Option{
		orchestrator.WithEmitter(emit),
		orchestrator.WithRecorder(s.recorder),
		orchestrator.WithLogger(logx.NewLogger("orchestrator")),
	}
	if s.store != nil {
		opts = append(opts, orchestrator.WithCheckpointer(persistence.NewCheckpointer(s.store)))
	}

	var (
		summary orchestrator.Summary
		runErr  error
	)

	if s.cfg.Relay.EventMode == config.EventModeSnapshot {
		sb, err := s.Sandbox()
		if err != nil {
			return summary, err
		}
		watcher, err := relay.NewSnapshotWatcher(sb.Root(), s.cfg.Relay.SettleDelay)
		if err != nil {
			return summary, err
		}
		emit.Emit(proto.NewLog("🤖 AI agent is working..."))
		summary, runErr = orchestrator.New(s.client, sb, s.orchestratorConfig(), opts...).Run(ctx, state, stop)

		//nolint:contextcheck // settle even when the run was cancelled
		ops, err := watcher.Finish(context.Background())
		if err != nil {
			s.logger.WithRunID(state.RunID).Warn("snapshot diff failed: %v", err)
		}
		for _, op := range ops {
			emit.Emit(proto.NewFileEvent(op))
			s.recorder.IncFileEvent(string(op.Kind))
		}
		return summary, runErr
	}

	queue := relay.NewQueue()
	sb, err := sandbox.New(s.cfg.Sandbox.Root, sandbox.WithObserver(queue))
	if err != nil {
		return summary, err
	}
	poller := relay.NewPoller(queue, emit,
		relay.WithInterval(s.cfg.Relay.PollInterval),
		relay.WithGrace(s.cfg.Relay.DrainGrace),
		relay.WithRecorder(s.recorder),
	)

	// The relay outlives a cancelled run long enough to drain, so neither
	// goroutine cancels the other.
	var g errgroup.Group
	g.Go(func() error {
		//nolint:contextcheck // drain is bounded by the grace period, not the run
		return poller.Run(context.Background())
	})
	g.Go(func() error {
		emit.Emit(proto.NewLog("🤖 AI agent is working..."))
		summary, runErr = orchestrator.New(s.client, sb, s.orchestratorConfig(), opts...).Run(ctx, state, stop)
		finishCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Relay.DrainGrace+5*time.Second)
		defer cancel()
		//nolint:contextcheck // drain after cancellation too
		return poller.Finish(finishCtx)
	})
	logger := s.logger.WithRunID(state.RunID)
	if err := g.Wait(); err != nil {
		logger.Warn("relay did not drain cleanly: %v", err)
	}
	logger.Info("relay emitted %d file events", poller.Emitted())
	return summary, runErr
}

func (s *Service) orchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		OuterStepBudget:    s.cfg.Orchestrator.OuterStepBudget,
		InnerStepBudget:    s.cfg.Orchestrator.InnerStepBudget,
		ContinuationPolicy: orchestrator.ContinuationPolicy(s.cfg.Orchestrator.ContinuationPolicy),
		MaxTokens:          s.cfg.Model.MaxTokens,
		Temperature:        float32(s.cfg.Model.Temperature),
		CommandTimeout:     s.cfg.Tools.CommandTimeout,
	}
}

func stampRunID(runID string, next proto.Emitter) proto.Emitter {
	return proto.EmitterFunc(func(msg proto.Message) {
		msg.RunID = runID
		next.Emit(msg)
	})
}
