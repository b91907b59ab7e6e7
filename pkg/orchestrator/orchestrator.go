// Package orchestrator drives a generation run through the pipeline
//
//	PLANNER -> ARCHITECT -> CODER (self-loop) -> DONE
//
// The planner and architect each make one structured completion. The coder
// processes one implementation step per activation through a bounded tool
// loop scoped to the sandbox file tools, advancing a resumable cursor stored
// in the RunState. The whole run is bounded by an outer transition budget.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"genforge/pkg/llm"
	"genforge/pkg/llm/toolloop"
	"genforge/pkg/logx"
	"genforge/pkg/metrics"
	"genforge/pkg/plan"
	"genforge/pkg/proto"
	"genforge/pkg/sandbox"
	"genforge/pkg/tools"
)

var (
	// ErrStructuredOutputMissing means the planner or architect got no usable result.
	ErrStructuredOutputMissing = errors.New("structured output missing")
	// ErrStepBudgetExceeded means the run used up its outer transition budget.
	ErrStepBudgetExceeded = errors.New("run step budget exceeded")
)

// Default budgets.
const (
	DefaultOuterStepBudget = 150
	DefaultInnerStepBudget = toolloop.DefaultMaxSteps
)

// ContinuationPolicy decides what a failed coder step does to the run.
type ContinuationPolicy string

const (
	// BestEffort logs a failed step and moves on.
	BestEffort ContinuationPolicy = "best_effort"
	// FailFast aborts the run on the first failed step.
	FailFast ContinuationPolicy = "fail_fast"
)

// Checkpointer persists the run state after every transition.
type Checkpointer interface {
	Checkpoint(ctx context.Context, state *plan.RunState) error
}

// Config bounds a run.
type Config struct {
	OuterStepBudget    int
	InnerStepBudget    int
	ContinuationPolicy ContinuationPolicy
	MaxTokens          int
	// Temperature is sent as-is, zero included. Negative selects llm.TemperatureDefault.
	Temperature float32
	// CommandTimeout bounds run_cmd when it is among the coder's tools.
	CommandTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.OuterStepBudget <= 0 {
		c.OuterStepBudget = DefaultOuterStepBudget
	}
	if c.InnerStepBudget <= 0 {
		c.InnerStepBudget = DefaultInnerStepBudget
	}
	if c.ContinuationPolicy == "" {
		c.ContinuationPolicy = BestEffort
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = llm.DefaultMaxTokens
	}
	if c.Temperature < 0 {
		c.Temperature = llm.TemperatureDefault
	}
}

// Summary reports what a run did.
type Summary struct {
	Transitions int
	StepsTotal  int
	StepsFailed int
	Stopped     bool
}

// Orchestrator runs the pipeline for one sandbox.
type Orchestrator struct {
	client       llm.LLMClient
	sandbox      *sandbox.Sandbox
	cfg          Config
	table        TransitionTable
	emitter      proto.Emitter
	checkpointer Checkpointer
	recorder     metrics.Recorder
	logger       *logx.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEmitter sends progress log messages to e.
func WithEmitter(e proto.Emitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

// WithCheckpointer persists state after every transition.
func WithCheckpointer(c Checkpointer) Option {
	return func(o *Orchestrator) { o.checkpointer = c }
}

// WithRecorder records coder step outcomes.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithLogger replaces the default logger.
func WithLogger(l *logx.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an orchestrator. sb must carry the run's file observer.
func New(client llm.LLMClient, sb *sandbox.Sandbox, cfg Config, opts ...Option) *Orchestrator {
	cfg.applyDefaults()
	o := &Orchestrator{
		client:   client,
		sandbox:  sb,
		cfg:      cfg,
		table:    Transitions,
		emitter:  proto.Discard,
		recorder: metrics.Nop(),
		logger:   logx.NewLogger("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run drives state from its current stage to DONE. It can resume a
// checkpointed state: the stage is derived from which fields are set and the
// coder continues from the stored cursor. stop is checked before every coder
// step; ctx cancellation aborts between transitions.
func (o *Orchestrator) Run(ctx context.Context, state *plan.RunState, stop *StopToken) (Summary, error) {
	var summary Summary
	logger := o.logger.WithRunID(state.RunID)
	ctx = logx.WithRunID(ctx, state.RunID)

	current := state.Stage()
	for !o.table.IsTerminal(current) {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("run cancelled in %s: %w", current, err)
		}
		if summary.Transitions >= o.cfg.OuterStepBudget {
			return summary, fmt.Errorf("%w: %d transitions without reaching %s", ErrStepBudgetExceeded, o.cfg.OuterStepBudget, plan.StageDone)
		}
		if err := state.ValidateFor(current); err != nil {
			return summary, err
		}

		next, err := o.process(ctx, current, state, stop, &summary)
		summary.Transitions++
		if err != nil {
			return summary, err
		}
		if !o.table.IsValidTransition(current, next) {
			return summary, fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, current, next)
		}
		if current != next {
			logger.DebugState(current.String(), next.String())
		}

		if o.checkpointer != nil {
			if err := o.checkpointer.Checkpoint(ctx, state); err != nil {
				return summary, fmt.Errorf("failed to persist state transition: %w", err)
			}
		}
		current = next
	}

	if state.CoderState != nil {
		summary.StepsTotal = state.CoderState.Total()
	}
	logger.Info("run finished after %d transitions (%d steps, %d failed, stopped=%t)",
		summary.Transitions, summary.StepsTotal, summary.StepsFailed, summary.Stopped)
	return summary, nil
}

func (o *Orchestrator) process(ctx context.Context, stage plan.Stage, state *plan.RunState, stop *StopToken, summary *Summary) (plan.Stage, error) {
	switch stage {
	case plan.StagePlanner:
		return plan.StageArchitect, o.handlePlanner(ctx, state)
	case plan.StageArchitect:
		return plan.StageCoder, o.handleArchitect(ctx, state)
	case plan.StageCoder:
		return o.handleCoder(ctx, state, stop, summary)
	default:
		return stage, fmt.Errorf("%w: no handler for %s", ErrInvalidTransition, stage)
	}
}

func (o *Orchestrator) request(system, user string) llm.CompletionRequest {
	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage(user)})
	if system != "" {
		req.Messages = append([]llm.CompletionMessage{llm.NewSystemMessage(system)}, req.Messages...)
	}
	req.MaxTokens = o.cfg.MaxTokens
	req.Temperature = o.cfg.Temperature
	return req
}

func (o *Orchestrator) handlePlanner(ctx context.Context, state *plan.RunState) error {
	ctx = metrics.WithRun(ctx, state.RunID, "planner")
	var p plan.Plan
	err := llm.CompleteStructured(ctx, o.client, o.request("", PlannerPrompt(state.UserPrompt)), plan.PlanToolDefinition(), &p)
	if err != nil {
		if errors.Is(err, llm.ErrNoStructuredOutput) {
			return fmt.Errorf("%w: planner: %w", ErrStructuredOutputMissing, err)
		}
		return fmt.Errorf("planner: %w", err)
	}
	if p.IsEmpty() {
		return fmt.Errorf("%w: planner returned an empty plan", ErrStructuredOutputMissing)
	}

	state.Plan = &p
	o.emitter.Emit(proto.NewLog("Plan ready: %s (%d files)", p.Name, len(p.Files)))
	return nil
}

func (o *Orchestrator) handleArchitect(ctx context.Context, state *plan.RunState) error {
	ctx = metrics.WithRun(ctx, state.RunID, "architect")
	planJSON, err := json.Marshal(state.Plan)
	if err != nil {
		return fmt.Errorf("architect: encode plan: %w", err)
	}

	var tp plan.TaskPlan
	err = llm.CompleteStructured(ctx, o.client, o.request("", ArchitectPrompt(string(planJSON))), plan.TaskPlanToolDefinition(), &tp)
	if err != nil {
		if errors.Is(err, llm.ErrNoStructuredOutput) {
			return fmt.Errorf("%w: architect: %w", ErrStructuredOutputMissing, err)
		}
		return fmt.Errorf("architect: %w", err)
	}
	if err := tp.Validate(); err != nil {
		return fmt.Errorf("%w: architect: %w", ErrStructuredOutputMissing, err)
	}

	tp.Plan = state.Plan
	state.TaskPlan = &tp
	o.emitter.Emit(proto.NewLog("Task plan ready: %d steps", len(tp.ImplementationSteps)))
	return nil
}

// handleCoder runs one activation of the coder loop.
func (o *Orchestrator) handleCoder(ctx context.Context, state *plan.RunState, stop *StopToken, summary *Summary) (plan.Stage, error) {
	if state.CoderState == nil {
		state.CoderState = plan.NewCoderState(state.TaskPlan)
	}
	cs := state.CoderState
	logger := o.logger.WithRunID(state.RunID)

	if stop.Stopped() {
		logger.Info("stop requested, halting coder at step %d/%d", cs.CurrentStepIdx, cs.Total())
		o.emitter.Emit(proto.NewLog("Stop requested. Halting generation."))
		summary.Stopped = true
		return plan.StageDone, state.MarkDone()
	}
	if cs.Done() {
		logger.Info("all %d steps completed", cs.Total())
		return plan.StageDone, state.MarkDone()
	}

	step, _ := cs.Current()
	n, total := cs.CurrentStepIdx+1, cs.Total()
	o.emitter.Emit(proto.NewLog("Processing step %d/%d: %s", n, total, step.TaskDescription))
	logger.Info("processing step %d/%d: %s", n, total, step.FilePath)

	stepErr := o.implementStep(metrics.WithRun(ctx, state.RunID, "coder"), step)
	if err := cs.Advance(); err != nil {
		return plan.StageCoder, err
	}

	if stepErr != nil {
		summary.StepsFailed++
		o.recorder.IncCoderStep("failed")
		if o.cfg.ContinuationPolicy == FailFast {
			return plan.StageCoder, fmt.Errorf("step %d/%d (%s): %w", n, total, step.FilePath, stepErr)
		}
		logger.Warn("step %d/%d failed, continuing: %v", n, total, stepErr)
		o.emitter.Emit(proto.NewLog("Failed step %d: %v", n, stepErr))
	} else {
		o.recorder.IncCoderStep("succeeded")
		o.emitter.Emit(proto.NewLog("Completed step %d", n))
	}

	if cs.Done() {
		return plan.StageDone, state.MarkDone()
	}
	return plan.StageCoder, nil
}

func (o *Orchestrator) implementStep(ctx context.Context, step plan.ImplementationStep) error {
	existing, err := o.sandbox.Read(step.FilePath)
	if err != nil {
		return fmt.Errorf("read %s: %w", step.FilePath, err)
	}

	provider, err := tools.NewProvider(o.sandbox, tools.CoderTools, tools.WithCommandTimeout(o.cfg.CommandTimeout))
	if err != nil {
		return err
	}

	loop := toolloop.New(o.client, o.logger)
	res, err := loop.Run(ctx, &toolloop.Config{
		SystemPrompt:  CoderSystemPrompt(provider.Documentation()),
		InitialPrompt: CoderTaskPrompt(step, existing),
		ToolProvider:  provider,
		MaxSteps:      o.cfg.InnerStepBudget,
		MaxTokens:     o.cfg.MaxTokens,
		Temperature:   o.cfg.Temperature,
	})
	logx.Debug(ctx, "coder", "step %s: %d loop steps, %d tool calls", step.FilePath, res.Steps, res.ToolCalls)
	return err
}
