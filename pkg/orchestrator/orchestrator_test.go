package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genforge/pkg/llm"
	"genforge/pkg/plan"
	"genforge/pkg/proto"
	"genforge/pkg/sandbox"
	"genforge/pkg/testkit"
)

type fileOps struct {
	ops []sandbox.FileOp
}

func (f *fileOps) FileChanged(op sandbox.FileOp) { f.ops = append(f.ops, op) }

func newSandbox(t *testing.T) (*sandbox.Sandbox, *fileOps) {
	t.Helper()
	obs := &fileOps{}
	sb, err := sandbox.New(filepath.Join(t.TempDir(), "generated_project"), sandbox.WithObserver(obs))
	require.NoError(t, err)
	return sb, obs
}

func stepsN(n int) []plan.ImplementationStep {
	steps := make([]plan.ImplementationStep, n)
	for i := range steps {
		steps[i] = plan.ImplementationStep{FilePath: fmt.Sprintf("src/file%d.txt", i), TaskDescription: "write it"}
	}
	return steps
}

func TestRunTwoPageSite(t *testing.T) {
	sb, obs := newSandbox(t)
	model := testkit.TwoPageSite()
	rec := &testkit.Recorder{}

	state := plan.NewRunState("run-1", "Build a two-page static site")
	o := New(model.Client(), sb, Config{}, WithEmitter(rec))
	summary, err := o.Run(context.Background(), state, NewStopToken())
	require.NoError(t, err)

	assert.Equal(t, plan.StageDone, state.Stage())
	require.NotNil(t, state.TaskPlan)
	assert.Same(t, state.Plan, state.TaskPlan.Plan)
	assert.GreaterOrEqual(t, len(state.TaskPlan.ImplementationSteps), 1)
	assert.Equal(t, 3, state.CoderState.CurrentStepIdx)
	assert.Equal(t, 3, summary.StepsTotal)
	assert.Zero(t, summary.StepsFailed)
	// planner + architect + one activation per step
	assert.Equal(t, 5, summary.Transitions)

	require.Len(t, obs.ops, 3)
	for _, op := range obs.ops {
		assert.Equal(t, sandbox.OpCreate, op.Kind)
		data, err := os.ReadFile(filepath.Join(sb.Root(), op.Path))
		require.NoError(t, err)
		assert.NotEmpty(t, data)
	}
	assert.NotEmpty(t, rec.OfType(proto.MsgTypeLog))
}

func TestCoderTerminatesWithinNActivations(t *testing.T) {
	for _, n := range []int{0, 1, 7} {
		t.Run(fmt.Sprintf("steps=%d", n), func(t *testing.T) {
			sb, _ := newSandbox(t)
			model := &testkit.PipelineModel{Plan: plan.Plan{Name: "p"}, Steps: stepsN(n)}

			state := plan.NewRunState("r", "prompt")
			summary, err := New(model.Client(), sb, Config{}).Run(context.Background(), state, nil)
			require.NoError(t, err)

			coderActivations := summary.Transitions - 2
			assert.LessOrEqual(t, coderActivations, max(n, 1))
			assert.Equal(t, plan.StatusDone, state.Status)
			assert.Equal(t, n, state.CoderState.CurrentStepIdx)
		})
	}
}

func TestStopBeforeCoderActivation(t *testing.T) {
	sb, obs := newSandbox(t)
	model := testkit.TwoPageSite()
	client := model.Client()
	stop := NewStopToken()
	stop.Stop()

	state := plan.NewRunState("r", "Build a two-page static site")
	summary, err := New(client, sb, Config{}).Run(context.Background(), state, stop)
	require.NoError(t, err)

	assert.True(t, summary.Stopped)
	assert.Equal(t, plan.StatusDone, state.Status)
	assert.Equal(t, 0, state.CoderState.CurrentStepIdx)
	assert.Zero(t, model.ToolCalls())
	assert.Zero(t, model.CoderCalls())
	assert.Empty(t, obs.ops)
	// planner and architect only
	assert.Equal(t, 2, client.CallCount())
}

func TestStopMidRunSkipsRemainingSteps(t *testing.T) {
	sb, obs := newSandbox(t)
	stop := NewStopToken()
	model := &testkit.PipelineModel{Plan: plan.Plan{Name: "p"}, Steps: stepsN(4)}
	model.Content = func(path string) string {
		if path == "src/file1.txt" {
			stop.Stop()
		}
		return "content"
	}

	state := plan.NewRunState("r", "prompt")
	summary, err := New(model.Client(), sb, Config{}).Run(context.Background(), state, stop)
	require.NoError(t, err)

	assert.True(t, summary.Stopped)
	assert.Equal(t, 2, state.CoderState.CurrentStepIdx, "the in-flight step completes")
	assert.Len(t, obs.ops, 2)
}

func TestBestEffortSkipsFailedStep(t *testing.T) {
	sb, obs := newSandbox(t)
	model := &testkit.PipelineModel{Plan: plan.Plan{Name: "p"}, Steps: stepsN(3)}
	model.FailStep = func(path string) error {
		if path == "src/file1.txt" {
			return errors.New("provider exploded")
		}
		return nil
	}
	rec := &testkit.Recorder{}

	state := plan.NewRunState("r", "prompt")
	summary, err := New(model.Client(), sb, Config{}, WithEmitter(rec)).Run(context.Background(), state, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.StepsFailed)
	assert.Equal(t, 3, state.CoderState.CurrentStepIdx)
	assert.Len(t, obs.ops, 2)

	var sawFailure bool
	for _, m := range rec.OfType(proto.MsgTypeLog) {
		if m.Message == "Failed step 2: LLM completion failed: provider exploded" {
			sawFailure = true
		}
	}
	assert.True(t, sawFailure)
}

func TestFailFastAbortsRun(t *testing.T) {
	sb, obs := newSandbox(t)
	model := &testkit.PipelineModel{Plan: plan.Plan{Name: "p"}, Steps: stepsN(3)}
	model.FailStep = func(path string) error {
		if path == "src/file0.txt" {
			return &llm.RateLimitExceededError{Err: errors.New("429")}
		}
		return nil
	}

	state := plan.NewRunState("r", "prompt")
	_, err := New(model.Client(), sb, Config{ContinuationPolicy: FailFast}).Run(context.Background(), state, nil)
	require.Error(t, err)
	assert.True(t, llm.IsRateLimit(err))
	assert.Equal(t, 1, state.CoderState.CurrentStepIdx, "cursor advances even on failure")
	assert.NotEqual(t, plan.StatusDone, state.Status)
	assert.Empty(t, obs.ops)
}

func TestPlannerWithoutStructuredOutputIsFatal(t *testing.T) {
	sb, _ := newSandbox(t)
	client := llm.NewMockLLMClient(llm.MockStep{Response: llm.CompletionResponse{Content: "I cannot help"}})

	state := plan.NewRunState("r", "prompt")
	_, err := New(client, sb, Config{}).Run(context.Background(), state, nil)
	assert.ErrorIs(t, err, ErrStructuredOutputMissing)
	assert.Nil(t, state.Plan)
}

func TestArchitectEmptyPlanIsValid(t *testing.T) {
	sb, _ := newSandbox(t)
	client := llm.NewMockLLMClient(
		llm.MockStep{Response: llm.CompletionResponse{Content: `{"name":"p","description":"d"}`}},
		llm.MockStep{Response: llm.CompletionResponse{ToolCalls: []llm.ToolCall{{
			Name: plan.SubmitTaskPlanTool, Parameters: map[string]any{"implementation_steps": []any{}},
		}}}},
	)

	state := plan.NewRunState("r", "prompt")
	summary, err := New(client, sb, Config{}).Run(context.Background(), state, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Transitions)
	assert.Equal(t, plan.StatusDone, state.Status)
}

func TestPlannerRateLimitSurfaces(t *testing.T) {
	sb, _ := newSandbox(t)
	client := llm.Chain(
		llm.NewMockLLMClient(llm.MockStep{Err: errors.New("Groq: RATE LIMIT reached for model")}),
		llm.RateLimitMiddleware(),
	)

	_, err := New(client, sb, Config{}).Run(context.Background(), plan.NewRunState("r", "prompt"), nil)
	assert.ErrorIs(t, err, llm.ErrRateLimitExceeded)
	assert.NotErrorIs(t, err, ErrStructuredOutputMissing)
}

func TestOuterBudgetExceeded(t *testing.T) {
	sb, _ := newSandbox(t)
	model := &testkit.PipelineModel{Plan: plan.Plan{Name: "p"}, Steps: stepsN(10)}

	state := plan.NewRunState("r", "prompt")
	summary, err := New(model.Client(), sb, Config{OuterStepBudget: 5}).Run(context.Background(), state, nil)
	assert.ErrorIs(t, err, ErrStepBudgetExceeded)
	assert.Equal(t, 5, summary.Transitions)
	assert.Equal(t, 3, state.CoderState.CurrentStepIdx)
}

func TestInnerBudgetBoundsStep(t *testing.T) {
	sb, _ := newSandbox(t)
	model := &testkit.PipelineModel{Plan: plan.Plan{Name: "p"}, Steps: stepsN(1)}
	client := model.Client()
	inner := client.Handler
	// A coder that never stops listing files.
	client.Handler = func(req llm.CompletionRequest) (llm.CompletionResponse, error) {
		if len(req.Tools) == 1 {
			return inner(req)
		}
		return llm.CompletionResponse{ToolCalls: []llm.ToolCall{{ID: "l", Name: "list_files", Parameters: map[string]any{}}}}, nil
	}

	state := plan.NewRunState("r", "prompt")
	summary, err := New(client, sb, Config{InnerStepBudget: 4}).Run(context.Background(), state, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.StepsFailed)
	// planner + architect + two model calls within the inner budget of four
	assert.Equal(t, 4, client.CallCount())
}

type memCheckpointer struct {
	saved [][]byte
}

func (m *memCheckpointer) Checkpoint(_ context.Context, s *plan.RunState) error {
	data, err := s.Encode()
	if err != nil {
		return err
	}
	m.saved = append(m.saved, data)
	return nil
}

func TestResumeFromCheckpoint(t *testing.T) {
	sb, obs := newSandbox(t)
	model := &testkit.PipelineModel{Plan: plan.Plan{Name: "p"}, Steps: stepsN(4)}
	cp := &memCheckpointer{}

	state := plan.NewRunState("r", "prompt")
	_, err := New(model.Client(), sb, Config{OuterStepBudget: 4}, WithCheckpointer(cp)).Run(context.Background(), state, nil)
	require.ErrorIs(t, err, ErrStepBudgetExceeded)
	require.Len(t, cp.saved, 4)

	restored, err := plan.Decode(cp.saved[len(cp.saved)-1])
	require.NoError(t, err)
	assert.Equal(t, plan.StageCoder, restored.Stage())
	assert.Equal(t, 2, restored.CoderState.CurrentStepIdx)

	summary, err := New(model.Client(), sb, Config{}).Run(context.Background(), restored, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Transitions)
	assert.Equal(t, plan.StatusDone, restored.Status)
	assert.Len(t, obs.ops, 4)
}

func TestRunCancelledContext(t *testing.T) {
	sb, _ := newSandbox(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(llm.NewMockLLMClient(), sb, Config{}).Run(ctx, plan.NewRunState("r", "prompt"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTransitions(t *testing.T) {
	assert.True(t, Transitions.IsValidTransition(plan.StagePlanner, plan.StageArchitect))
	assert.True(t, Transitions.IsValidTransition(plan.StageCoder, plan.StageCoder))
	assert.False(t, Transitions.IsValidTransition(plan.StagePlanner, plan.StageCoder))
	assert.False(t, Transitions.IsValidTransition(plan.StageDone, plan.StagePlanner))
	assert.True(t, Transitions.IsTerminal(plan.StageDone))
	assert.False(t, Transitions.IsTerminal(plan.StageCoder))
}

func TestStopToken(t *testing.T) {
	var nilToken *StopToken
	assert.False(t, nilToken.Stopped())
	tok := NewStopToken()
	assert.False(t, tok.Stopped())
	tok.Stop()
	tok.Stop()
	assert.True(t, tok.Stopped())
}

func TestConfigDefaultsKeepZeroTemperature(t *testing.T) {
	cfg := Config{Temperature: 0}
	cfg.applyDefaults()
	assert.Zero(t, cfg.Temperature)

	unset := Config{Temperature: -1}
	unset.applyDefaults()
	assert.InDelta(t, llm.TemperatureDefault, unset.Temperature, 1e-6)

	o := &Orchestrator{cfg: cfg}
	req := o.request("system", "user")
	assert.Zero(t, req.Temperature)
}

func TestCoderPromptListsAllowedTools(t *testing.T) {
	sb, _ := newSandbox(t)
	client := testkit.TwoPageSite().Client()

	state := plan.NewRunState("run-tools", "Build a two-page static site")
	_, err := New(client, sb, Config{}).Run(context.Background(), state, NewStopToken())
	require.NoError(t, err)

	var system string
	for _, req := range client.Requests() {
		if len(req.Messages) > 0 && req.Messages[0].Role == llm.RoleSystem &&
			strings.Contains(req.Messages[0].Content, "CODER agent") {
			system = req.Messages[0].Content
			break
		}
	}
	require.NotEmpty(t, system, "no coder request seen")
	assert.Contains(t, system, "- **write_file** -")
	assert.Contains(t, system, "- **read_file** -")
	assert.NotContains(t, system, "run_cmd")
}
