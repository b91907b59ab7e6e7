package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genforge/pkg/config"
	"genforge/pkg/llm"
	"genforge/pkg/orchestrator"
	"genforge/pkg/persistence"
	"genforge/pkg/plan"
	"genforge/pkg/proto"
	"genforge/pkg/testkit"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Sandbox.Root = filepath.Join(t.TempDir(), "generated_project")
	cfg.Relay.PollInterval = 5 * time.Millisecond
	cfg.Relay.DrainGrace = 20 * time.Millisecond
	cfg.Relay.SettleDelay = 50 * time.Millisecond
	return cfg
}

func testStore(t *testing.T) *persistence.DatabaseOperations {
	t.Helper()
	db, err := persistence.InitializeDatabase(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return persistence.NewDatabaseOperations(db)
}

func hasLog(msgs []proto.Message, substr string) bool {
	for _, m := range msgs {
		if m.Type == proto.MsgTypeLog && strings.Contains(m.Message, substr) {
			return true
		}
	}
	return false
}

func TestRunBuildsTwoPageSite(t *testing.T) {
	cfg := testConfig(t)
	model := testkit.TwoPageSite()
	svc := NewService(cfg, model.Client())
	rec := &testkit.Recorder{}

	res, err := svc.Run(context.Background(), "Build a two-page static site", rec)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusCompleted, res.Status)
	assert.NoError(t, res.Err)
	assert.GreaterOrEqual(t, res.Summary.StepsTotal, 1)

	msgs := rec.Messages()
	last := testkit.AssertSingleTerminal(t, msgs, proto.StatusCompleted)
	assert.Equal(t, MsgCompleted, last.Message)
	assert.True(t, hasLog(msgs, "Starting project generation..."))
	assert.True(t, hasLog(msgs, "Prompt: Build a two-page static site"))
	assert.True(t, hasLog(msgs, "AI agent is working..."))
	for _, m := range msgs {
		assert.Equal(t, res.RunID, m.RunID)
	}

	creates := rec.OfType(proto.MsgTypeFileCreate)
	require.Len(t, creates, 3)
	assert.Equal(t, []string{"css/style.css", "index.html", "about.html"}, rec.FilePaths())
	for _, m := range creates {
		assert.Equal(t, "Created: "+m.Data.Path, m.Message)
		data, err := os.ReadFile(filepath.Join(cfg.Sandbox.Root, m.Data.Path))
		require.NoError(t, err)
		assert.NotEmpty(t, data)
	}
	assert.Empty(t, svc.ActiveRunID())
}

func TestRunSecondWriteIsUpdate(t *testing.T) {
	cfg := testConfig(t)
	model := testkit.TwoPageSite()
	svc := NewService(cfg, model.Client())

	_, err := svc.Run(context.Background(), "first", proto.Discard)
	require.NoError(t, err)

	rec := &testkit.Recorder{}
	_, err = svc.Run(context.Background(), "second", rec)
	require.NoError(t, err)
	assert.Empty(t, rec.OfType(proto.MsgTypeFileCreate))
	assert.Len(t, rec.OfType(proto.MsgTypeFileUpdate), 3)
}

func TestRunRateLimitedIsDistinguishable(t *testing.T) {
	cfg := testConfig(t)
	client := llm.Chain(
		llm.NewMockLLMClient(llm.MockStep{Err: errors.New("429: Rate Limit reached")}),
		llm.RateLimitMiddleware(),
	)
	svc := NewService(cfg, client)
	rec := &testkit.Recorder{}

	res, err := svc.Run(context.Background(), "anything", rec)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusError, res.Status)
	assert.ErrorIs(t, res.Err, llm.ErrRateLimitExceeded)

	msgs := rec.Messages()
	last := testkit.AssertSingleTerminal(t, msgs, proto.StatusError)
	assert.Equal(t, proto.ErrorKindRateLimited, last.ErrorKind)
	assert.Contains(t, last.Message, "try again later")
	assert.Equal(t, proto.MsgTypeError, msgs[len(msgs)-2].Type)
}

func TestRunGenericFailure(t *testing.T) {
	cfg := testConfig(t)
	client := llm.NewMockLLMClient(llm.MockStep{Response: llm.CompletionResponse{Content: "no plan for you"}})
	svc := NewService(cfg, client)
	rec := &testkit.Recorder{}

	res, err := svc.Run(context.Background(), "anything", rec)
	require.NoError(t, err)
	last := testkit.AssertSingleTerminal(t, rec.Messages(), proto.StatusError)
	assert.Empty(t, last.ErrorKind)
	assert.Contains(t, last.Message, "structured output missing")
	assert.Equal(t, proto.StatusError, res.Status)
}

func TestStopHaltsActiveRun(t *testing.T) {
	cfg := testConfig(t)
	model := testkit.TwoPageSite()
	svc := NewService(cfg, model.Client())
	assert.False(t, svc.Stop())

	model.Content = func(path string) string {
		if path == "css/style.css" {
			assert.True(t, svc.Stop())
		}
		return "body {}"
	}
	rec := &testkit.Recorder{}

	res, err := svc.Run(context.Background(), "Build a two-page static site", rec)
	require.NoError(t, err)
	assert.True(t, res.Summary.Stopped)
	last := testkit.AssertSingleTerminal(t, rec.Messages(), proto.StatusCompleted)
	assert.Equal(t, MsgStopped, last.Message)
	assert.Equal(t, []string{"css/style.css"}, rec.FilePaths())
	assert.True(t, hasLog(rec.Messages(), "Stop requested"))
}

func TestConcurrentRunRejected(t *testing.T) {
	cfg := testConfig(t)
	model := testkit.TwoPageSite()
	client := model.Client()
	inner := client.Handler

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	client.Handler = func(req llm.CompletionRequest) (llm.CompletionResponse, error) {
		once.Do(func() { close(started) })
		<-release
		return inner(req)
	}
	svc := NewService(cfg, client)

	done := make(chan Result, 1)
	go func() {
		res, _ := svc.Run(context.Background(), "first", proto.Discard)
		done <- res
	}()
	<-started

	active := svc.ActiveRunID()
	assert.NotEmpty(t, active)
	rec := &testkit.Recorder{}
	_, err := svc.Run(context.Background(), "second", rec)
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Empty(t, rec.Messages(), "a rejected run emits nothing")

	assert.True(t, svc.EmitToActive(proto.NewLog("hello")))
	close(release)
	res := <-done
	assert.Equal(t, active, res.RunID)
	assert.Equal(t, proto.StatusCompleted, res.Status)
	assert.False(t, svc.EmitToActive(proto.NewLog("nobody")))
}

func TestSnapshotModeReportsChanges(t *testing.T) {
	cfg := testConfig(t)
	cfg.Relay.EventMode = config.EventModeSnapshot
	model := testkit.TwoPageSite()
	svc := NewService(cfg, model.Client())
	rec := &testkit.Recorder{}

	_, err := svc.Run(context.Background(), "Build a two-page static site", rec)
	require.NoError(t, err)
	testkit.AssertSingleTerminal(t, rec.Messages(), proto.StatusCompleted)
	assert.Equal(t, []string{"about.html", "css/style.css", "index.html"}, rec.FilePaths())
}

func TestRunPersistsAndResumes(t *testing.T) {
	store := testStore(t)
	cfg := testConfig(t)
	cfg.Orchestrator.OuterStepBudget = 3
	model := testkit.TwoPageSite()

	first, err := NewService(cfg, model.Client(), WithStore(store)).Run(context.Background(), "Build a two-page static site", proto.Discard)
	require.NoError(t, err)
	require.ErrorIs(t, first.Err, orchestrator.ErrStepBudgetExceeded)

	ctx := context.Background()
	run, err := store.GetRun(ctx, first.RunID)
	require.NoError(t, err)
	assert.Equal(t, persistence.RunStatusError, run.Status)

	state, err := store.LoadRunState(ctx, first.RunID)
	require.NoError(t, err)
	assert.Equal(t, plan.StageCoder, state.Stage())
	assert.Equal(t, 1, state.CoderState.CurrentStepIdx)

	cfg2 := *cfg
	cfg2.Orchestrator.OuterStepBudget = 0
	rec := &testkit.Recorder{}
	second, err := NewService(&cfg2, model.Client(), WithStore(store)).Resume(ctx, first.RunID, rec)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusCompleted, second.Status)
	assert.Equal(t, first.RunID, second.RunID)
	assert.True(t, hasLog(rec.Messages(), "Resuming run"))
	assert.Equal(t, []string{"index.html", "about.html"}, rec.FilePaths())

	run, err = store.GetRun(ctx, first.RunID)
	require.NoError(t, err)
	assert.Equal(t, persistence.RunStatusCompleted, run.Status)

	events, err := store.FileEvents(ctx, first.RunID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "css/style.css", events[0].Path)

	_, err = NewService(&cfg2, model.Client(), WithStore(store)).Resume(ctx, first.RunID, nil)
	assert.Error(t, err, "finished runs cannot be resumed")
}

func TestResumeWithoutStore(t *testing.T) {
	_, err := NewService(testConfig(t), llm.NewMockLLMClient()).Resume(context.Background(), "x", nil)
	assert.Error(t, err)
}

func TestStartRunsInBackground(t *testing.T) {
	cfg := testConfig(t)
	svc := NewService(cfg, testkit.TwoPageSite().Client())
	rec := &testkit.Recorder{}

	id, done, err := svc.Start(context.Background(), "Build a two-page static site", rec)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	res := <-done
	assert.Equal(t, id, res.RunID)
	assert.Equal(t, proto.StatusCompleted, res.Status)
	testkit.AssertSingleTerminal(t, rec.Messages(), proto.StatusCompleted)
}
