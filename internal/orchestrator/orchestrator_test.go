package orchestrator_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ShashankBejjanki1241/GIZMO/internal/agent"
	"github.com/ShashankBejjanki1241/GIZMO/internal/eventbus"
	"github.com/ShashankBejjanki1241/GIZMO/internal/memory"
	"github.com/ShashankBejjanki1241/GIZMO/internal/metrics"
	"github.com/ShashankBejjanki1241/GIZMO/internal/model"
	"github.com/ShashankBejjanki1241/GIZMO/internal/orchestrator"
)

// breakingCoderLLM makes the planner and tester behave, but the coder emit
// a well-formed diff whose context never matches — forcing a fatal
// diff-apply failure.
type breakingCoderLLM struct{}

func (breakingCoderLLM) Complete(_ context.Context, system, _ string, _ int) (string, error) {
	switch {
	case strings.Contains(system, "planning a code change"):
		return `{"plan": ["break"], "files_to_modify": ["x"], "estimated_time": "1m"}`, nil
	case strings.Contains(system, "unified diff"):
		return "--- a/src/calculator.js\n+++ b/src/calculator.js\n@@ -1,2 +1,3 @@\n class NotThere {\n+  broken\n }\nCOMMIT: break", nil
	default:
		return `{"test_summary": "s", "test_results": {}, "recommendations": [], "status": "passed"}`, nil
	}
}

type fixture struct {
	orch    *orchestrator.Orchestrator
	bus     *eventbus.Bus
	mem     *memory.Store
	tracker *metrics.Tracker
}

// newFixture assembles an orchestrator over real components; a nil llm
// runs the deterministic stubs.
func newFixture(t *testing.T, llmClient interface {
	Complete(ctx context.Context, system, user string, maxTokens int) (string, error)
}) *fixture {
	t.Helper()
	bus := eventbus.New()
	mem := memory.New(0)
	tracker := metrics.New()

	var agents *agent.Client
	cfg := agent.Config{MaxRetries: 2, RetryDelay: time.Millisecond}
	if llmClient == nil {
		agents = agent.New(nil, mem, tracker, cfg, zap.NewNop())
	} else {
		agents = agent.New(llmClient, mem, tracker, cfg, zap.NewNop())
	}

	orch := orchestrator.New(orchestrator.Config{
		WorkspaceRoot: t.TempDir(),
		TemplatesDir:  "does-not-exist",
	}, agents, bus, mem, tracker, nil, zap.NewNop())

	return &fixture{orch: orch, bus: bus, mem: mem, tracker: tracker}
}

var canonicalOrder = map[model.State]int{
	model.StateStarting:    0,
	model.StatePlanning:    1,
	model.StateCoding:      2,
	model.StateDiffApplied: 3,
	model.StateTesting:     4,
	model.StateTestReport:  5,
	model.StateDone:        6,
	model.StateFailed:      6,
}

// checkEventInvariants asserts iteration contiguity, stage monotonicity,
// and that nothing follows the terminal event.
func checkEventInvariants(t *testing.T, events []*model.TaskEvent) {
	t.Helper()
	require.NotEmpty(t, events)
	for i, e := range events {
		require.Equal(t, i, e.Iteration, "iterations must be 0,1,2,… with no gaps")
		if i > 0 {
			require.GreaterOrEqual(t,
				canonicalOrder[e.Stage], canonicalOrder[events[i-1].Stage],
				"stage sequence must respect the canonical order")
		}
	}
	for i, e := range events {
		if e.Stage.Terminal() {
			require.Equal(t, len(events)-1, i, "no event may follow the terminal event")
		}
	}
}

// ---------------------------------------------------------------------------
// Happy paths
// ---------------------------------------------------------------------------

func TestHappyPathPerTemplate(t *testing.T) {
	tests := []struct {
		taskID      string
		template    model.Template
		instruction string
	}{
		{"t1", model.TemplateReact, "Add division function with divide-by-zero guard"},
		{"t2", model.TemplateExpress, "Add /healthz endpoint"},
		{"t3", model.TemplateFlask, "Add /sum endpoint"},
	}

	for _, tt := range tests {
		t.Run(string(tt.template), func(t *testing.T) {
			f := newFixture(t, nil)

			run, err := f.orch.Submit(context.Background(), model.TaskRequest{
				TaskID:      tt.taskID,
				Template:    tt.template,
				Instruction: tt.instruction,
			})
			require.NoError(t, err)
			require.Equal(t, model.StateStarting, run.State)
			require.NotEmpty(t, run.RunID)

			f.orch.Wait()

			final, events, ok := f.orch.Get(tt.taskID)
			require.True(t, ok)
			require.Equal(t, model.StateDone, final.State)
			checkEventInvariants(t, events)
			require.Equal(t, model.StateDone, events[len(events)-1].Stage)

			// Exactly one plan and one diff absorbed into memory.
			plans, diffs := f.mem.Counts()
			require.Equal(t, 1, plans)
			require.Equal(t, 1, diffs)

			snap := f.tracker.Snapshot()
			require.Equal(t, 1, snap.SuccessfulTasks)
			require.Zero(t, snap.FailedTasks)
		})
	}
}

func TestRunRemovedFromActiveButQueryable(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.orch.Submit(context.Background(), model.TaskRequest{
		TaskID: "t1", Template: model.TemplateReact, Instruction: "add divide",
	})
	require.NoError(t, err)
	f.orch.Wait()

	// Queryable after terminal…
	run, _, ok := f.orch.Get("t1")
	require.True(t, ok)
	require.True(t, run.State.Terminal())

	// …and the task_id is admissible again.
	_, err = f.orch.Submit(context.Background(), model.TaskRequest{
		TaskID: "t1", Template: model.TemplateReact, Instruction: "add divide",
	})
	require.NoError(t, err)
	f.orch.Wait()
}

// ---------------------------------------------------------------------------
// Admission
// ---------------------------------------------------------------------------

// gatedLLM blocks every completion until the gate closes, then fails the
// call so the agent client falls back to stubs. It pins the first run
// in-flight for as long as a test needs it active.
type gatedLLM struct {
	gate chan struct{}
}

func (g *gatedLLM) Complete(ctx context.Context, _, _ string, _ int) (string, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
	}
	return "", errors.New("completion service down")
}

func TestDuplicateActiveTaskRejected(t *testing.T) {
	gate := &gatedLLM{gate: make(chan struct{})}
	f := newFixture(t, gate)
	ctx := context.Background()

	req := model.TaskRequest{TaskID: "dup", Template: model.TemplateFlask, Instruction: "x"}
	_, err := f.orch.Submit(ctx, req)
	require.NoError(t, err)

	// The first run is pinned inside its planner call, so the task is
	// still active.
	_, err = f.orch.Submit(ctx, req)
	require.ErrorIs(t, err, orchestrator.ErrDuplicateTask)

	close(gate.gate)
	f.orch.Wait()

	run, _, ok := f.orch.Get("dup")
	require.True(t, ok)
	require.Equal(t, model.StateDone, run.State, "stub fallback should still finish the run")
}

func TestSubmitValidatesInput(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.orch.Submit(ctx, model.TaskRequest{Template: model.TemplateReact, Instruction: "x"})
	require.Error(t, err)

	_, err = f.orch.Submit(ctx, model.TaskRequest{TaskID: "t", Template: model.TemplateReact})
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// Failure and quarantine
// ---------------------------------------------------------------------------

func TestDiffApplyFailureFailsRun(t *testing.T) {
	f := newFixture(t, breakingCoderLLM{})

	_, err := f.orch.Submit(context.Background(), model.TaskRequest{
		TaskID: "bad", Template: model.TemplateReact, Instruction: "explode",
	})
	require.NoError(t, err)
	f.orch.Wait()

	run, events, ok := f.orch.Get("bad")
	require.True(t, ok)
	require.Equal(t, model.StateFailed, run.State)
	require.NotEmpty(t, run.Error)
	checkEventInvariants(t, events)
	require.Equal(t, model.StateFailed, events[len(events)-1].Stage)

	// Nothing is remembered from a failed run.
	plans, diffs := f.mem.Counts()
	require.Zero(t, plans)
	require.Zero(t, diffs)
}

func TestQuarantineAfterTwoFailures(t *testing.T) {
	f := newFixture(t, breakingCoderLLM{})
	ctx := context.Background()

	req := model.TaskRequest{TaskID: "q", Template: model.TemplateReact, Instruction: "same instruction"}

	for i := 0; i < 2; i++ {
		_, err := f.orch.Submit(ctx, req)
		require.NoError(t, err, "submission %d should be admitted", i+1)
		f.orch.Wait()
	}

	// Third admission with the identical signature is rejected.
	_, err := f.orch.Submit(ctx, req)
	require.ErrorIs(t, err, orchestrator.ErrQuarantined)

	// A different instruction is a different signature and still admissible.
	other := model.TaskRequest{TaskID: "q2", Template: model.TemplateReact, Instruction: "different instruction"}
	_, err = f.orch.Submit(ctx, other)
	require.NoError(t, err)
	f.orch.Wait()
}

// ---------------------------------------------------------------------------
// Concurrency
// ---------------------------------------------------------------------------

func TestConcurrentRunsKeepPerRunOrdering(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	byRun := map[string][]*model.TaskEvent{}
	all := f.bus.SubscribeAll()
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for e := range all {
			byRun[e.RunID] = append(byRun[e.RunID], e)
		}
	}()

	_, err := f.orch.Submit(ctx, model.TaskRequest{
		TaskID: "t5a", Template: model.TemplateExpress, Instruction: "Add /healthz endpoint",
	})
	require.NoError(t, err)
	_, err = f.orch.Submit(ctx, model.TaskRequest{
		TaskID: "t5b", Template: model.TemplateFlask, Instruction: "Add /sum endpoint",
	})
	require.NoError(t, err)

	f.orch.Wait()
	f.bus.UnsubscribeAll(all)
	<-collected

	require.Len(t, byRun, 2)
	for runID, events := range byRun {
		for i, e := range events {
			require.Equal(t, i, e.Iteration,
				"run %s: events must arrive in iteration order", runID)
		}
	}
}

// ---------------------------------------------------------------------------
// Archiver integration
// ---------------------------------------------------------------------------

type fakeArchiver struct {
	runs chan *model.TaskRun
}

func (f *fakeArchiver) ArchiveRun(run *model.TaskRun, events []*model.TaskEvent) error {
	f.runs <- run
	if len(events) == 0 {
		return errors.New("no events")
	}
	return nil
}

func TestTerminalRunsAreArchived(t *testing.T) {
	bus := eventbus.New()
	mem := memory.New(0)
	tracker := metrics.New()
	agents := agent.New(nil, mem, tracker, agent.Config{MaxRetries: 1, RetryDelay: time.Millisecond}, zap.NewNop())
	arch := &fakeArchiver{runs: make(chan *model.TaskRun, 1)}

	orch := orchestrator.New(orchestrator.Config{
		WorkspaceRoot: t.TempDir(),
		TemplatesDir:  "does-not-exist",
	}, agents, bus, mem, tracker, arch, zap.NewNop())

	_, err := orch.Submit(context.Background(), model.TaskRequest{
		TaskID: "t1", Template: model.TemplateGeneric, Instruction: "x",
	})
	require.NoError(t, err)
	orch.Wait()

	select {
	case run := <-arch.runs:
		require.True(t, run.State.Terminal())
	case <-time.After(time.Second):
		t.Fatal("terminal run was not archived")
	}
}
