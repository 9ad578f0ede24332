// Package orchestrator drives each task run through the canonical stage
// sequence, emitting events, enforcing quarantine, and coordinating the
// sandbox and the agent client.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShashankBejjanki1241/GIZMO/internal/agent"
	"github.com/ShashankBejjanki1241/GIZMO/internal/eventbus"
	"github.com/ShashankBejjanki1241/GIZMO/internal/memory"
	"github.com/ShashankBejjanki1241/GIZMO/internal/metrics"
	"github.com/ShashankBejjanki1241/GIZMO/internal/model"
	"github.com/ShashankBejjanki1241/GIZMO/internal/sandbox"
)

// Admission errors, surfaced as 4xx by the API edge.
var (
	ErrDuplicateTask = errors.New("task already active")
	ErrQuarantined   = errors.New("quarantined")
)

// quarantineThreshold is the failure count at which a signature is denied
// admission for the rest of the process lifetime.
const quarantineThreshold = 2

// Archiver persists terminal runs. Implementations must tolerate being
// called from multiple runs concurrently.
type Archiver interface {
	ArchiveRun(run *model.TaskRun, events []*model.TaskEvent) error
}

// Config tunes the orchestrator.
type Config struct {
	WorkspaceRoot  string
	TemplatesDir   string
	CommandTimeout time.Duration
}

// Orchestrator owns the active-task map, the per-task event logs, and the
// quarantine counters. Each admitted task is executed by a dedicated
// goroutine; shared structures are guarded by a single mutex.
type Orchestrator struct {
	cfg     Config
	agents  *agent.Client
	bus     *eventbus.Bus
	memory  *memory.Store
	tracker *metrics.Tracker
	archive Archiver // optional
	logger  *zap.Logger

	mu         sync.Mutex
	active     map[string]*model.TaskRun    // by task_id, removed on terminal
	latest     map[string]*model.TaskRun    // by task_id, retained after terminal
	events     map[string][]*model.TaskEvent
	quarantine map[string]int // failure count by signature

	wg sync.WaitGroup
}

// New creates an Orchestrator. archive may be nil.
func New(cfg Config, agents *agent.Client, bus *eventbus.Bus, mem *memory.Store, tracker *metrics.Tracker, archive Archiver, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		agents:     agents,
		bus:        bus,
		memory:     mem,
		tracker:    tracker,
		archive:    archive,
		logger:     logger,
		active:     make(map[string]*model.TaskRun),
		latest:     make(map[string]*model.TaskRun),
		events:     make(map[string][]*model.TaskEvent),
		quarantine: make(map[string]int),
	}
}

// Submit admits a task and starts its run goroutine. The returned TaskRun
// snapshot reflects the admission-time state.
func (o *Orchestrator) Submit(ctx context.Context, req model.TaskRequest) (*model.TaskRun, error) {
	if req.TaskID == "" {
		return nil, fmt.Errorf("task_id is required")
	}
	if req.Instruction == "" {
		return nil, fmt.Errorf("instruction is required")
	}

	sig := signature(req.Template, req.Instruction)
	now := time.Now().UTC()

	o.mu.Lock()
	if o.quarantine[sig] >= quarantineThreshold {
		o.mu.Unlock()
		return nil, ErrQuarantined
	}
	if _, busy := o.active[req.TaskID]; busy {
		o.mu.Unlock()
		return nil, ErrDuplicateTask
	}
	run := &model.TaskRun{
		TaskID:      req.TaskID,
		RunID:       uuid.New().String(),
		Template:    req.Template,
		Instruction: req.Instruction,
		State:       model.StateStarting,
		StartTime:   now,
	}
	o.active[req.TaskID] = run
	o.latest[req.TaskID] = run
	o.events[req.TaskID] = nil // a fresh run resets the task's event log
	o.mu.Unlock()

	o.tracker.StartTask(req.TaskID, run.RunID, now)
	o.logger.Info("task admitted",
		zap.String("task_id", req.TaskID),
		zap.String("run_id", run.RunID),
		zap.String("template", string(req.Template)))

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(ctx, run, sig)
	}()

	snapshot := *run
	return &snapshot, nil
}

// Get returns a snapshot of the task's latest run and its event log.
func (o *Orchestrator) Get(taskID string) (*model.TaskRun, []*model.TaskEvent, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	run, ok := o.latest[taskID]
	if !ok {
		return nil, nil, false
	}
	snapshot := *run
	events := make([]*model.TaskEvent, len(o.events[taskID]))
	copy(events, o.events[taskID])
	return &snapshot, events, true
}

// List returns snapshots of every known task's latest run.
func (o *Orchestrator) List() []*model.TaskRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	runs := make([]*model.TaskRun, 0, len(o.latest))
	for _, run := range o.latest {
		snapshot := *run
		runs = append(runs, &snapshot)
	}
	return runs
}

// Wait blocks until all in-flight runs finish. Used by tests and shutdown.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// execute drives one run through the canonical sequence. It is the only
// goroutine that mutates the run.
func (o *Orchestrator) execute(ctx context.Context, run *model.TaskRun, sig string) {
	sb := sandbox.New(run.TaskID, run.Template, sandbox.Options{
		Root:           o.cfg.WorkspaceRoot,
		TemplatesDir:   o.cfg.TemplatesDir,
		CommandTimeout: o.cfg.CommandTimeout,
	}, o.logger)

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("run panicked",
				zap.String("run_id", run.RunID), zap.Any("panic", r))
			o.fail(run, sig, fmt.Sprintf("internal error: %v", r))
		}
		if err := sb.Cleanup(); err != nil {
			o.logger.Warn("sandbox cleanup failed",
				zap.String("task_id", run.TaskID), zap.Error(err))
		}
		o.mu.Lock()
		delete(o.active, run.TaskID)
		events := make([]*model.TaskEvent, len(o.events[run.TaskID]))
		copy(events, o.events[run.TaskID])
		snapshot := *run
		o.mu.Unlock()
		if o.archive != nil {
			if err := o.archive.ArchiveRun(&snapshot, events); err != nil {
				o.logger.Warn("archiving run failed",
					zap.String("run_id", run.RunID), zap.Error(err))
			}
		}
	}()

	o.emit(run, model.StateStarting, "Task execution started", map[string]any{
		"template":    run.Template,
		"instruction": run.Instruction,
	})

	if err := sb.Prepare(); err != nil {
		o.fail(run, sig, fmt.Sprintf("sandbox prepare: %v", err))
		return
	}
	o.emit(run, model.StateStarting, "Sandbox ready", map[string]any{
		"sandbox": sb.Describe(),
	})

	// PLANNING
	o.setStage(run, model.StatePlanning, "planner")
	o.emit(run, model.StatePlanning, "Planner agent is analyzing task", map[string]any{
		"agent": "planner",
	})
	plan := o.agents.CallPlanner(ctx, run.RunID, run.Template, run.Instruction, run.TaskID)
	o.emit(run, model.StatePlanning, "Planning completed", map[string]any{
		"agent": "planner",
		"plan":  plan,
	})

	// CODING
	o.setStage(run, model.StateCoding, "coder")
	o.emit(run, model.StateCoding, "Coder agent is implementing changes", map[string]any{
		"agent": "coder",
	})
	diffText := o.agents.CallCoder(ctx, run.RunID, plan, run.Template, sb.Describe())
	o.emit(run, model.StateCoding, "Code changes generated", map[string]any{
		"agent": "coder",
		"diff":  diffText,
	})

	// DIFF_APPLIED
	o.setStage(run, model.StateDiffApplied, "")
	o.emit(run, model.StateDiffApplied, "Applying code changes", nil)
	stats, err := sb.ApplyPatch(diffText)
	if err != nil {
		o.fail(run, sig, fmt.Sprintf("diff apply failed: %v", err))
		return
	}
	o.emit(run, model.StateDiffApplied, "Diff applied", map[string]any{
		"stats": stats,
	})

	// TESTING
	o.setStage(run, model.StateTesting, "")
	o.emit(run, model.StateTesting, "Running validation", nil)
	results := sb.RunTests()
	o.emit(run, model.StateTesting, "Validation finished", map[string]any{
		"results": results,
	})

	// TEST_REPORT
	o.setStage(run, model.StateTestReport, "tester")
	o.emit(run, model.StateTestReport, "Tester agent is analyzing results", map[string]any{
		"agent": "tester",
	})
	report := o.agents.CallTester(ctx, run.RunID, results, run.Template)
	o.emit(run, model.StateTestReport, "Test report ready", map[string]any{
		"agent":  "tester",
		"report": report,
	})

	// DONE
	o.setStage(run, model.StateDone, "")
	passed := report.Status == model.ReportPassed
	if passed {
		successMetrics := map[string]any{
			"passed":   results.Passed,
			"failed":   results.Failed,
			"duration": results.Duration.String(),
		}
		o.memory.StoreSuccessfulPlan(run.Template, run.Instruction, plan, successMetrics)
		o.memory.StoreSuccessfulDiff(run.Template, plan, diffText, successMetrics)
	}
	o.tracker.FinishTask(run.RunID, passed, time.Now().UTC())
	o.emit(run, model.StateDone, "Task completed", map[string]any{
		"status": report.Status,
	})
	o.logger.Info("task done",
		zap.String("task_id", run.TaskID),
		zap.String("run_id", run.RunID),
		zap.String("status", string(report.Status)))
}

// fail transitions the run to failed, attributes the failure to the
// signature, and emits the terminal event.
func (o *Orchestrator) fail(run *model.TaskRun, sig, msg string) {
	o.mu.Lock()
	if run.State.Terminal() {
		o.mu.Unlock()
		return
	}
	run.State = model.StateFailed
	run.Error = msg
	run.CurrentAgent = ""
	count := o.quarantine[sig] + 1
	o.quarantine[sig] = count
	o.mu.Unlock()

	o.tracker.FinishTask(run.RunID, false, time.Now().UTC())
	o.emit(run, model.StateFailed, msg, map[string]any{
		"failure_count": count,
	})
	o.logger.Warn("task failed",
		zap.String("task_id", run.TaskID),
		zap.String("run_id", run.RunID),
		zap.String("error", msg),
		zap.Int("signature_failures", count))
}

// setStage advances the run's state and current agent tag.
func (o *Orchestrator) setStage(run *model.TaskRun, state model.State, agentTag string) {
	o.mu.Lock()
	run.State = state
	run.CurrentAgent = agentTag
	o.mu.Unlock()
}

// emit appends an event to the run's totally ordered log and publishes it.
// Iteration numbering starts at 0 and is strictly increasing per run.
func (o *Orchestrator) emit(run *model.TaskRun, stage model.State, message string, data map[string]any) {
	now := time.Now().UTC()

	o.mu.Lock()
	event := &model.TaskEvent{
		TaskID:    run.TaskID,
		RunID:     run.RunID,
		Iteration: run.Iteration,
		Stage:     stage,
		Timestamp: now,
		Message:   message,
		Data:      data,
	}
	run.Iteration++
	o.events[run.TaskID] = append(o.events[run.TaskID], event)
	o.mu.Unlock()

	o.tracker.RecordEvent(run.RunID, now)
	o.bus.Publish(event)
}

// signature identifies a (template, instruction) pair for quarantine
// accounting.
func signature(template model.Template, instruction string) string {
	sum := sha256.Sum256([]byte(instruction))
	return fmt.Sprintf("%s:%s", template, hex.EncodeToString(sum[:])[:8])
}
