// Package metrics tracks per-task and aggregate reliability counters.
// Derived ratios are computed on read.
package metrics

import (
	"sync"
	"time"
)

// TaskMetrics accumulates counters for one run.
type TaskMetrics struct {
	TaskID           string        `json:"task_id"`
	RunID            string        `json:"run_id"`
	StartedAt        time.Time     `json:"started_at"`
	Iterations       int           `json:"iterations"`
	Tokens           int           `json:"tokens"`
	Retries          int           `json:"retries"`
	TimeToFirstEvent time.Duration `json:"time_to_first_event"`
	Duration         time.Duration `json:"duration"`
	Succeeded        bool          `json:"succeeded"`
	Finished         bool          `json:"finished"`
}

// Snapshot is the aggregate view returned to callers.
type Snapshot struct {
	TotalTasks      int            `json:"total_tasks"`
	SuccessfulTasks int            `json:"successful_tasks"`
	FailedTasks     int            `json:"failed_tasks"`
	TotalTokens     int            `json:"total_tokens"`
	TotalIterations int            `json:"total_iterations"`
	RetriesByStage  map[string]int `json:"retries_by_stage"`
	FailureModes    map[string]int `json:"failure_modes"`
	SuccessRate     float64        `json:"success_rate"`
	AvgIterations   float64        `json:"avg_iterations_to_pass"`
}

// Tracker is a guarded set of counters updated by the orchestrator at each
// stage transition and by the agent client on each attempt.
type Tracker struct {
	mu             sync.Mutex
	tasks          map[string]*TaskMetrics // keyed by run_id
	totalTasks     int
	succeeded      int
	failed         int
	totalTokens    int
	totalIters     int
	itersToPass    int
	retriesByStage map[string]int
	failureModes   map[string]int
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{
		tasks:          make(map[string]*TaskMetrics),
		retriesByStage: make(map[string]int),
		failureModes:   make(map[string]int),
	}
}

// StartTask begins tracking a run.
func (t *Tracker) StartTask(taskID, runID string, startedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalTasks++
	t.tasks[runID] = &TaskMetrics{TaskID: taskID, RunID: runID, StartedAt: startedAt}
}

// RecordEvent counts one emitted event for the run and captures the time to
// first event.
func (t *Tracker) RecordEvent(runID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalIters++
	tm, ok := t.tasks[runID]
	if !ok {
		return
	}
	if tm.Iterations == 0 {
		tm.TimeToFirstEvent = at.Sub(tm.StartedAt)
	}
	tm.Iterations++
}

// RecordRetry tallies one agent retry for a stage and its error class.
func (t *Tracker) RecordRetry(runID, stage, errClass string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retriesByStage[stage]++
	t.failureModes[errClass]++
	if tm, ok := t.tasks[runID]; ok {
		tm.Retries++
	}
}

// RecordTokens adds an estimated token spend to the run and the aggregate.
func (t *Tracker) RecordTokens(runID string, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalTokens += n
	if tm, ok := t.tasks[runID]; ok {
		tm.Tokens += n
	}
}

// FinishTask records the terminal outcome of a run.
func (t *Tracker) FinishTask(runID string, succeeded bool, finishedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tm, ok := t.tasks[runID]
	if !ok {
		return
	}
	tm.Finished = true
	tm.Succeeded = succeeded
	tm.Duration = finishedAt.Sub(tm.StartedAt)
	if succeeded {
		t.succeeded++
		t.itersToPass += tm.Iterations
	} else {
		t.failed++
	}
}

// Task returns a copy of the counters for one run, if tracked.
func (t *Tracker) Task(runID string) (TaskMetrics, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tm, ok := t.tasks[runID]
	if !ok {
		return TaskMetrics{}, false
	}
	return *tm, true
}

// Snapshot computes the aggregate view. Ratios are derived here, lazily.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		TotalTasks:      t.totalTasks,
		SuccessfulTasks: t.succeeded,
		FailedTasks:     t.failed,
		TotalTokens:     t.totalTokens,
		TotalIterations: t.totalIters,
		RetriesByStage:  make(map[string]int, len(t.retriesByStage)),
		FailureModes:    make(map[string]int, len(t.failureModes)),
	}
	for k, v := range t.retriesByStage {
		snap.RetriesByStage[k] = v
	}
	for k, v := range t.failureModes {
		snap.FailureModes[k] = v
	}
	if finished := t.succeeded + t.failed; finished > 0 {
		snap.SuccessRate = float64(t.succeeded) / float64(finished)
	}
	if t.succeeded > 0 {
		snap.AvgIterations = float64(t.itersToPass) / float64(t.succeeded)
	}
	return snap
}
