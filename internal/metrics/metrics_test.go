package metrics_test

import (
	"testing"
	"time"

	"github.com/ShashankBejjanki1241/GIZMO/internal/metrics"
)

func TestTrackerLifecycle(t *testing.T) {
	tr := metrics.New()
	start := time.Now().UTC()

	tr.StartTask("t1", "r1", start)
	tr.RecordEvent("r1", start.Add(10*time.Millisecond))
	tr.RecordEvent("r1", start.Add(20*time.Millisecond))
	tr.RecordTokens("r1", 120)
	tr.RecordRetry("r1", "planning", "invalid_json")
	tr.FinishTask("r1", true, start.Add(time.Second))

	tm, ok := tr.Task("r1")
	if !ok {
		t.Fatal("task metrics not found")
	}
	if tm.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", tm.Iterations)
	}
	if tm.TimeToFirstEvent != 10*time.Millisecond {
		t.Errorf("time_to_first_event = %v, want 10ms", tm.TimeToFirstEvent)
	}
	if tm.Tokens != 120 {
		t.Errorf("tokens = %d, want 120", tm.Tokens)
	}
	if tm.Retries != 1 {
		t.Errorf("retries = %d, want 1", tm.Retries)
	}
	if !tm.Finished || !tm.Succeeded {
		t.Errorf("task should be finished and succeeded: %+v", tm)
	}
}

func TestSnapshotDerivedRatios(t *testing.T) {
	tr := metrics.New()
	start := time.Now().UTC()

	tr.StartTask("t1", "r1", start)
	tr.RecordEvent("r1", start)
	tr.RecordEvent("r1", start)
	tr.FinishTask("r1", true, start.Add(time.Second))

	tr.StartTask("t2", "r2", start)
	tr.RecordEvent("r2", start)
	tr.FinishTask("r2", false, start.Add(time.Second))

	snap := tr.Snapshot()
	if snap.TotalTasks != 2 || snap.SuccessfulTasks != 1 || snap.FailedTasks != 1 {
		t.Errorf("totals = %d/%d/%d, want 2/1/1",
			snap.TotalTasks, snap.SuccessfulTasks, snap.FailedTasks)
	}
	if snap.SuccessRate != 0.5 {
		t.Errorf("success_rate = %f, want 0.5", snap.SuccessRate)
	}
	if snap.AvgIterations != 2 {
		t.Errorf("avg_iterations_to_pass = %f, want 2", snap.AvgIterations)
	}
	if snap.TotalIterations != 3 {
		t.Errorf("total_iterations = %d, want 3", snap.TotalIterations)
	}
}

func TestRetryTallies(t *testing.T) {
	tr := metrics.New()
	tr.StartTask("t1", "r1", time.Now().UTC())

	tr.RecordRetry("r1", "coding", "invalid_diff")
	tr.RecordRetry("r1", "coding", "invalid_diff")
	tr.RecordRetry("r1", "planning", "invalid_json")

	snap := tr.Snapshot()
	if snap.RetriesByStage["coding"] != 2 {
		t.Errorf("coding retries = %d, want 2", snap.RetriesByStage["coding"])
	}
	if snap.FailureModes["invalid_diff"] != 2 || snap.FailureModes["invalid_json"] != 1 {
		t.Errorf("failure modes = %v", snap.FailureModes)
	}
}
