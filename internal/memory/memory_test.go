package memory_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ShashankBejjanki1241/GIZMO/internal/memory"
	"github.com/ShashankBejjanki1241/GIZMO/internal/model"
)

func plan(steps ...string) *model.Plan {
	return &model.Plan{Steps: steps, FilesToModify: []string{"x"}, EstimatedTime: "5 minutes"}
}

func TestRetrievalByJaccardSimilarity(t *testing.T) {
	store := memory.New(0)
	store.StoreSuccessfulPlan(model.TemplateReact,
		"Add division function with divide-by-zero guard", plan("add divide"), nil)

	// Near-identical instruction: comfortably over the 0.30 threshold.
	got := store.GetSimilarExamples(model.TemplateReact,
		"Add division function with zero guard", 2)
	if len(got) == 0 {
		t.Fatal("expected at least one plan hint for overlapping instruction")
	}
	if got[0].Kind != memory.KindPlan {
		t.Errorf("first hint kind = %s, want plan", got[0].Kind)
	}

	// Disjoint word set: no plan hints.
	got = store.GetSimilarExamples(model.TemplateReact,
		"refactor websocket reconnect backoff", 2)
	for _, ex := range got {
		if ex.Kind == memory.KindPlan {
			t.Errorf("disjoint instruction retrieved a plan hint (score %.2f)", ex.Score)
		}
	}
}

func TestRetrievalFiltersByTemplate(t *testing.T) {
	store := memory.New(0)
	store.StoreSuccessfulPlan(model.TemplateFlask, "Add /sum endpoint", plan("sum"), nil)

	if got := store.GetSimilarExamples(model.TemplateReact, "Add /sum endpoint", 2); len(got) != 0 {
		t.Fatalf("expected no hints across templates, got %d", len(got))
	}
}

func TestDiffHintFillsRemainingSlots(t *testing.T) {
	store := memory.New(0)
	store.StoreSuccessfulDiff(model.TemplateReact, plan("a"), "--- a/x\n+++ b/x\n@@ @@\nCOMMIT: one", nil)
	store.StoreSuccessfulDiff(model.TemplateReact, plan("b"), "--- a/y\n+++ b/y\n@@ @@\nCOMMIT: two", nil)

	got := store.GetSimilarExamples(model.TemplateReact, "unrelated words entirely", 2)
	if len(got) != 1 {
		t.Fatalf("expected exactly the most recent diff hint, got %d", len(got))
	}
	if got[0].Kind != memory.KindDiff {
		t.Errorf("hint kind = %s, want diff", got[0].Kind)
	}
	if want := "COMMIT: two"; !strings.Contains(got[0].Artifact, want) {
		t.Errorf("expected most recent diff (containing %q), got %q", want, got[0].Artifact)
	}
}

func TestFIFOEvictionAtCapacity(t *testing.T) {
	store := memory.New(5)
	for i := 0; i < 8; i++ {
		store.StoreSuccessfulPlan(model.TemplateReact,
			fmt.Sprintf("instruction %d", i), plan("s"), nil)
	}
	plans, diffs := store.Counts()
	if plans != 5 {
		t.Errorf("plans = %d, want capacity 5", plans)
	}
	if diffs != 0 {
		t.Errorf("diffs = %d, want 0", diffs)
	}
}
