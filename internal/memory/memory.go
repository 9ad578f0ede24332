// Package memory holds a bounded history of successful plans and diffs,
// retrievable by keyword similarity to seed future agent prompts.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/ShashankBejjanki1241/GIZMO/internal/model"
)

// DefaultCapacity is the per-kind ring size.
const DefaultCapacity = 100

// similarityThreshold is the minimum Jaccard overlap for a plan entry to be
// offered as a hint. Strict enough to reject unrelated tasks.
const similarityThreshold = 0.30

// Kind distinguishes the two memory rings.
type Kind string

const (
	KindPlan Kind = "plan"
	KindDiff Kind = "diff"
)

// Entry is one remembered success.
type Entry struct {
	Kind        Kind           `json:"kind"`
	Template    model.Template `json:"template"`
	Instruction string         `json:"instruction,omitempty"` // plan entries
	Plan        *model.Plan    `json:"plan,omitempty"`        // diff entries carry the winning plan
	Artifact    string         `json:"artifact"`              // plan JSON or diff text
	Metrics     map[string]any `json:"metrics,omitempty"`
	StoredAt    time.Time      `json:"stored_at"`
	Hash        string         `json:"hash"`
}

// Example is a retrieval result handed to the agent client as a hint.
type Example struct {
	Kind     Kind
	Artifact string
	Score    float64
}

// Store keeps the two FIFO rings. All methods are safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	capacity int
	plans    []Entry
	diffs    []Entry
}

// New creates a Store. capacity <= 0 selects DefaultCapacity.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{capacity: capacity}
}

// StoreSuccessfulPlan remembers a plan that led to a passing run.
func (s *Store) StoreSuccessfulPlan(template model.Template, instruction string, plan *model.Plan, metrics map[string]any) {
	artifact, _ := json.Marshal(plan)
	entry := Entry{
		Kind:        KindPlan,
		Template:    template,
		Instruction: instruction,
		Plan:        plan,
		Artifact:    string(artifact),
		Metrics:     metrics,
		StoredAt:    time.Now().UTC(),
		Hash:        contentHash(string(artifact)),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans = appendBounded(s.plans, entry, s.capacity)
}

// StoreSuccessfulDiff remembers the winning diff of a passing run.
func (s *Store) StoreSuccessfulDiff(template model.Template, plan *model.Plan, diffText string, metrics map[string]any) {
	entry := Entry{
		Kind:     KindDiff,
		Template: template,
		Plan:     plan,
		Artifact: diffText,
		Metrics:  metrics,
		StoredAt: time.Now().UTC(),
		Hash:     contentHash(diffText),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.diffs = appendBounded(s.diffs, entry, s.capacity)
}

// appendBounded appends with FIFO eviction at capacity.
func appendBounded(ring []Entry, e Entry, capacity int) []Entry {
	ring = append(ring, e)
	if len(ring) > capacity {
		ring = ring[len(ring)-capacity:]
	}
	return ring
}

// GetSimilarExamples retrieves up to maxExamples hints for a new task.
// Plan entries for the same template are scanned newest-first and included
// when their instruction's Jaccard similarity exceeds the threshold; the
// most recent matching diff entry fills the remaining slots.
func (s *Store) GetSimilarExamples(template model.Template, instruction string, maxExamples int) []Example {
	if maxExamples <= 0 {
		maxExamples = 2
	}
	query := wordSet(instruction)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var examples []Example
	for i := len(s.plans) - 1; i >= 0 && len(examples) < maxExamples; i-- {
		e := s.plans[i]
		if e.Template != template {
			continue
		}
		if score := jaccard(query, wordSet(e.Instruction)); score > similarityThreshold {
			examples = append(examples, Example{Kind: KindPlan, Artifact: e.Artifact, Score: score})
		}
	}
	for i := len(s.diffs) - 1; i >= 0 && len(examples) < maxExamples; i-- {
		e := s.diffs[i]
		if e.Template != template {
			continue
		}
		examples = append(examples, Example{Kind: KindDiff, Artifact: e.Artifact, Score: 1})
		break
	}
	return examples
}

// Counts returns the current ring lengths (plans, diffs).
func (s *Store) Counts() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.plans), len(s.diffs)
}

// Capacity returns the per-kind ring size.
func (s *Store) Capacity() int { return s.capacity }

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?\"'()[]{}")
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
