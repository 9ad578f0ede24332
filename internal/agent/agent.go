// Package agent converts prompt templates plus task inputs into validated
// structured outputs, shielding the orchestrator from vendor failure modes
// with bounded retries and deterministic stub fallbacks.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ShashankBejjanki1241/GIZMO/internal/diff"
	"github.com/ShashankBejjanki1241/GIZMO/internal/llm"
	"github.com/ShashankBejjanki1241/GIZMO/internal/memory"
	"github.com/ShashankBejjanki1241/GIZMO/internal/metrics"
	"github.com/ShashankBejjanki1241/GIZMO/internal/model"
)

// Failure mode classes recorded on each failed attempt.
const (
	failInvalidJSON = "invalid_json"
	failInvalidDiff = "invalid_diff"
)

// Per-role completion budgets.
const (
	planMaxTokens = 500
	codeMaxTokens = 1000
	testMaxTokens = 500
)

// maxMemoryHints bounds the number of prior examples embedded in a prompt.
const maxMemoryHints = 2

// Config tunes the client.
type Config struct {
	// MaxRetries is the attempt budget per role (default 3).
	MaxRetries int
	// RetryDelay separates attempts (default 1s).
	RetryDelay time.Duration
}

// Client drives the three logical agents.
type Client struct {
	llm     llm.Client // nil runs stubs only
	memory  *memory.Store
	tracker *metrics.Tracker
	logger  *zap.Logger
	cfg     Config
}

// New creates a Client. Pass a nil llm.Client to run on stubs only.
func New(llmClient llm.Client, mem *memory.Store, tracker *metrics.Tracker, cfg Config, logger *zap.Logger) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Client{llm: llmClient, memory: mem, tracker: tracker, logger: logger, cfg: cfg}
}

// CallPlanner produces a validated Plan for the instruction. It never
// fails: retry exhaustion falls back to the planner stub.
func (c *Client) CallPlanner(ctx context.Context, runID string, template model.Template, instruction, taskID string) *model.Plan {
	user := fmt.Sprintf("Template: %s\nTask ID: %s\n\nTask: %s", template, taskID, instruction)
	user += c.memoryHints(template, instruction)

	var plan *model.Plan
	c.attempt(ctx, runID, string(model.StatePlanning), func(corrective string) (string, error) {
		response, err := c.llm.Complete(ctx, plannerSystemPrompt, user+corrective, planMaxTokens)
		if err != nil {
			return "", err
		}
		c.tracker.RecordTokens(runID, estimateTokens(user, response))
		p, perr := parsePlan(response)
		if perr != nil {
			return failInvalidJSON, perr
		}
		plan = p
		return "", nil
	})
	if plan == nil {
		c.logger.Warn("planner fell back to stub",
			zap.String("task_id", taskID), zap.String("run_id", runID))
		plan = StubPlan(template)
	}
	return plan
}

// CallCoder produces a validated unified diff for the plan. Retry
// exhaustion falls back to the coder stub.
func (c *Client) CallCoder(ctx context.Context, runID string, plan *model.Plan, template model.Template, workspace model.WorkspaceInfo) string {
	planJSON, _ := json.Marshal(plan)
	user := fmt.Sprintf("Template: %s\n\nPlan:\n%s\n\nWorkspace files:\n%s",
		template, planJSON, strings.Join(workspace.Files, "\n"))
	user += c.memoryHints(template, strings.Join(plan.Steps, " "))

	var diffText string
	c.attempt(ctx, runID, string(model.StateCoding), func(corrective string) (string, error) {
		response, err := c.llm.Complete(ctx, coderSystemPrompt, user+corrective, codeMaxTokens)
		if err != nil {
			return "", err
		}
		c.tracker.RecordTokens(runID, estimateTokens(user, response))
		candidate := strings.TrimSpace(stripFences(response))
		if _, perr := diff.Parse(candidate); perr != nil {
			return failInvalidDiff, perr
		}
		diffText = candidate
		return "", nil
	})
	if diffText == "" {
		c.logger.Warn("coder fell back to stub", zap.String("run_id", runID))
		diffText = StubDiff(template)
	}
	return diffText
}

// CallTester produces a validated TestReport for the results. Retry
// exhaustion falls back to the tester stub (never the coder stub).
func (c *Client) CallTester(ctx context.Context, runID string, results model.TestResult, template model.Template) *model.TestReport {
	resultsJSON, _ := json.Marshal(results)
	user := fmt.Sprintf("Template: %s\n\nTest results:\n%s", template, resultsJSON)

	var report *model.TestReport
	c.attempt(ctx, runID, string(model.StateTesting), func(corrective string) (string, error) {
		response, err := c.llm.Complete(ctx, testerSystemPrompt, user+corrective, testMaxTokens)
		if err != nil {
			return "", err
		}
		c.tracker.RecordTokens(runID, estimateTokens(user, response))
		r, perr := parseReport(response)
		if perr != nil {
			return failInvalidJSON, perr
		}
		r.Results = results
		report = r
		return "", nil
	})
	if report == nil {
		c.logger.Warn("tester fell back to stub", zap.String("run_id", runID))
		report = StubReport(results)
	}
	return report
}

// attempt runs fn up to MaxRetries times with RetryDelay sleeps, recording
// each failure's mode and the role's retry count. fn returns a non-empty
// failure class for validation errors; transport errors are classified by
// their error type name.
func (c *Client) attempt(ctx context.Context, runID, stage string, fn func(corrective string) (string, error)) {
	if c.llm == nil {
		return
	}
	corrective := ""
	for i := 0; i < c.cfg.MaxRetries; i++ {
		class, err := fn(corrective)
		if err == nil {
			return
		}
		if class == "" {
			class = fmt.Sprintf("%T", err)
		}
		c.tracker.RecordRetry(runID, stage, class)
		c.logger.Debug("agent attempt failed",
			zap.String("run_id", runID),
			zap.String("stage", stage),
			zap.String("class", class),
			zap.Int("attempt", i+1),
			zap.Error(err))
		corrective = fmt.Sprintf(
			"\n\nYour previous response was invalid (%s: %v). Respond again following the required format EXACTLY, with no surrounding text.",
			class, err)

		if i < c.cfg.MaxRetries-1 {
			select {
			case <-time.After(c.cfg.RetryDelay):
			case <-ctx.Done():
				return
			}
		}
	}
}

// memoryHints renders up to two prior successful artifacts as a clearly
// fenced, skippable prompt section.
func (c *Client) memoryHints(template model.Template, instruction string) string {
	if c.memory == nil {
		return ""
	}
	examples := c.memory.GetSimilarExamples(template, instruction, maxMemoryHints)
	if len(examples) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n## Prior successful examples (reference only; ignore if unhelpful)\n")
	for _, ex := range examples {
		fmt.Fprintf(&b, "<example kind=%q>\n%s\n</example>\n", ex.Kind, ex.Artifact)
	}
	return b.String()
}

// parsePlan validates the planner's structured output.
func parsePlan(response string) (*model.Plan, error) {
	raw, err := extractObject(response)
	if err != nil {
		return nil, err
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return nil, fmt.Errorf("parsing plan JSON: %w", err)
	}
	for _, key := range []string{"plan", "files_to_modify", "estimated_time"} {
		if _, ok := probe[key]; !ok {
			return nil, fmt.Errorf("plan missing required key %q", key)
		}
	}
	var plan model.Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("parsing plan JSON: %w", err)
	}
	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("plan has no steps")
	}
	return &plan, nil
}

// parseReport validates the tester's structured output.
func parseReport(response string) (*model.TestReport, error) {
	raw, err := extractObject(response)
	if err != nil {
		return nil, err
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return nil, fmt.Errorf("parsing report JSON: %w", err)
	}
	for _, key := range []string{"test_summary", "test_results", "recommendations", "status"} {
		if _, ok := probe[key]; !ok {
			return nil, fmt.Errorf("report missing required key %q", key)
		}
	}
	var report model.TestReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil, fmt.Errorf("parsing report JSON: %w", err)
	}
	switch report.Status {
	case model.ReportPassed, model.ReportFailed, model.ReportPartial:
	default:
		return nil, fmt.Errorf("invalid report status %q", report.Status)
	}
	return &report, nil
}

// extractObject returns the response if it parses whole; otherwise it
// attempts bracket-matching extraction of the first { … } substring and
// reparses once.
func extractObject(s string) (string, error) {
	s = strings.TrimSpace(stripFences(s))
	if json.Valid([]byte(s)) {
		return s, nil
	}
	start := strings.Index(s, "{")
	if start < 0 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				candidate := s[start : i+1]
				if !json.Valid([]byte(candidate)) {
					return "", fmt.Errorf("extracted substring is not valid JSON")
				}
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in response")
}

// estimateTokens approximates the spend of one completion round trip.
func estimateTokens(prompt, response string) int {
	return (len(prompt) + len(response)) / 4
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
