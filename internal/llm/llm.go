// Package llm defines the completion-service port for GIZMO.
package llm

import "context"

// Client is the minimal interface the agent pipeline needs from a
// completion service. Implementations provide the HTTP transport to a
// specific vendor; tests substitute deterministic fakes.
type Client interface {
	Complete(ctx context.Context, system, user string, maxTokens int) (string, error)
}
