// ABOUTME: Model-decision collaborator interface and the types it exchanges
// ABOUTME: A Decision carries content, optional reasoning, and zero or more tool calls

package agent

import "context"

// ChatMessage is one role-tagged entry in the model context for a turn.
// Within a turn the context is append-only.
type ChatMessage struct {
	Role       string
	Content    string
	ToolCalls  []ToolCallRequest // assistant-role: raw tool-call requests
	ToolCallID string            // tool-role: id of the call this result answers
	Name       string            // tool-role: name of the tool
}

// ToolCallRequest is one tool invocation requested by the model.
type ToolCallRequest struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Decision is the outcome of one model decision step. A decision with no
// tool calls terminates the turn with Content as the final answer.
type Decision struct {
	Content          string
	ReasoningContent string // auxiliary reasoning, if the model exposes it
	ToolCalls        []ToolCallRequest
}

// DecideParams carries model tuning for the decision step.
type DecideParams struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// Provider is the model-decision collaborator. Decide blocks until the
// model produces a decision or ctx is cancelled. A Decide error is fatal to
// the current turn; the caller substitutes a user-visible failure response.
type Provider interface {
	Decide(ctx context.Context, messages []ChatMessage, tools []ToolDefinition, params DecideParams) (*Decision, error)
}
