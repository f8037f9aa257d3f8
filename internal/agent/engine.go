// ABOUTME: Bounded iteration engine driving decide/act/reflect turns
// ABOUTME: Emits thinking, tool_call and tool_result envelopes as it works

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lanternlabs/lantern/internal/events"
)

// Role constants for model-context messages. They mirror the history roles
// persisted by the session store.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// State is the terminal state of a turn.
type State string

const (
	// StateDone means the model produced a final answer within budget.
	StateDone State = "done"
	// StateExhausted means the iteration budget ran out before a final
	// answer; the caller substitutes fallback text.
	StateExhausted State = "exhausted"
)

// reflectionPrompt is appended after each round of tool results so the next
// decision step considers them.
const reflectionPrompt = "Reflect on the results and decide next steps."

// EventSink receives progress envelopes emitted during a turn.
type EventSink interface {
	Emit(env *events.Envelope)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(env *events.Envelope)

func (f EventSinkFunc) Emit(env *events.Envelope) { f(env) }

// EngineConfig carries the tuning for the iteration engine.
type EngineConfig struct {
	MaxIterations int
	DecideTimeout time.Duration
	ToolTimeout   time.Duration
	Params        DecideParams
}

// Engine runs the bounded decide/act/reflect loop for one turn at a time.
// It is stateless across turns; all turn state lives in the message slice
// it is handed.
type Engine struct {
	provider Provider
	tools    *ToolRegistry
	sink     EventSink
	cfg      EngineConfig
	logger   *slog.Logger
}

// TurnResult is the outcome of one engine run.
type TurnResult struct {
	State        State
	FinalContent string
	ToolsUsed    []string
	Iterations   int
}

// NewEngine creates an iteration engine. A nil sink discards events.
func NewEngine(provider Provider, tools *ToolRegistry, sink EventSink, cfg EngineConfig, logger *slog.Logger) *Engine {
	if sink == nil {
		sink = EventSinkFunc(func(*events.Envelope) {})
	}
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		provider: provider,
		tools:    tools,
		sink:     sink,
		cfg:      cfg,
		logger:   logger.With("component", "engine"),
	}
}

// Run drives one turn for a conversation. messages is the turn's starting
// context; the engine appends to a private copy, never the caller's slice.
// A provider error aborts the turn; the caller owns the terminal response
// either way.
func (e *Engine) Run(ctx context.Context, conversationID string, messages []ChatMessage) (*TurnResult, error) {
	msgs := append([]ChatMessage(nil), messages...)
	toolDefs := e.tools.Definitions()
	var toolsUsed []string

	for iteration := 1; iteration <= e.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		e.sink.Emit(events.New(conversationID, events.KindThinking, "", map[string]any{
			"iteration": iteration,
		}))

		decision, err := e.decide(ctx, msgs, toolDefs)
		if err != nil {
			return nil, fmt.Errorf("model decision on iteration %d: %w", iteration, err)
		}

		if decision.ReasoningContent != "" {
			e.sink.Emit(events.New(conversationID, events.KindThinking, decision.ReasoningContent, map[string]any{
				"iteration":    iteration,
				"is_reasoning": true,
			}))
		}

		if len(decision.ToolCalls) == 0 {
			e.logger.Debug("turn complete",
				"conversation_id", conversationID,
				"iterations", iteration,
				"tools_used", len(toolsUsed))
			return &TurnResult{
				State:        StateDone,
				FinalContent: decision.Content,
				ToolsUsed:    toolsUsed,
				Iterations:   iteration,
			}, nil
		}

		msgs = append(msgs, ChatMessage{
			Role:      RoleAssistant,
			Content:   decision.Content,
			ToolCalls: decision.ToolCalls,
		})

		for _, call := range decision.ToolCalls {
			toolsUsed = append(toolsUsed, call.Name)

			e.sink.Emit(events.New(conversationID, events.KindToolCall, "", map[string]any{
				"iteration":    iteration,
				"tool":         call.Name,
				"tool_call_id": call.ID,
				"arguments":    call.Arguments,
			}))

			result := e.execute(ctx, call)

			e.sink.Emit(events.New(conversationID, events.KindToolResult, result, map[string]any{
				"iteration":    iteration,
				"tool":         call.Name,
				"tool_call_id": call.ID,
			}))

			msgs = append(msgs, ChatMessage{
				Role:       RoleTool,
				Content:    result,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}

		msgs = append(msgs, ChatMessage{Role: RoleUser, Content: reflectionPrompt})
	}

	e.logger.Warn("iteration budget exhausted",
		"conversation_id", conversationID,
		"max_iterations", e.cfg.MaxIterations)
	return &TurnResult{
		State:      StateExhausted,
		ToolsUsed:  toolsUsed,
		Iterations: e.cfg.MaxIterations,
	}, nil
}

func (e *Engine) decide(ctx context.Context, msgs []ChatMessage, toolDefs []ToolDefinition) (*Decision, error) {
	if e.cfg.DecideTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.DecideTimeout)
		defer cancel()
	}
	return e.provider.Decide(ctx, msgs, toolDefs, e.cfg.Params)
}

// execute runs one tool call. Failures become result text so the model can
// see them and recover; only the transport around the model is allowed to
// abort a turn.
func (e *Engine) execute(ctx context.Context, call ToolCallRequest) string {
	if e.cfg.ToolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ToolTimeout)
		defer cancel()
	}

	result, err := e.tools.Execute(ctx, call.Name, call.Arguments)
	if err != nil {
		e.logger.Warn("tool execution failed", "tool", call.Name, "error", err)
		return fmt.Sprintf("Tool %q failed: %v", call.Name, err)
	}
	return result
}
