// ABOUTME: Tool registry and the tool-execution collaborator boundary
// ABOUTME: Ships a couple of built-in tools so the loop is exercised end to end

package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrToolNotFound indicates the requested tool is not registered.
var ErrToolNotFound = errors.New("tool not found")

// ToolDefinition describes a callable tool for the decision step.
// Parameters is a JSON-schema object in the shape tool-calling APIs expect.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Tool is one executable capability. Execute returns the result as text; an
// error describes an execution failure, which the engine folds back into
// the model context as ordinary result content.
type Tool interface {
	Definition() ToolDefinition
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ToolRegistry holds the tools available to the iteration engine.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string // registration order, for stable definitions
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool. Re-registering a name replaces the prior tool.
func (r *ToolRegistry) Register(t Tool) {
	name := t.Definition().Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Definitions returns the registered tool definitions in registration order.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Execute runs a registered tool synchronously. An unknown tool returns
// ErrToolNotFound; the engine reports either failure as result text.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t.Execute(ctx, args)
}

// ClockTool reports the current time.
type ClockTool struct{}

func (ClockTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "clock",
		Description: "Returns the current date and time in RFC 3339 format.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

func (ClockTool) Execute(_ context.Context, _ map[string]any) (string, error) {
	return time.Now().UTC().Format(time.RFC3339), nil
}

// EchoTool returns its "text" argument unchanged. Useful for wiring checks.
type EchoTool struct{}

func (EchoTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "echo",
		Description: "Echoes the provided text back to the caller.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{
					"type":        "string",
					"description": "Text to echo back.",
				},
			},
			"required": []string{"text"},
		},
	}
}

func (EchoTool) Execute(_ context.Context, args map[string]any) (string, error) {
	text, ok := args["text"].(string)
	if !ok {
		return "", errors.New("echo: missing required argument \"text\"")
	}
	return text, nil
}
