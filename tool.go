package agentworld

import (
	"context"
	"encoding/json"
)

// Tool is an executable capability exposed to agents. A Tool may provide
// several functions; Definitions lists them and Execute dispatches by name.
type Tool interface {
	Definitions() []ToolDefinition
	Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)
}

// ToolResult is the outcome of a tool execution.
type ToolResult struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// WorkdirTool is an optional Tool capability: shell-style tools report the
// working directory a call runs in, which becomes part of its approval key.
type WorkdirTool interface {
	Tool
	WorkingDirectory(args json.RawMessage) string
}

// ToolRegistry holds registered tools with their trust policy and
// dispatches execution. Trusted (builtin) tools execute without human
// approval; everything else goes through the approval engine.
type ToolRegistry struct {
	entries []toolEntry
}

type toolEntry struct {
	tool    Tool
	trusted bool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{}
}

// Add registers a tool that requires approval before each execution.
func (r *ToolRegistry) Add(t Tool) {
	r.entries = append(r.entries, toolEntry{tool: t})
}

// AddTrusted registers a builtin tool that executes without approval.
func (r *ToolRegistry) AddTrusted(t Tool) {
	r.entries = append(r.entries, toolEntry{tool: t, trusted: true})
}

// AllDefinitions returns tool definitions from all registered tools.
func (r *ToolRegistry) AllDefinitions() []ToolDefinition {
	var defs []ToolDefinition
	for _, e := range r.entries {
		defs = append(defs, e.tool.Definitions()...)
	}
	return defs
}

// Lookup finds the tool providing the named function and its trust policy.
func (r *ToolRegistry) Lookup(name string) (Tool, bool, bool) {
	for _, e := range r.entries {
		for _, d := range e.tool.Definitions() {
			if d.Name == name {
				return e.tool, e.trusted, true
			}
		}
	}
	return nil, false, false
}

// Execute dispatches a tool call by name.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	t, _, ok := r.Lookup(name)
	if !ok {
		return ToolResult{Error: "unknown tool: " + name}, nil
	}
	return t.Execute(ctx, name, args)
}

// WorkingDirectory returns the working directory the named tool would run
// in, or "" when the tool has none.
func (r *ToolRegistry) WorkingDirectory(name string, args json.RawMessage) string {
	t, _, ok := r.Lookup(name)
	if !ok {
		return ""
	}
	if wt, ok := t.(WorkdirTool); ok {
		return wt.WorkingDirectory(args)
	}
	return ""
}
