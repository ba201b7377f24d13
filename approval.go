package agentworld

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// DeniedToolResult is the synthetic tool result injected into an agent's
// memory when a human denies a tool call. Not an error: the agent continues
// generation with this context.
const DeniedToolResult = "Tool execution denied by user"

// cancelledToolResult is injected when a pending approval is invalidated by
// world destroy or chat teardown.
const cancelledToolResult = "Tool execution cancelled"

// ApprovalState tracks one pending tool call through its life.
type ApprovalState int

const (
	ApprovalPending ApprovalState = iota
	ApprovalExecuting
	ApprovalDone
)

// ApprovalEngine interposes on LLM-emitted tool calls. Trusted tools run
// immediately; everything else waits for a human decision delivered as a
// tool-result envelope on the message topic. Session-scoped grants are
// cached per chat, keyed by tool identity.
type ApprovalEngine struct {
	reg     *ToolRegistry
	publish func(MessageEvent)
	logger  *slog.Logger

	mu       sync.Mutex
	pending  map[string]*pendingApproval    // toolCallID → pending
	sessions map[string]map[string]struct{} // chatID → approved keys
}

type pendingApproval struct {
	agentID  string
	chatID   string
	call     ToolCall
	state    ApprovalState
	decision chan ApprovalDecision // buffered(1); closed never
}

// NewApprovalEngine creates an engine dispatching to reg and publishing
// approval requests through publish (the owning world's message topic).
func NewApprovalEngine(reg *ToolRegistry, publish func(MessageEvent), logger *slog.Logger) *ApprovalEngine {
	if logger == nil {
		logger = nopLogger
	}
	return &ApprovalEngine{
		reg:      reg,
		publish:  publish,
		logger:   logger,
		pending:  make(map[string]*pendingApproval),
		sessions: make(map[string]map[string]struct{}),
	}
}

// ApprovalKey computes the session-cache key for a tool call: the tool name
// plus the working directory (shell-style tools) plus a SHA-256 over the
// canonical form of the arguments. Canonical form is the JSON value
// re-marshaled with lexicographically sorted keys and compact separators,
// so formatting differences never defeat the cache.
func ApprovalKey(toolName string, args json.RawMessage, workingDir string) string {
	canonical := canonicalJSON(args)
	sum := sha256.Sum256(canonical)
	return toolName + "\x00" + workingDir + "\x00" + hex.EncodeToString(sum[:])
}

func canonicalJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	// encoding/json sorts map keys and emits compact output.
	b, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return b
}

// Execute runs one tool call under the approval policy and returns the tool
// result to inject into the agent's memory. Blocks while awaiting a human
// decision. On denial the result carries DeniedToolResult. Returns
// ErrCancelled when ctx ends or the pending approval is invalidated.
func (e *ApprovalEngine) Execute(ctx context.Context, chatID, agentID string, tc ToolCall) (ToolResult, error) {
	tool, trusted, ok := e.reg.Lookup(tc.Name)
	if !ok {
		return ToolResult{Error: "unknown tool: " + tc.Name}, nil
	}
	if trusted {
		return tool.Execute(ctx, tc.Name, tc.Args)
	}

	workdir := e.reg.WorkingDirectory(tc.Name, tc.Args)
	key := ApprovalKey(tc.Name, tc.Args, workdir)

	if e.sessionApproved(chatID, key) {
		return tool.Execute(ctx, tc.Name, tc.Args)
	}

	p := &pendingApproval{
		agentID:  agentID,
		chatID:   chatID,
		call:     tc,
		decision: make(chan ApprovalDecision, 1),
	}
	e.mu.Lock()
	e.pending[tc.ID] = p
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		p.state = ApprovalDone
		delete(e.pending, tc.ID)
		e.mu.Unlock()
	}()

	if err := e.requestApproval(chatID, agentID, tc, workdir); err != nil {
		return ToolResult{}, &ErrInternal{Message: "approval request: " + err.Error()}
	}

	var d ApprovalDecision
	select {
	case d = <-p.decision:
	case <-ctx.Done():
		return ToolResult{Content: cancelledToolResult}, &ErrCancelled{Reason: "approval abandoned"}
	}

	if d.Decision != "approve" {
		e.logger.Info("tool call denied", "tool", tc.Name, "agent", agentID, "chat", chatID)
		return ToolResult{Content: DeniedToolResult}, nil
	}
	if d.Scope == "session" {
		e.cacheSession(chatID, key)
	}

	e.mu.Lock()
	p.state = ApprovalExecuting
	e.mu.Unlock()
	return tool.Execute(ctx, tc.Name, tc.Args)
}

// requestApproval publishes the synthetic client.requestApproval tool_call
// as a message event authored by the requesting agent.
func (e *ApprovalEngine) requestApproval(chatID, agentID string, tc ToolCall, workdir string) error {
	req := ApprovalRequest{
		Message:          fmt.Sprintf("Agent %s wants to run %s. Allow?", agentID, tc.Name),
		Options:          []string{DecisionDeny, DecisionApproveOnce, DecisionApproveSession},
		WorkingDirectory: workdir,
	}
	req.OriginalToolCall.Name = tc.Name
	req.OriginalToolCall.Args = tc.Args

	call, err := NewApprovalRequestCall(tc.ID, req)
	if err != nil {
		return err
	}
	e.publish(MessageEvent{
		Sender:    agentID,
		MessageID: NewID(),
		ChatID:    chatID,
		ToolCalls: []ToolCall{call},
		CreatedAt: Now(),
	})
	return nil
}

// Resolve routes an inbound tool-result envelope to its suspended tool
// call. Returns false when no matching pending approval exists (stale or
// duplicate response).
func (e *ApprovalEngine) Resolve(env ToolResultEnvelope) bool {
	d, err := DecodeApprovalDecision(env)
	if err != nil {
		e.logger.Warn("malformed approval response", "tool_call_id", env.ToolCallID, "error", err)
		return false
	}
	e.mu.Lock()
	p, ok := e.pending[env.ToolCallID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case p.decision <- d:
		return true
	default:
		return false // already decided
	}
}

// PendingFor reports the agent a pending tool call belongs to, preserving
// the messageId → agentId linkage for response routing.
func (e *ApprovalEngine) PendingFor(toolCallID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pending[toolCallID]
	if !ok {
		return "", false
	}
	return p.agentID, true
}

// EndChat drops the session-approval cache for a chat and denies any
// approvals still pending in it. Called when a chat is deleted.
func (e *ApprovalEngine) EndChat(chatID string) {
	e.mu.Lock()
	delete(e.sessions, chatID)
	var stale []*pendingApproval
	for _, p := range e.pending {
		if p.chatID == chatID {
			stale = append(stale, p)
		}
	}
	e.mu.Unlock()
	for _, p := range stale {
		select {
		case p.decision <- ApprovalDecision{Decision: DecisionDeny}:
		default:
		}
	}
}

// CancelAll denies every pending approval. Called on world destroy.
func (e *ApprovalEngine) CancelAll() {
	e.mu.Lock()
	all := make([]*pendingApproval, 0, len(e.pending))
	for _, p := range e.pending {
		all = append(all, p)
	}
	e.sessions = make(map[string]map[string]struct{})
	e.mu.Unlock()
	for _, p := range all {
		select {
		case p.decision <- ApprovalDecision{Decision: DecisionDeny}:
		default:
		}
	}
}

func (e *ApprovalEngine) sessionApproved(chatID, key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	set, ok := e.sessions[chatID]
	if !ok {
		return false
	}
	_, ok = set[key]
	return ok
}

func (e *ApprovalEngine) cacheSession(chatID, key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set, ok := e.sessions[chatID]
	if !ok {
		set = make(map[string]struct{})
		e.sessions[chatID] = set
	}
	set[key] = struct{}{}
}
