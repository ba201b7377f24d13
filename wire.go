package agentworld

import (
	"encoding/json"
	"fmt"
	"time"
)

// This file is the external surfaces adapter: the only place internal
// events are shaped into the SSE/JSON envelope consumed by the CLI and HTTP
// front-ends, and the only place inbound wire strings are parsed. No other
// component may emit or parse these formats.

// messageFrame is the wire shape of a message event.
type messageFrame struct {
	Type             string     `json:"type"`
	MessageID        string     `json:"messageId"`
	Sender           string     `json:"sender"`
	Content          string     `json:"content"`
	CreatedAt        time.Time  `json:"createdAt"`
	ChatID           string     `json:"chatId,omitempty"`
	ReplyToMessageID string     `json:"replyToMessageId,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}

// sseFrame is the wire shape of a streaming event.
type sseFrame struct {
	Type      string `json:"type"`
	Phase     string `json:"phase"`
	AgentName string `json:"agentName"`
	MessageID string `json:"messageId"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
	Usage     *Usage `json:"usage,omitempty"`
}

// systemFrame is the wire shape of a system event.
type systemFrame struct {
	Type      string    `json:"type"`
	Category  string    `json:"category"`
	Content   string    `json:"content"`
	ChatID    string    `json:"chatId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EncodeFrame serializes an event into its JSON wire frame.
func EncodeFrame(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case MessageEvent:
		return json.Marshal(messageFrame{
			Type:             string(KindMessage),
			MessageID:        e.MessageID,
			Sender:           e.Sender,
			Content:          e.Content,
			CreatedAt:        e.CreatedAt,
			ChatID:           e.ChatID,
			ReplyToMessageID: e.ReplyToMessageID,
			ToolCalls:        e.ToolCalls,
		})
	case SSEEvent:
		return json.Marshal(sseFrame{
			Type:      string(KindSSE),
			Phase:     string(e.Phase),
			AgentName: e.AgentName,
			MessageID: e.MessageID,
			Content:   e.Content,
			Error:     e.Error,
			Usage:     e.Usage,
		})
	case SystemEvent:
		return json.Marshal(systemFrame{
			Type:      string(KindSystem),
			Category:  e.Category,
			Content:   e.Content,
			ChatID:    e.ChatID,
			Timestamp: e.Timestamp,
		})
	default:
		return nil, &ErrInternal{Message: fmt.Sprintf("unknown event kind %T", ev)}
	}
}

// DecodeFrame parses an inbound JSON wire frame into an event.
func DecodeFrame(data []byte) (Event, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &ErrValidation{Field: "frame", Reason: err.Error()}
	}
	switch EventKind(probe.Type) {
	case KindMessage:
		var f messageFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, &ErrValidation{Field: "frame", Reason: err.Error()}
		}
		return MessageEvent{
			Content:          f.Content,
			Sender:           f.Sender,
			MessageID:        f.MessageID,
			ChatID:           f.ChatID,
			ReplyToMessageID: f.ReplyToMessageID,
			ToolCalls:        f.ToolCalls,
			CreatedAt:        f.CreatedAt,
		}, nil
	case KindSSE:
		var f sseFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, &ErrValidation{Field: "frame", Reason: err.Error()}
		}
		return SSEEvent{
			AgentName: f.AgentName,
			Phase:     SSEPhase(f.Phase),
			MessageID: f.MessageID,
			Content:   f.Content,
			Error:     f.Error,
			Usage:     f.Usage,
		}, nil
	case KindSystem:
		var f systemFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, &ErrValidation{Field: "frame", Reason: err.Error()}
		}
		return SystemEvent{
			Category:  f.Category,
			Content:   f.Content,
			ChatID:    f.ChatID,
			Timestamp: f.Timestamp,
		}, nil
	default:
		return nil, &ErrValidation{Field: "type", Reason: "unknown frame type " + probe.Type}
	}
}

// --- Tool-result envelope (approval responses) ---

// envelopeType marks a message-event content string as a tool-result
// envelope rather than conversational text.
const envelopeType = "tool_result"

// ApprovalRequestTool is the synthetic tool_call function name published
// when a tool call awaits human approval.
const ApprovalRequestTool = "client.requestApproval"

// Approval decision vocabulary, canonical on the wire and in storage.
const (
	DecisionDeny           = "deny"
	DecisionApproveOnce    = "approve_once"
	DecisionApproveSession = "approve_session"
)

// ApprovalRequest is the arguments payload of a client.requestApproval
// tool_call carried on a message event.
type ApprovalRequest struct {
	OriginalToolCall struct {
		Name string          `json:"name"`
		Args json.RawMessage `json:"args"`
	} `json:"originalToolCall"`
	Message          string   `json:"message"`
	Options          []string `json:"options"`
	WorkingDirectory string   `json:"workingDirectory,omitempty"`
}

// ToolResultEnvelope is the enhanced tool-result shape a client publishes
// (as a message event's content) to answer a pending approval. Content is a
// nested JSON string carrying the ApprovalDecision.
type ToolResultEnvelope struct {
	Type       string `json:"__type"`
	ToolCallID string `json:"tool_call_id"`
	AgentID    string `json:"agentId"`
	Content    string `json:"content"`
}

// ApprovalDecision is the decoded decision payload of an envelope.
type ApprovalDecision struct {
	Decision         string          `json:"decision"` // approve | deny
	Scope            string          `json:"scope,omitempty"`
	ToolName         string          `json:"toolName,omitempty"`
	ToolArgs         json.RawMessage `json:"toolArgs,omitempty"`
	WorkingDirectory string          `json:"workingDirectory,omitempty"`
}

// ParseToolResultEnvelope recognizes an enhanced tool-result envelope in a
// message content string. Non-envelope content returns ok=false.
func ParseToolResultEnvelope(content string) (ToolResultEnvelope, bool) {
	if len(content) == 0 || content[0] != '{' {
		return ToolResultEnvelope{}, false
	}
	var env ToolResultEnvelope
	if err := json.Unmarshal([]byte(content), &env); err != nil {
		return ToolResultEnvelope{}, false
	}
	if env.Type != envelopeType || env.ToolCallID == "" {
		return ToolResultEnvelope{}, false
	}
	return env, true
}

// DecodeApprovalDecision parses the envelope's nested decision payload. It
// accepts both the canonical wire vocabulary (deny/approve_once/
// approve_session) and the legacy UI vocabulary (Cancel/Once/Always),
// normalizing to the canonical form.
func DecodeApprovalDecision(env ToolResultEnvelope) (ApprovalDecision, error) {
	var d ApprovalDecision
	if err := json.Unmarshal([]byte(env.Content), &d); err != nil {
		return ApprovalDecision{}, &ErrValidation{Field: "content", Reason: "decision payload: " + err.Error()}
	}
	switch {
	case equalFold(d.Decision, "deny"), equalFold(d.Decision, "cancel"):
		d.Decision = DecisionDeny
		d.Scope = ""
	case equalFold(d.Decision, "approve"):
		switch {
		case equalFold(d.Scope, "session"), equalFold(d.Scope, "always"):
			d.Scope = "session"
		default:
			d.Scope = "once"
		}
	case equalFold(d.Decision, "once"), equalFold(d.Decision, "approve_once"):
		d.Decision = "approve"
		d.Scope = "once"
	case equalFold(d.Decision, "always"), equalFold(d.Decision, "approve_session"):
		d.Decision = "approve"
		d.Scope = "session"
	default:
		return ApprovalDecision{}, &ErrValidation{Field: "decision", Reason: "unknown decision " + d.Decision}
	}
	return d, nil
}

// EncodeApprovalResponse builds the message-event content string a client
// publishes to answer a pending approval. The inverse of
// ParseToolResultEnvelope + DecodeApprovalDecision.
func EncodeApprovalResponse(toolCallID, agentID string, d ApprovalDecision) (string, error) {
	inner, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	env, err := json.Marshal(ToolResultEnvelope{
		Type:       envelopeType,
		ToolCallID: toolCallID,
		AgentID:    agentID,
		Content:    string(inner),
	})
	if err != nil {
		return "", err
	}
	return string(env), nil
}

// NewApprovalRequestCall builds the synthetic tool_call attached to the
// approval-request message event.
func NewApprovalRequestCall(toolCallID string, req ApprovalRequest) (ToolCall, error) {
	args, err := json.Marshal(req)
	if err != nil {
		return ToolCall{}, err
	}
	return ToolCall{ID: toolCallID, Name: ApprovalRequestTool, Args: args}, nil
}
