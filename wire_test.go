package agentworld

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestFrameRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	events := []Event{
		MessageEvent{
			Content:          "@ada hello",
			Sender:           "HUMAN",
			MessageID:        "m1",
			ChatID:           "c1",
			ReplyToMessageID: "m0",
			CreatedAt:        now,
		},
		SSEEvent{
			AgentName: "Ada",
			Phase:     PhaseEnd,
			MessageID: "m2",
			Content:   "done",
			Usage:     &Usage{InputTokens: 10, OutputTokens: 4},
		},
		SystemEvent{Category: "restore", Content: "chat restored", ChatID: "c1", Timestamp: now},
	}

	for _, ev := range events {
		data, err := EncodeFrame(ev)
		if err != nil {
			t.Fatalf("EncodeFrame(%T): %v", ev, err)
		}
		back, err := DecodeFrame(data)
		if err != nil {
			t.Fatalf("DecodeFrame(%T): %v", ev, err)
		}
		if back.Kind() != ev.Kind() {
			t.Errorf("kind mismatch: %s != %s", back.Kind(), ev.Kind())
		}
	}
}

func TestFrameTypeTag(t *testing.T) {
	data, err := EncodeFrame(MessageEvent{Content: "hi", Sender: "HUMAN"})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m["type"] != "message" {
		t.Errorf("type = %v, want message", m["type"])
	}
}

func TestDecodeFrameRejectsUnknownType(t *testing.T) {
	if _, err := DecodeFrame([]byte(`{"type":"bogus"}`)); err == nil {
		t.Error("unknown frame type should fail")
	}
	if _, err := DecodeFrame([]byte(`not json`)); err == nil {
		t.Error("malformed frame should fail")
	}
}

func TestParseToolResultEnvelope(t *testing.T) {
	content, err := EncodeApprovalResponse("call-1", "ada", ApprovalDecision{Decision: "approve", Scope: "once"})
	if err != nil {
		t.Fatal(err)
	}

	env, ok := ParseToolResultEnvelope(content)
	if !ok {
		t.Fatal("round-tripped envelope not recognized")
	}
	if env.ToolCallID != "call-1" || env.AgentID != "ada" {
		t.Errorf("envelope = %+v", env)
	}

	// Conversational text that happens to be JSON is not an envelope.
	if _, ok := ParseToolResultEnvelope(`{"hello":"world"}`); ok {
		t.Error("plain JSON misidentified as envelope")
	}
	if _, ok := ParseToolResultEnvelope("just text"); ok {
		t.Error("plain text misidentified as envelope")
	}
	if _, ok := ParseToolResultEnvelope(`{"__type":"tool_result"}`); ok {
		t.Error("envelope without tool_call_id should be rejected")
	}
}

func TestDecodeApprovalDecisionVocabulary(t *testing.T) {
	tests := []struct {
		decision string
		scope    string
		wantDec  string
		wantScp  string
		wantErr  bool
	}{
		{"approve", "once", "approve", "once", false},
		{"approve", "", "approve", "once", false},
		{"approve", "session", "approve", "session", false},
		{"approve", "always", "approve", "session", false},
		{"approve_once", "", "approve", "once", false},
		{"approve_session", "", "approve", "session", false},
		{"Once", "", "approve", "once", false},
		{"Always", "", "approve", "session", false},
		{"deny", "", "deny", "", false},
		{"Cancel", "", "deny", "", false},
		{"maybe", "", "", "", true},
	}

	for _, tt := range tests {
		inner, _ := json.Marshal(map[string]string{"decision": tt.decision, "scope": tt.scope})
		env := ToolResultEnvelope{Type: "tool_result", ToolCallID: "c1", Content: string(inner)}
		d, err := DecodeApprovalDecision(env)
		if tt.wantErr {
			if err == nil {
				t.Errorf("decision %q: expected error", tt.decision)
			}
			continue
		}
		if err != nil {
			t.Errorf("decision %q: %v", tt.decision, err)
			continue
		}
		if d.Decision != tt.wantDec || d.Scope != tt.wantScp {
			t.Errorf("decision %q/%q normalized to %q/%q, want %q/%q",
				tt.decision, tt.scope, d.Decision, d.Scope, tt.wantDec, tt.wantScp)
		}
	}
}

func TestNewApprovalRequestCall(t *testing.T) {
	req := ApprovalRequest{
		Message:          "Agent ada wants to run shell_exec. Allow?",
		Options:          []string{DecisionDeny, DecisionApproveOnce, DecisionApproveSession},
		WorkingDirectory: "/work",
	}
	req.OriginalToolCall.Name = "shell_exec"
	req.OriginalToolCall.Args = json.RawMessage(`{"command":"ls"}`)

	call, err := NewApprovalRequestCall("call-9", req)
	if err != nil {
		t.Fatal(err)
	}
	if call.Name != ApprovalRequestTool || call.ID != "call-9" {
		t.Errorf("call = %+v", call)
	}
	if !strings.Contains(string(call.Args), "shell_exec") {
		t.Errorf("args missing original tool: %s", call.Args)
	}
}
