package openaicompat

import (
	"encoding/json"
	"testing"

	"github.com/nevindra/agentworld"
)

func TestBuildBodyMapsMessages(t *testing.T) {
	req := agentworld.ChatRequest{
		Messages: []agentworld.ChatMessage{
			{Role: agentworld.RoleSystem, Content: "be brief"},
			{Role: agentworld.RoleUser, Content: "hi", Name: "Ada Lovelace"},
			{Role: agentworld.RoleAssistant, Content: "", ToolCalls: []agentworld.ToolCall{
				{ID: "t1", Name: "shell_exec", Args: json.RawMessage(`{"command":"ls"}`)},
			}},
			{Role: agentworld.RoleTool, Content: "file.txt", ToolCallID: "t1"},
		},
		Temperature: 0.7,
		MaxTokens:   256,
	}

	body := BuildBody(req, "gpt-4o-mini")
	if body.Model != "gpt-4o-mini" || body.MaxTokens != 256 {
		t.Errorf("body = %+v", body)
	}
	if body.Temperature == nil || *body.Temperature != 0.7 {
		t.Errorf("temperature = %v", body.Temperature)
	}
	if len(body.Messages) != 4 {
		t.Fatalf("messages = %d", len(body.Messages))
	}

	if body.Messages[0].Role != "system" || body.Messages[0].Content != "be brief" {
		t.Errorf("system = %+v", body.Messages[0])
	}
	if body.Messages[1].Name != "Ada_Lovelace" {
		t.Errorf("name = %q, want sanitized", body.Messages[1].Name)
	}

	asst := body.Messages[2]
	if len(asst.ToolCalls) != 1 {
		t.Fatalf("assistant = %+v", asst)
	}
	tc := asst.ToolCalls[0]
	if tc.ID != "t1" || tc.Type != "function" || tc.Function.Name != "shell_exec" || tc.Function.Arguments != `{"command":"ls"}` {
		t.Errorf("tool call = %+v", tc)
	}

	tool := body.Messages[3]
	if tool.Role != "tool" || tool.ToolCallID != "t1" || tool.Content != "file.txt" {
		t.Errorf("tool msg = %+v", tool)
	}
}

func TestBuildBodyOmitsZeroTemperature(t *testing.T) {
	body := BuildBody(agentworld.ChatRequest{}, "m")
	if body.Temperature != nil {
		t.Errorf("temperature = %v, want nil", body.Temperature)
	}
}

func TestBuildToolDefs(t *testing.T) {
	defs := BuildToolDefs([]agentworld.ToolDefinition{
		{Name: "shell_exec", Description: "run a command", Parameters: json.RawMessage(`{"type":"object"}`)},
		{Name: "bare"},
	})
	if len(defs) != 2 {
		t.Fatalf("defs = %+v", defs)
	}
	if defs[0].Type != "function" || defs[0].Function.Name != "shell_exec" {
		t.Errorf("defs[0] = %+v", defs[0])
	}
	if string(defs[1].Function.Parameters) != "{}" {
		t.Errorf("empty parameters should default to {}, got %s", defs[1].Function.Parameters)
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Ada", "Ada"},
		{"Ada Lovelace", "Ada_Lovelace"},
		{"ada-2", "ada-2"},
		{"héllo!", "hllo"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := sanitizeName(tt.in); got != tt.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
