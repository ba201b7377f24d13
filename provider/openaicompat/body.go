package openaicompat

import (
	"encoding/json"

	"github.com/nevindra/agentworld"
)

// BuildBody converts an agentworld ChatRequest into an OpenAI-format
// request body. System messages stay in the messages array as
// role:"system"; the Name field carries multi-party sender attribution.
func BuildBody(req agentworld.ChatRequest, model string) ChatRequest {
	var msgs []Message
	for _, m := range req.Messages {
		switch {
		case m.Role == agentworld.RoleAssistant && len(m.ToolCalls) > 0:
			var tcs []ToolCallRequest
			for _, tc := range m.ToolCalls {
				tcs = append(tcs, ToolCallRequest{
					ID:   tc.ID,
					Type: "function",
					Function: FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Args),
					},
				})
			}
			msgs = append(msgs, Message{Role: m.Role, Content: m.Content, ToolCalls: tcs})

		case m.Role == agentworld.RoleTool:
			msgs = append(msgs, Message{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID})

		default:
			msgs = append(msgs, Message{Role: m.Role, Content: m.Content, Name: sanitizeName(m.Name)})
		}
	}

	body := ChatRequest{
		Model:     model,
		Messages:  msgs,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		body.Temperature = &t
	}
	if len(req.Tools) > 0 {
		body.Tools = BuildToolDefs(req.Tools)
	}
	return body
}

// BuildToolDefs converts agentworld ToolDefinitions to OpenAI tool format.
func BuildToolDefs(tools []agentworld.ToolDefinition) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{}`)
		}
		out = append(out, Tool{
			Type: "function",
			Function: Function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// sanitizeName maps a free-form sender to the restricted charset the name
// field accepts (alphanumerics, underscore, hyphen). Anything else is
// dropped rather than rejected.
func sanitizeName(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			out = append(out, c)
		case c == ' ':
			out = append(out, '_')
		}
	}
	return string(out)
}
