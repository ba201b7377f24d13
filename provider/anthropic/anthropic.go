// Package anthropic implements agentworld.Provider for the Anthropic
// Messages API with SSE streaming.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nevindra/agentworld"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

// Provider implements agentworld.Provider against the Anthropic Messages
// API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) ProviderOption {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = url
		}
	}
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) {
		if c != nil {
			p.client = c
		}
	}
}

// NewProvider creates an Anthropic chat provider.
func NewProvider(apiKey, model string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns "anthropic".
func (p *Provider) Name() string { return "anthropic" }

// --- wire types ---

type request struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Tools       []toolDef `json:"tools,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream"`
}

type message struct {
	Role    string  `json:"role"`
	Content []block `json:"content"`
}

type block struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type toolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// streamEvent is the union of SSE event payloads the stream emits.
type streamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`

	Message *struct {
		Usage usage `json:"usage"`
	} `json:"message,omitempty"`

	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block,omitempty"`

	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta,omitempty"`

	Usage *usage `json:"usage,omitempty"`

	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// --- provider ---

// ChatStream streams text deltas into ch and returns the assembled
// response. Tool-use inputs accumulate across input_json_delta events and
// arrive complete on the final response.
func (p *Provider) ChatStream(ctx context.Context, req agentworld.ChatRequest, ch chan<- agentworld.StreamChunk) (agentworld.ChatResponse, error) {
	body := p.buildBody(req)

	payload, err := json.Marshal(body)
	if err != nil {
		close(ch)
		return agentworld.ChatResponse{}, &agentworld.ErrProvider{Provider: "anthropic", Message: fmt.Sprintf("marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		close(ch)
		return agentworld.ChatResponse{}, &agentworld.ErrProvider{Provider: "anthropic", Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		close(ch)
		return agentworld.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		close(ch)
		errBody, _ := io.ReadAll(resp.Body)
		return agentworld.ChatResponse{}, &agentworld.ErrHTTP{Status: resp.StatusCode, Body: string(errBody)}
	}

	return streamSSE(ctx, resp.Body, ch)
}

// buildBody converts the request into Anthropic's shape: the system prompt
// moves to the top-level field, tool results become user-role tool_result
// blocks, and sender attribution is folded into the text since the API has
// no name field.
func (p *Provider) buildBody(req agentworld.ChatRequest) request {
	body := request{
		Model:     p.model,
		MaxTokens: req.MaxTokens,
		Stream:    true,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = defaultMaxTokens
	}
	if req.Temperature != 0 {
		t := req.Temperature
		body.Temperature = &t
	}

	for _, m := range req.Messages {
		switch m.Role {
		case agentworld.RoleSystem:
			if body.System != "" {
				body.System += "\n\n"
			}
			body.System += m.Content

		case agentworld.RoleAssistant:
			blocks := []block{}
			if m.Content != "" {
				blocks = append(blocks, block{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := tc.Args
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, block{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
			body.Messages = append(body.Messages, message{Role: "assistant", Content: blocks})

		case agentworld.RoleTool:
			body.Messages = append(body.Messages, message{Role: "user", Content: []block{
				{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content},
			}})

		default:
			text := m.Content
			if m.Name != "" {
				text = m.Name + ": " + text
			}
			body.Messages = append(body.Messages, message{Role: "user", Content: []block{{Type: "text", Text: text}}})
		}
	}

	for _, t := range req.Tools {
		schema := t.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		body.Tools = append(body.Tools, toolDef{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return body
}

// streamSSE consumes the Messages API event stream. Closes ch when done.
func streamSSE(ctx context.Context, body io.Reader, ch chan<- agentworld.StreamChunk) (agentworld.ChatResponse, error) {
	defer close(ch)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var content strings.Builder
	var total agentworld.Usage

	type partialTool struct {
		id   string
		name string
		json strings.Builder
	}
	tools := make(map[int]*partialTool)
	var toolOrder []int

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				total.InputTokens = ev.Message.Usage.InputTokens
			}

		case "content_block_start":
			if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
				tools[ev.Index] = &partialTool{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
				toolOrder = append(toolOrder, ev.Index)
			}

		case "content_block_delta":
			if ev.Delta == nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				content.WriteString(ev.Delta.Text)
				select {
				case ch <- agentworld.StreamChunk{Text: ev.Delta.Text}:
				case <-ctx.Done():
					return agentworld.ChatResponse{}, ctx.Err()
				}
			case "input_json_delta":
				if t, ok := tools[ev.Index]; ok {
					t.json.WriteString(ev.Delta.PartialJSON)
				}
			}

		case "message_delta":
			if ev.Usage != nil {
				total.OutputTokens = ev.Usage.OutputTokens
			}

		case "error":
			msg := "stream error"
			if ev.Error != nil {
				msg = ev.Error.Message
			}
			return agentworld.ChatResponse{}, &agentworld.ErrProvider{Provider: "anthropic", Message: msg}

		case "message_stop":
			// Fall through to scanner exhaustion.
		}
	}
	if err := scanner.Err(); err != nil {
		return agentworld.ChatResponse{}, err
	}

	var calls []agentworld.ToolCall
	for _, idx := range toolOrder {
		t := tools[idx]
		args := json.RawMessage(t.json.String())
		if !json.Valid(args) || len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		calls = append(calls, agentworld.ToolCall{ID: t.id, Name: t.name, Args: args})
	}

	return agentworld.ChatResponse{
		Content:   content.String(),
		ToolCalls: calls,
		Usage:     total,
	}, nil
}

// Compile-time interface check.
var _ agentworld.Provider = (*Provider)(nil)
