// Package gemini implements agentworld.Provider for Google Gemini models.
package gemini

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nevindra/agentworld"
)

var baseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini implements agentworld.Provider against the generateContent API.
type Gemini struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// Option configures a Gemini provider.
type Option func(*Gemini)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gemini) {
		if c != nil {
			g.httpClient = c
		}
	}
}

// New creates a new Gemini chat provider.
func New(apiKey, model string, opts ...Option) *Gemini {
	g := &Gemini{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns "gemini".
func (g *Gemini) Name() string { return "gemini" }

// --- wire types ---

type genRequest struct {
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	Contents          []content         `json:"contents"`
	Tools             []toolWrapper     `json:"tools,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"` // "user" or "model"
	Parts []part `json:"parts"`
}

type part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *functionCall     `json:"functionCall,omitempty"`
	FunctionResponse *functionResponse `json:"functionResponse,omitempty"`
}

type functionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type functionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type toolWrapper struct {
	FunctionDeclarations []functionDecl `json:"functionDeclarations"`
}

type functionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type genResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata,omitempty"`
}

// --- provider ---

// ChatStream streams text deltas into ch, then returns the final
// accumulated response. The channel is closed when streaming completes.
// Gemini delivers function calls as complete parts, never as fragments.
func (g *Gemini) ChatStream(ctx context.Context, req agentworld.ChatRequest, ch chan<- agentworld.StreamChunk) (agentworld.ChatResponse, error) {
	defer close(ch)

	body := g.buildBody(req)
	payload, err := json.Marshal(body)
	if err != nil {
		return agentworld.ChatResponse{}, g.wrapErr("marshal body: " + err.Error())
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", baseURL, g.model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return agentworld.ChatResponse{}, g.wrapErr("create request: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return agentworld.ChatResponse{}, g.wrapErr("stream request failed: " + err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return agentworld.ChatResponse{}, &agentworld.ErrHTTP{Status: resp.StatusCode, Body: string(b)}
	}

	var fullContent strings.Builder
	var usage agentworld.Usage
	var toolCalls []agentworld.ToolCall

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "" {
			continue
		}

		var chunk genResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.UsageMetadata != nil {
			// Last chunk wins.
			usage.InputTokens = chunk.UsageMetadata.PromptTokenCount
			usage.OutputTokens = chunk.UsageMetadata.CandidatesTokenCount
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		for _, p := range chunk.Candidates[0].Content.Parts {
			if p.Text != "" {
				fullContent.WriteString(p.Text)
				select {
				case ch <- agentworld.StreamChunk{Text: p.Text}:
				case <-ctx.Done():
					return agentworld.ChatResponse{}, ctx.Err()
				}
			}
			if p.FunctionCall != nil {
				args := p.FunctionCall.Args
				if len(args) == 0 {
					args = json.RawMessage(`{}`)
				}
				toolCalls = append(toolCalls, agentworld.ToolCall{
					// Gemini has no call ids; the function name stands in.
					ID:   p.FunctionCall.Name,
					Name: p.FunctionCall.Name,
					Args: args,
				})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return agentworld.ChatResponse{}, err
	}

	return agentworld.ChatResponse{
		Content:   fullContent.String(),
		ToolCalls: toolCalls,
		Usage:     usage,
	}, nil
}

// buildBody converts the request into Gemini's contents shape: system
// messages move to systemInstruction, assistant turns become role "model",
// tool results become functionResponse parts.
func (g *Gemini) buildBody(req agentworld.ChatRequest) genRequest {
	var body genRequest

	for _, m := range req.Messages {
		switch m.Role {
		case agentworld.RoleSystem:
			if body.SystemInstruction == nil {
				body.SystemInstruction = &content{}
			}
			body.SystemInstruction.Parts = append(body.SystemInstruction.Parts, part{Text: m.Content})

		case agentworld.RoleAssistant:
			c := content{Role: "model"}
			if m.Content != "" {
				c.Parts = append(c.Parts, part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args := tc.Args
				if len(args) == 0 {
					args = json.RawMessage(`{}`)
				}
				c.Parts = append(c.Parts, part{FunctionCall: &functionCall{Name: tc.Name, Args: args}})
			}
			body.Contents = append(body.Contents, c)

		case agentworld.RoleTool:
			body.Contents = append(body.Contents, content{Role: "user", Parts: []part{{
				FunctionResponse: &functionResponse{
					Name:     m.ToolCallID,
					Response: map[string]any{"result": m.Content},
				},
			}}})

		default:
			text := m.Content
			if m.Name != "" {
				text = m.Name + ": " + text
			}
			body.Contents = append(body.Contents, content{Role: "user", Parts: []part{{Text: text}}})
		}
	}

	if len(req.Tools) > 0 {
		var decls []functionDecl
		for _, t := range req.Tools {
			decls = append(decls, functionDecl{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
		}
		body.Tools = []toolWrapper{{FunctionDeclarations: decls}}
	}

	if req.Temperature != 0 || req.MaxTokens > 0 {
		cfg := &generationConfig{MaxOutputTokens: req.MaxTokens}
		if req.Temperature != 0 {
			t := req.Temperature
			cfg.Temperature = &t
		}
		body.GenerationConfig = cfg
	}
	return body
}

func (g *Gemini) wrapErr(msg string) error {
	return &agentworld.ErrProvider{Provider: "gemini", Message: msg}
}

// Compile-time interface check.
var _ agentworld.Provider = (*Gemini)(nil)
