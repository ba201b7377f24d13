package observer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nevindra/agentworld"
)

// mockProvider for observer tests.
type mockProvider struct {
	name     string
	chatResp agentworld.ChatResponse
	chatErr  error
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) ChatStream(_ context.Context, _ agentworld.ChatRequest, ch chan<- agentworld.StreamChunk) (agentworld.ChatResponse, error) {
	ch <- agentworld.StreamChunk{Text: "hello"}
	ch <- agentworld.StreamChunk{Text: " world"}
	close(ch)
	return m.chatResp, m.chatErr
}

// mockTool for observer tests.
type mockTool struct {
	defs   []agentworld.ToolDefinition
	result agentworld.ToolResult
	err    error
}

func (m *mockTool) Definitions() []agentworld.ToolDefinition { return m.defs }
func (m *mockTool) Execute(_ context.Context, _ string, _ json.RawMessage) (agentworld.ToolResult, error) {
	return m.result, m.err
}

// testInstruments creates a no-op Instruments using the global OTEL providers
// (which are no-ops by default). This is safe for testing delegation behavior
// without any real OTEL backend.
func testInstruments(t *testing.T) *Instruments {
	t.Helper()
	inst, err := newInstruments(nil)
	if err != nil {
		t.Fatalf("newInstruments: %v", err)
	}
	return inst
}

func TestObservedProviderName(t *testing.T) {
	inner := &mockProvider{name: "test-provider"}
	op := WrapProvider(inner, "test-model", testInstruments(t))

	got := op.Name()
	if got != "test-provider" {
		t.Errorf("Name() = %q, want %q", got, "test-provider")
	}
}

func TestObservedProviderChatStream(t *testing.T) {
	want := agentworld.ChatResponse{
		Content: "hello world",
		Usage:   agentworld.Usage{InputTokens: 8, OutputTokens: 2},
	}
	inner := &mockProvider{name: "p", chatResp: want}
	op := WrapProvider(inner, "m", testInstruments(t))

	ch := make(chan agentworld.StreamChunk, 10)
	got, err := op.ChatStream(context.Background(), agentworld.ChatRequest{}, ch)
	if err != nil {
		t.Fatalf("ChatStream returned unexpected error: %v", err)
	}

	// The wrapper's goroutine forwards chunks from the inner channel to ch
	// and closes ch when done. Collect all chunks.
	var texts []string
	for chunk := range ch {
		texts = append(texts, chunk.Text)
	}

	if len(texts) != 2 {
		t.Fatalf("received %d chunks, want 2", len(texts))
	}
	if texts[0] != "hello" || texts[1] != " world" {
		t.Errorf("chunks = %v, want [hello, ' world']", texts)
	}
	if got.Content != want.Content {
		t.Errorf("Content = %q, want %q", got.Content, want.Content)
	}
	if got.Usage != want.Usage {
		t.Errorf("Usage = %+v, want %+v", got.Usage, want.Usage)
	}
}

func TestObservedProviderChatStreamError(t *testing.T) {
	wantErr := errors.New("provider unavailable")
	inner := &mockProvider{name: "p", chatErr: wantErr}
	op := WrapProvider(inner, "m", testInstruments(t))

	ch := make(chan agentworld.StreamChunk, 10)
	_, err := op.ChatStream(context.Background(), agentworld.ChatRequest{}, ch)
	if !errors.Is(err, wantErr) {
		t.Errorf("ChatStream error = %v, want %v", err, wantErr)
	}
}

func TestObservedToolDefinitions(t *testing.T) {
	defs := []agentworld.ToolDefinition{
		{Name: "shell_exec", Description: "run a command"},
		{Name: "http_fetch", Description: "fetch a page"},
	}
	inner := &mockTool{defs: defs}
	ot := WrapTool(inner, testInstruments(t))

	got := ot.Definitions()
	if len(got) != len(defs) {
		t.Fatalf("Definitions length = %d, want %d", len(got), len(defs))
	}
	for i, d := range got {
		if d.Name != defs[i].Name {
			t.Errorf("Definitions[%d].Name = %q, want %q", i, d.Name, defs[i].Name)
		}
	}
}

func TestObservedToolExecute(t *testing.T) {
	want := agentworld.ToolResult{Content: "result data"}
	inner := &mockTool{result: want}
	ot := WrapTool(inner, testInstruments(t))

	got, err := ot.Execute(context.Background(), "shell_exec", json.RawMessage(`{"command":"ls"}`))
	if err != nil {
		t.Fatalf("Execute returned unexpected error: %v", err)
	}
	if got.Content != want.Content {
		t.Errorf("Content = %q, want %q", got.Content, want.Content)
	}
	if got.Error != "" {
		t.Errorf("Error = %q, want empty", got.Error)
	}
}

func TestObservedToolExecuteError(t *testing.T) {
	wantErr := errors.New("tool broken")
	inner := &mockTool{err: wantErr}
	ot := WrapTool(inner, testInstruments(t))

	_, err := ot.Execute(context.Background(), "shell_exec", json.RawMessage(`{}`))
	if !errors.Is(err, wantErr) {
		t.Errorf("Execute error = %v, want %v", err, wantErr)
	}
}

func TestObservedToolWorkingDirectory(t *testing.T) {
	inner := &mockTool{}
	ot := WrapTool(inner, testInstruments(t))

	if got := ot.WorkingDirectory(json.RawMessage(`{}`)); got != "" {
		t.Errorf("WorkingDirectory = %q, want empty for non-workdir tool", got)
	}
}

func TestTracerSpanLifecycle(t *testing.T) {
	tr := NewTracer()

	ctx, span := tr.Start(context.Background(), "agent.turn",
		agentworld.StringAttr("agent.id", "ada"),
		agentworld.IntAttr("round", 1),
	)
	if ctx == nil {
		t.Fatal("Start returned nil context")
	}
	span.SetAttr(agentworld.BoolAttr("passed", false))
	span.Event("tool.requested", agentworld.StringAttr("tool.name", "shell_exec"))
	span.Error(errors.New("boom"))
	span.End()
}
