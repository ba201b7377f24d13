package agentworld

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// memStore is a minimal in-memory Storage for runtime tests. The real
// backends live under store/; this one exists so root-package tests carry
// no dependency on them.
type memStore struct {
	mu     sync.Mutex
	worlds map[string]WorldConfig
	agents map[string]map[string]AgentRecord
	chats  map[string]map[string]ChatData
	snaps  map[string]map[string]WorldChat

	// failSaves, when set, makes agent/world saves fail. Used to exercise
	// rollback paths.
	failSaves bool
}

func newMemStore() *memStore {
	return &memStore{
		worlds: make(map[string]WorldConfig),
		agents: make(map[string]map[string]AgentRecord),
		chats:  make(map[string]map[string]ChatData),
		snaps:  make(map[string]map[string]WorldChat),
	}
}

func (s *memStore) fail() error {
	if s.failSaves {
		return &ErrStorage{Op: "save", Err: context.DeadlineExceeded}
	}
	return nil
}

func (s *memStore) SaveWorld(_ context.Context, cfg WorldConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	s.worlds[cfg.ID] = cfg
	return nil
}

func (s *memStore) LoadWorld(_ context.Context, id string) (WorldConfig, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.worlds[id]
	return cfg, ok, nil
}

func (s *memStore) DeleteWorld(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.worlds, id)
	delete(s.agents, id)
	delete(s.chats, id)
	delete(s.snaps, id)
	return nil
}

func (s *memStore) ListWorlds(_ context.Context) ([]WorldConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []WorldConfig
	for _, cfg := range s.worlds {
		out = append(out, cfg)
	}
	return out, nil
}

func (s *memStore) WorldExists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.worlds[id]
	return ok, nil
}

func (s *memStore) SaveAgent(_ context.Context, worldID string, rec AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	if s.agents[worldID] == nil {
		s.agents[worldID] = make(map[string]AgentRecord)
	}
	s.agents[worldID][rec.Config.ID] = rec
	return nil
}

func (s *memStore) LoadAgent(_ context.Context, worldID, agentID string) (AgentRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.agents[worldID][agentID]
	return rec, ok, nil
}

func (s *memStore) DeleteAgent(_ context.Context, worldID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	delete(s.agents[worldID], agentID)
	return nil
}

func (s *memStore) ListAgents(_ context.Context, worldID string) ([]AgentConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AgentConfig
	for _, rec := range s.agents[worldID] {
		out = append(out, rec.Config)
	}
	return out, nil
}

func (s *memStore) SaveAgentMemory(_ context.Context, worldID, agentID string, memory []AgentMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.agents[worldID][agentID]
	if !ok {
		return &ErrNotFound{Kind: "agent", ID: agentID}
	}
	rec.Memory = memory
	s.agents[worldID][agentID] = rec
	return nil
}

func (s *memStore) SaveChatData(_ context.Context, worldID string, data ChatData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chats[worldID] == nil {
		s.chats[worldID] = make(map[string]ChatData)
	}
	s.chats[worldID][data.Chat.ID] = data
	return nil
}

func (s *memStore) LoadChatData(_ context.Context, worldID, chatID string) (ChatData, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.chats[worldID][chatID]
	return data, ok, nil
}

func (s *memStore) DeleteChatData(_ context.Context, worldID, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats[worldID], chatID)
	delete(s.snaps[worldID], chatID)
	return nil
}

func (s *memStore) ListChats(_ context.Context, worldID string) ([]Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Chat
	for _, data := range s.chats[worldID] {
		out = append(out, data.Chat)
	}
	return out, nil
}

func (s *memStore) UpdateChatData(_ context.Context, worldID, chatID string, fn func(*ChatData)) (ChatData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.chats[worldID][chatID]
	if !ok {
		return ChatData{}, &ErrNotFound{Kind: "chat", ID: chatID}
	}
	fn(&data)
	s.chats[worldID][chatID] = data
	return data, nil
}

func (s *memStore) SaveWorldChat(_ context.Context, worldID, chatID string, snap WorldChat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snaps[worldID] == nil {
		s.snaps[worldID] = make(map[string]WorldChat)
	}
	s.snaps[worldID][chatID] = snap
	return nil
}

func (s *memStore) LoadWorldChat(_ context.Context, worldID, chatID string) (WorldChat, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[worldID][chatID]
	return snap, ok, nil
}

// scriptProvider returns scripted responses in order, streaming each
// response's content as a single chunk. Requests are recorded for
// inspection.
type scriptProvider struct {
	mu        sync.Mutex
	responses []ChatResponse
	requests  []ChatRequest
	err       error
}

func (p *scriptProvider) Name() string { return "script" }

func (p *scriptProvider) ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamChunk) (ChatResponse, error) {
	defer close(ch)
	p.mu.Lock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		err := p.err
		p.mu.Unlock()
		return ChatResponse{}, err
	}
	var resp ChatResponse
	if len(p.responses) > 0 {
		resp = p.responses[0]
		p.responses = p.responses[1:]
	} else {
		resp = ChatResponse{Content: "ok"}
	}
	p.mu.Unlock()

	if resp.Content != "" {
		select {
		case ch <- StreamChunk{Text: resp.Content}:
		case <-ctx.Done():
			return ChatResponse{}, ctx.Err()
		}
	}
	return resp, nil
}

func (p *scriptProvider) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// newTestWorld builds a manager over a fresh memStore, resolving every LLM
// config to the given provider, and creates one world.
func newTestWorld(t *testing.T, provider Provider, opts ...ManagerOption) (*Manager, *World, *memStore) {
	t.Helper()
	store := newMemStore()
	all := append([]ManagerOption{
		WithProviderResolver(ProviderResolverFunc(func(LLMConfig) (Provider, error) {
			return provider, nil
		})),
	}, opts...)
	m := NewManager(store, all...)
	t.Cleanup(m.Teardown)

	w, err := m.CreateWorld(context.Background(), "Test World", "", 0)
	if err != nil {
		t.Fatalf("CreateWorld: %v", err)
	}
	return m, w, store
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// collectSSE subscribes to the world's sse topic and returns an accessor
// for the events seen so far.
func collectSSE(w *World) func() []SSEEvent {
	var mu sync.Mutex
	var events []SSEEvent
	w.Bus().SubscribeSSE(func(ev SSEEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	return func() []SSEEvent {
		mu.Lock()
		defer mu.Unlock()
		out := make([]SSEEvent, len(events))
		copy(out, events)
		return out
	}
}

// collectMessages mirrors collectSSE for the message topic.
func collectMessages(w *World) func() []MessageEvent {
	var mu sync.Mutex
	var events []MessageEvent
	w.Bus().SubscribeMessages(func(ev MessageEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	return func() []MessageEvent {
		mu.Lock()
		defer mu.Unlock()
		out := make([]MessageEvent, len(events))
		copy(out, events)
		return out
	}
}

// approveTool is an untrusted tool whose executions are counted.
type approveTool struct {
	mu    sync.Mutex
	calls int
}

func (a *approveTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "write_note", Description: "Write a note"}}
}

func (a *approveTool) Execute(_ context.Context, name string, _ json.RawMessage) (ToolResult, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	return ToolResult{Content: "done " + name}, nil
}

func (a *approveTool) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// trustedTool executes without approval.
type trustedTool struct{}

func (trustedTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "clock", Description: "Current time"}}
}

func (trustedTool) Execute(_ context.Context, _ string, _ json.RawMessage) (ToolResult, error) {
	return ToolResult{Content: "noon"}, nil
}
