// Package memory implements agentworld.Storage entirely in process memory.
// It exists for tests and throwaway sessions; nothing survives the process.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/nevindra/agentworld"
)

// Store is an in-memory Storage backend. Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	worlds map[string]agentworld.WorldConfig
	agents map[string]map[string]agentworld.AgentRecord // worldID → agentID → record
	chats  map[string]map[string]agentworld.ChatData    // worldID → chatID → data
	snaps  map[string]map[string]agentworld.WorldChat   // worldID → chatID → snapshot
}

var _ agentworld.Storage = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		worlds: make(map[string]agentworld.WorldConfig),
		agents: make(map[string]map[string]agentworld.AgentRecord),
		chats:  make(map[string]map[string]agentworld.ChatData),
		snaps:  make(map[string]map[string]agentworld.WorldChat),
	}
}

// --- worlds ---

func (s *Store) SaveWorld(ctx context.Context, cfg agentworld.WorldConfig) error {
	if cfg.ID == "" {
		return &agentworld.ErrValidation{Field: "id", Reason: "required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.worlds[cfg.ID] = cfg
	return nil
}

func (s *Store) LoadWorld(ctx context.Context, worldID string) (agentworld.WorldConfig, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.worlds[worldID]
	return cfg, ok, nil
}

func (s *Store) DeleteWorld(ctx context.Context, worldID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.worlds, worldID)
	delete(s.agents, worldID)
	delete(s.chats, worldID)
	delete(s.snaps, worldID)
	return nil
}

func (s *Store) ListWorlds(ctx context.Context) ([]agentworld.WorldConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]agentworld.WorldConfig, 0, len(s.worlds))
	for _, cfg := range s.worlds {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) WorldExists(ctx context.Context, worldID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.worlds[worldID]
	return ok, nil
}

// --- agents ---

func (s *Store) SaveAgent(ctx context.Context, worldID string, rec agentworld.AgentRecord) error {
	if rec.Config.ID == "" {
		return &agentworld.ErrValidation{Field: "id", Reason: "required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agents[worldID] == nil {
		s.agents[worldID] = make(map[string]agentworld.AgentRecord)
	}
	s.agents[worldID][rec.Config.ID] = copyRecord(rec)
	return nil
}

func (s *Store) LoadAgent(ctx context.Context, worldID, agentID string) (agentworld.AgentRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.agents[worldID][agentID]
	if !ok {
		return agentworld.AgentRecord{}, false, nil
	}
	if rec.Config.SystemPrompt == "" {
		rec.Config.SystemPrompt = agentworld.DefaultSystemPrompt
	}
	return copyRecord(rec), true, nil
}

func (s *Store) DeleteAgent(ctx context.Context, worldID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents[worldID], agentID)
	return nil
}

func (s *Store) ListAgents(ctx context.Context, worldID string) ([]agentworld.AgentConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]agentworld.AgentConfig, 0, len(s.agents[worldID]))
	for _, rec := range s.agents[worldID] {
		out = append(out, rec.Config)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) SaveAgentMemory(ctx context.Context, worldID, agentID string, memory []agentworld.AgentMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.agents[worldID][agentID]
	if !ok {
		return &agentworld.ErrNotFound{Kind: "agent", ID: agentID}
	}
	rec.Memory = append([]agentworld.AgentMessage(nil), memory...)
	s.agents[worldID][agentID] = rec
	return nil
}

// --- chats ---

func (s *Store) SaveChatData(ctx context.Context, worldID string, data agentworld.ChatData) error {
	if data.Chat.ID == "" {
		return &agentworld.ErrValidation{Field: "id", Reason: "required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chats[worldID] == nil {
		s.chats[worldID] = make(map[string]agentworld.ChatData)
	}
	s.chats[worldID][data.Chat.ID] = copyChatData(data)
	return nil
}

func (s *Store) LoadChatData(ctx context.Context, worldID, chatID string) (agentworld.ChatData, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.chats[worldID][chatID]
	if !ok {
		return agentworld.ChatData{}, false, nil
	}
	return copyChatData(data), true, nil
}

func (s *Store) DeleteChatData(ctx context.Context, worldID, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats[worldID], chatID)
	if snaps := s.snaps[worldID]; snaps != nil {
		delete(snaps, chatID)
	}
	return nil
}

func (s *Store) ListChats(ctx context.Context, worldID string) ([]agentworld.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]agentworld.Chat, 0, len(s.chats[worldID]))
	for _, data := range s.chats[worldID] {
		out = append(out, data.Chat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *Store) UpdateChatData(ctx context.Context, worldID, chatID string, fn func(*agentworld.ChatData)) (agentworld.ChatData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.chats[worldID][chatID]
	if !ok {
		return agentworld.ChatData{}, &agentworld.ErrNotFound{Kind: "chat", ID: chatID}
	}
	data = copyChatData(data)
	fn(&data)
	s.chats[worldID][chatID] = copyChatData(data)
	return data, nil
}

// --- snapshots ---

func (s *Store) SaveWorldChat(ctx context.Context, worldID, chatID string, snap agentworld.WorldChat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[worldID][chatID]; !ok {
		return &agentworld.ErrNotFound{Kind: "chat", ID: chatID}
	}
	if s.snaps[worldID] == nil {
		s.snaps[worldID] = make(map[string]agentworld.WorldChat)
	}
	s.snaps[worldID][chatID] = snap
	return nil
}

func (s *Store) LoadWorldChat(ctx context.Context, worldID, chatID string) (agentworld.WorldChat, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[worldID][chatID]
	return snap, ok, nil
}

func copyRecord(rec agentworld.AgentRecord) agentworld.AgentRecord {
	out := rec
	out.Memory = append([]agentworld.AgentMessage(nil), rec.Memory...)
	if rec.Config.ChatMessageCounts != nil {
		out.Config.ChatMessageCounts = make(map[string]int, len(rec.Config.ChatMessageCounts))
		for k, v := range rec.Config.ChatMessageCounts {
			out.Config.ChatMessageCounts[k] = v
		}
	}
	return out
}

func copyChatData(data agentworld.ChatData) agentworld.ChatData {
	out := data
	out.Messages = append([]agentworld.AgentMessage(nil), data.Messages...)
	return out
}
