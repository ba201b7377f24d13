package agentworld

import (
	"context"
	"fmt"
	"sort"
)

// ChatManager owns a world's chat sessions: create/switch/delete/rename,
// the auto-save of message events into the active chat, and the WorldChat
// snapshot/restore model. One per world, guarded by the world's lock via
// its own mutex-free design: all entry points go through the owning World,
// which serializes config changes; the manager protects its own summaries.
type ChatManager struct {
	world *World
}

func newChatManager(w *World) *ChatManager {
	return &ChatManager{world: w}
}

// List returns chat summaries ordered by updatedAt descending.
func (m *ChatManager) List(ctx context.Context) ([]Chat, error) {
	chats, err := m.world.storage.ListChats(ctx, m.world.ID())
	if err != nil {
		return nil, err
	}
	return chats, nil
}

// ActiveID returns the active chat's id, or "" when none is active.
func (m *ChatManager) ActiveID() string {
	return m.world.ActiveChatID()
}

// Create makes a new chat, persists it, and switches the world to it.
func (m *ChatManager) Create(ctx context.Context, name, description string) (Chat, error) {
	if name == "" {
		return Chat{}, &ErrValidation{Field: "name", Reason: "required"}
	}
	now := Now()
	chat := Chat{ID: NewID(), Name: name, Description: description, CreatedAt: now, UpdatedAt: now}
	if err := m.world.storage.SaveChatData(ctx, m.world.ID(), ChatData{Chat: chat}); err != nil {
		return Chat{}, err
	}
	if err := m.Set(ctx, chat.ID); err != nil {
		return Chat{}, err
	}
	return chat, nil
}

// NewChat creates an auto-named chat and makes it active.
func (m *ChatManager) NewChat(ctx context.Context) (Chat, error) {
	existing, err := m.world.storage.ListChats(ctx, m.world.ID())
	if err != nil {
		return Chat{}, err
	}
	return m.Create(ctx, fmt.Sprintf("Chat %d", len(existing)+1), "")
}

// Set switches the active chat without creating one. Rejected with
// ErrConflict while any agent turn is in flight for the current chat;
// callers must wait.
func (m *ChatManager) Set(ctx context.Context, chatID string) error {
	if n := m.world.turnsInFlight(); n > 0 {
		return &ErrConflict{Kind: "chat", ID: chatID, Reason: fmt.Sprintf("%d agent turn(s) in progress", n)}
	}
	_, ok, err := m.world.storage.LoadChatData(ctx, m.world.ID(), chatID)
	if err != nil {
		return err
	}
	if !ok {
		return &ErrNotFound{Kind: "chat", ID: chatID}
	}
	if err := m.world.setActiveChat(ctx, chatID); err != nil {
		return err
	}
	// Per-world-per-chat turn budget: switching resets the target chat.
	m.world.turns.ResetChat(chatID)
	return nil
}

// Delete removes a chat, clears the active pointer if it pointed here, and
// invalidates the chat's session approvals.
func (m *ChatManager) Delete(ctx context.Context, chatID string) error {
	_, ok, err := m.world.storage.LoadChatData(ctx, m.world.ID(), chatID)
	if err != nil {
		return err
	}
	if !ok {
		return &ErrNotFound{Kind: "chat", ID: chatID}
	}
	if err := m.world.storage.DeleteChatData(ctx, m.world.ID(), chatID); err != nil {
		return err
	}
	if m.world.ActiveChatID() == chatID {
		if err := m.world.setActiveChat(ctx, ""); err != nil {
			return err
		}
	}
	m.world.approvals.EndChat(chatID)
	m.world.turns.ResetChat(chatID)
	return nil
}

// Update renames or re-describes a chat.
func (m *ChatManager) Update(ctx context.Context, chatID, name, description string) (Chat, error) {
	data, err := m.world.storage.UpdateChatData(ctx, m.world.ID(), chatID, func(d *ChatData) {
		if name != "" {
			d.Chat.Name = name
		}
		if description != "" {
			d.Chat.Description = description
		}
		d.Chat.UpdatedAt = Now()
	})
	if err != nil {
		return Chat{}, err
	}
	return data.Chat, nil
}

// ensureActive returns the active chat id, creating an implicit chat when
// none exists (first message into a fresh world).
func (m *ChatManager) ensureActive(ctx context.Context) (string, error) {
	if id := m.world.ActiveChatID(); id != "" {
		return id, nil
	}
	chat, err := m.NewChat(ctx)
	if err != nil {
		return "", err
	}
	return chat.ID, nil
}

// record appends a message event to its chat, deduplicated by messageId,
// bumping updatedAt and messageCount. This is the auto-save path, invoked
// for every published message event (tool-result envelopes never reach it).
func (m *ChatManager) record(ctx context.Context, ev MessageEvent) {
	if ev.ChatID == "" {
		return
	}
	_, err := m.world.storage.UpdateChatData(ctx, m.world.ID(), ev.ChatID, func(d *ChatData) {
		for _, msg := range d.Messages {
			if msg.MessageID != "" && msg.MessageID == ev.MessageID {
				return
			}
		}
		role := RoleUser
		var agentID string
		if ClassifySender(ev.Sender) == SenderAgent {
			role = RoleAssistant
			agentID = ev.Sender
		}
		d.Messages = append(d.Messages, AgentMessage{
			Role:             role,
			Content:          ev.Content,
			Sender:           ev.Sender,
			MessageID:        ev.MessageID,
			ReplyToMessageID: ev.ReplyToMessageID,
			ChatID:           ev.ChatID,
			ToolCalls:        ev.ToolCalls,
			CreatedAt:        ev.CreatedAt,
			AgentID:          agentID,
		})
		d.Chat.MessageCount = len(d.Messages)
		d.Chat.UpdatedAt = Now()
	})
	if err != nil {
		m.world.logger.Error("chat auto-save", "world", m.world.ID(), "chat", ev.ChatID, "error", err)
	}
}

// --- Snapshot / restore ---

// Snapshot captures the world config, every agent (system prompts
// included), and the merged message stream for chatID into a WorldChat,
// and persists it alongside the chat.
func (m *ChatManager) Snapshot(ctx context.Context, chatID string) (WorldChat, error) {
	_, ok, err := m.world.storage.LoadChatData(ctx, m.world.ID(), chatID)
	if err != nil {
		return WorldChat{}, err
	}
	if !ok {
		return WorldChat{}, &ErrNotFound{Kind: "chat", ID: chatID}
	}

	agents := m.world.Agents()
	snap := WorldChat{
		World:   m.world.Config(),
		Prompts: make(map[string]string, len(agents)),
	}
	var streams [][]AgentMessage
	for _, a := range agents {
		cfg := a.Config()
		snap.Prompts[cfg.ID] = cfg.SystemPrompt
		snap.Agents = append(snap.Agents, cfg)
		streams = append(streams, a.Memory())
	}
	sort.Slice(snap.Agents, func(i, j int) bool { return snap.Agents[i].Name < snap.Agents[j].Name })

	snap.Messages = mergeChatStreams(streams, chatID)
	snap.Metadata = WorldChatMeta{
		CapturedAt:    Now(),
		SchemaVersion: WorldChatSchemaVersion,
		TotalMessages: len(snap.Messages),
		ActiveAgents:  len(snap.Agents),
	}

	if err := m.world.storage.SaveWorldChat(ctx, m.world.ID(), chatID, snap); err != nil {
		return WorldChat{}, err
	}
	return snap, nil
}

// Restore overwrites the world's agent set from a snapshot — deleting
// agents absent from it, upserting the rest — and replaces each agent's
// memory for the snapshot's chat. The change is staged: a failure part-way
// rolls the in-memory state back and leaves previously written files to the
// next restore, so the caller observes all-or-nothing.
func (m *ChatManager) Restore(ctx context.Context, chatID string, snap WorldChat) error {
	if snap.Metadata.SchemaVersion > WorldChatSchemaVersion {
		return &ErrValidation{Field: "schemaVersion", Reason: fmt.Sprintf("snapshot version %d is newer than supported %d", snap.Metadata.SchemaVersion, WorldChatSchemaVersion)}
	}
	return m.world.restoreAgents(ctx, chatID, snap)
}

// mergeChatStreams merges per-agent memory logs for one chat into a single
// ordered, deduplicated stream. Every agent holds a copy of each broadcast
// message, so entries sharing a messageId collapse to one canonical copy:
// the human-authored role=user entry for human messages, the author's
// role=assistant entry for agent messages. Tool exchanges (no messageId)
// pass through attached to their author.
func mergeChatStreams(streams [][]AgentMessage, chatID string) []AgentMessage {
	var merged []AgentMessage
	byID := make(map[string]int) // messageId → index in merged

	for _, stream := range streams {
		for _, msg := range stream {
			if msg.ChatID != chatID {
				continue
			}
			if msg.MessageID == "" {
				merged = append(merged, msg)
				continue
			}
			idx, seen := byID[msg.MessageID]
			if !seen {
				byID[msg.MessageID] = len(merged)
				merged = append(merged, msg)
				continue
			}
			if canonicalCopy(msg, merged[idx]) {
				merged[idx] = msg
			}
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})
	return merged
}

// canonicalCopy reports whether candidate is a better canonical entry than
// current for the same messageId.
func canonicalCopy(candidate, current AgentMessage) bool {
	// Human message: the role=user copy with a human sender wins over the
	// passive copies held in agent memories (same shape, so first wins).
	// Agent message: the author's assistant entry wins over passive user
	// copies in other agents' memories.
	if candidate.Role == RoleAssistant && candidate.AgentID != "" && current.Role != RoleAssistant {
		return true
	}
	return false
}

// agentChatView projects the merged stream into one agent's memory shape:
// entries the agent authored stay as-is, everything else becomes a passive
// user-role copy carrying the original sender.
func agentChatView(merged []AgentMessage, agentID string) []AgentMessage {
	var out []AgentMessage
	for _, msg := range merged {
		if msg.AgentID == agentID {
			out = append(out, msg)
			continue
		}
		sender := msg.Sender
		if sender == "" {
			sender = msg.AgentID
		}
		out = append(out, AgentMessage{
			Role:      RoleUser,
			Content:   msg.Content,
			Sender:    sender,
			MessageID: msg.MessageID,
			ChatID:    msg.ChatID,
			CreatedAt: msg.CreatedAt,
		})
	}
	return out
}
