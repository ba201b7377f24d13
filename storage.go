package agentworld

import "context"

// AgentRecord bundles everything persisted for one agent. On disk the
// backend splits it three ways: config.json (prompt stripped),
// system-prompt.md, and memory.json.
type AgentRecord struct {
	Config AgentConfig
	Memory []AgentMessage
}

// Storage is the durable persistence contract for worlds, agents, and
// chats. All writes are atomic at the per-file (or per-row) level. Reads of
// non-existent entities return the zero value with ok=false — absence is
// not an error. Listing is deterministic: agents sorted by name, chats by
// updatedAt descending, worlds by id.
//
// Backends: store/file (reference layout, default), store/memory (test
// harness), store/sqlite, store/postgres.
type Storage interface {
	// --- Worlds ---
	SaveWorld(ctx context.Context, cfg WorldConfig) error
	LoadWorld(ctx context.Context, worldID string) (WorldConfig, bool, error)
	DeleteWorld(ctx context.Context, worldID string) error
	ListWorlds(ctx context.Context) ([]WorldConfig, error)
	WorldExists(ctx context.Context, worldID string) (bool, error)

	// --- Agents ---
	SaveAgent(ctx context.Context, worldID string, rec AgentRecord) error
	LoadAgent(ctx context.Context, worldID, agentID string) (AgentRecord, bool, error)
	DeleteAgent(ctx context.Context, worldID, agentID string) error
	ListAgents(ctx context.Context, worldID string) ([]AgentConfig, error)
	// SaveAgentMemory is the hot path: it rewrites only the memory log.
	SaveAgentMemory(ctx context.Context, worldID, agentID string, memory []AgentMessage) error

	// --- Chats ---
	SaveChatData(ctx context.Context, worldID string, data ChatData) error
	LoadChatData(ctx context.Context, worldID, chatID string) (ChatData, bool, error)
	DeleteChatData(ctx context.Context, worldID, chatID string) error
	ListChats(ctx context.Context, worldID string) ([]Chat, error)
	// UpdateChatData loads, applies fn, and saves under the backend's
	// per-chat serialization, so concurrent appenders do not lose updates.
	UpdateChatData(ctx context.Context, worldID, chatID string, fn func(*ChatData)) (ChatData, error)

	// --- Snapshots ---
	SaveWorldChat(ctx context.Context, worldID, chatID string, snap WorldChat) error
	LoadWorldChat(ctx context.Context, worldID, chatID string) (WorldChat, bool, error)
}

// MaintenanceStorage is an optional backend capability for integrity
// checking and memory archival. The file backend implements it.
type MaintenanceStorage interface {
	// Validate reports integrity problems under worldID (unreadable or
	// malformed files). Repair quarantines what it cannot parse.
	Validate(ctx context.Context, worldID string) ([]string, error)
	Repair(ctx context.Context, worldID string) error
	// ArchiveMemory moves an agent's memory log aside and truncates it.
	ArchiveMemory(ctx context.Context, worldID, agentID string) error
}
