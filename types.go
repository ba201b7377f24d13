package agentworld

import (
	"encoding/json"
	"time"
)

// --- Domain records (persisted) ---

// WorldConfig is the persisted configuration of a world.
type WorldConfig struct {
	ID           string          `json:"id"`   // kebab-cased, unique process-wide
	Name         string          `json:"name"` // display name
	Description  string          `json:"description,omitempty"`
	TurnLimit    int             `json:"turnLimit"` // consecutive agent turns before idling (default 5)
	Provider     string          `json:"provider,omitempty"`
	Model        string          `json:"model,omitempty"`
	MCPConfig    json.RawMessage `json:"mcpConfig,omitempty"` // opaque MCP tool configuration
	ActiveChatID string          `json:"activeChatId,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// DefaultTurnLimit is the consecutive-agent-turn budget applied when a
// world's config does not set one.
const DefaultTurnLimit = 5

// AgentConfig is the persisted configuration of an agent. The system prompt
// is carried here in memory but stored as a separate text file on disk; see
// the Storage contract.
type AgentConfig struct {
	ID           string    `json:"id"`   // kebab-cased, unique within its world
	Name         string    `json:"name"` // display name
	Type         string    `json:"type,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	Model        string    `json:"model,omitempty"`
	Temperature  float64   `json:"temperature,omitempty"`
	MaxTokens    int       `json:"maxTokens,omitempty"`
	SystemPrompt string    `json:"-"` // persisted separately as system-prompt.md
	CreatedAt    time.Time `json:"createdAt"`
	LastActive   time.Time `json:"lastActive"`
	LLMCallCount int       `json:"llmCallCount"`
	// ChatMessageCounts tracks messages this agent authored per chat.
	ChatMessageCounts map[string]int `json:"chatMessageCounts,omitempty"`
}

// DefaultSystemPrompt substitutes for a missing system-prompt file. Reads
// never fail on an absent prompt.
const DefaultSystemPrompt = "You are a helpful assistant participating in a group conversation. Reply concisely and stay on topic."

// AgentMessage is one entry in an agent's memory: the per-chat ordered log
// of role-tagged messages used as LLM context.
type AgentMessage struct {
	Role             string     `json:"role"` // system, user, assistant, tool
	Content          string     `json:"content"`
	Sender           string     `json:"sender,omitempty"` // originating participant, for user/assistant entries
	MessageID        string     `json:"messageId,omitempty"`
	ReplyToMessageID string     `json:"replyToMessageId,omitempty"`
	ChatID           string     `json:"chatId,omitempty"`
	ToolCalls        []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID       string     `json:"toolCallId,omitempty"` // links a tool result to its call
	CreatedAt        time.Time  `json:"createdAt"`
	AgentID          string     `json:"agentId,omitempty"` // author, when authored by an agent
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Chat is the summary record of a conversation within a world.
type Chat struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
}

// ChatData is the persisted body of a chat: its summary, the ordered message
// log, and an optional captured snapshot.
type ChatData struct {
	Chat     Chat           `json:"chat"`
	Messages []AgentMessage `json:"messages"`
	Snapshot *WorldChat     `json:"snapshot,omitempty"`
}

// WorldChatSchemaVersion identifies the snapshot schema for forward
// compatibility checks on restore.
const WorldChatSchemaVersion = 1

// WorldChat is a serializable capture of a world, its agents (system prompts
// included), and the merged message stream for one chat. Used for restore
// and export. It holds no back-link to the live world.
type WorldChat struct {
	World    WorldConfig       `json:"world"`
	Agents   []AgentConfig     `json:"agents"`
	Prompts  map[string]string `json:"prompts,omitempty"` // agentID → system prompt
	Messages []AgentMessage    `json:"messages"`
	Metadata WorldChatMeta     `json:"metadata"`
}

// WorldChatMeta describes a snapshot.
type WorldChatMeta struct {
	CapturedAt    time.Time `json:"capturedAt"`
	SchemaVersion int       `json:"schemaVersion"`
	TotalMessages int       `json:"totalMessages"`
	ActiveAgents  int       `json:"activeAgents"`
}

// --- LLM protocol types ---

// ChatMessage is one message in an LLM conversation.
type ChatMessage struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"` // sender attribution for multi-party context
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a complete tool invocation surfaced by a provider.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ChatRequest is the input to a provider stream.
type ChatRequest struct {
	Messages    []ChatMessage    `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

// ChatResponse is the fully assembled result of a provider stream. Content
// equals the concatenation of all emitted text deltas.
type ChatResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// Usage tracks token consumption for one LLM call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolDefinition describes a tool to the LLM.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// LLMConfig selects and parameterizes a provider for one call. The provider
// set is closed; see provider/resolve.
type LLMConfig struct {
	Provider    string  `json:"provider"` // openai, anthropic, azure, ollama, google, xai, openrouter
	Model       string  `json:"model"`
	APIKey      string  `json:"apiKey,omitempty"`
	BaseURL     string  `json:"baseUrl,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	// Azure-specific endpoint shape.
	Deployment string `json:"deployment,omitempty"`
	APIVersion string `json:"apiVersion,omitempty"`
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: text}
}

func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: RoleTool, Content: content, ToolCallID: callID}
}
