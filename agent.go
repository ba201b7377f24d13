package agentworld

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

// memoryWindow is the number of recent memory entries (per chat) included
// in an agent's prompt. Older entries stay in memory but are omitted from
// context.
const memoryWindow = 10

// maxToolRounds bounds the stream→tool→stream loop within one turn.
const maxToolRounds = 8

// WorldContext is the handle an agent uses to reach its world. The world
// outlives its agents; agents hold this interface instead of a concrete
// world reference.
type WorldContext interface {
	ID() string
	// Context is the world's lifetime context; it is cancelled on destroy,
	// abandoning in-flight streams.
	Context() context.Context
	PublishMessage(MessageEvent)
	PublishSSE(SSEEvent)
	SubscribeMessages(fn func(MessageEvent)) CancelFunc
	Storage() Storage
	Turns() *TurnController
	Approvals() *ApprovalEngine
	Tools() *ToolRegistry
	ActiveChatID() string
	// DefaultLLM supplies world-level provider defaults and credentials;
	// agent config overrides provider, model, temperature, and max tokens.
	DefaultLLM() LLMConfig
	ResolveProvider(cfg LLMConfig) (Provider, error)
	// BeginTurn marks an agent turn in flight (blocks chat switching) and
	// returns the matching end function.
	BeginTurn() func()
	Logger() *slog.Logger
	Tracer() Tracer
}

// Agent is the runtime for one LLM-backed participant. It subscribes to its
// world's message topic, decides whether to respond via the mention filter
// and the turn controller, assembles context from its memory, streams the
// LLM, and writes both sides of the exchange back to memory.
//
// Every delivered message lands in memory even when the agent stays silent
// (passive memory), so agents retain full conversation context.
type Agent struct {
	world WorldContext

	mu     sync.Mutex
	cfg    AgentConfig
	memory []AgentMessage
	cancel CancelFunc

	// persistMu makes mutate-snapshot-save a single unit: saves reach
	// storage in mutation order, never a stale snapshot after a newer one.
	// Always acquired before mu.
	persistMu sync.Mutex
}

// NewAgent creates an agent runtime over a loaded record. Call Subscribe to
// attach it to the world's message topic.
func NewAgent(world WorldContext, rec AgentRecord) *Agent {
	if rec.Config.SystemPrompt == "" {
		rec.Config.SystemPrompt = DefaultSystemPrompt
	}
	if rec.Config.ChatMessageCounts == nil {
		rec.Config.ChatMessageCounts = make(map[string]int)
	}
	return &Agent{world: world, cfg: rec.Config, memory: rec.Memory}
}

// ID returns the agent's identifier.
func (a *Agent) ID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.ID
}

// Config returns a snapshot of the agent's configuration.
func (a *Agent) Config() AgentConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	cfg := a.cfg
	cfg.ChatMessageCounts = make(map[string]int, len(a.cfg.ChatMessageCounts))
	for k, v := range a.cfg.ChatMessageCounts {
		cfg.ChatMessageCounts[k] = v
	}
	return cfg
}

// Memory returns a copy of the agent's memory log.
func (a *Agent) Memory() []AgentMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AgentMessage, len(a.memory))
	copy(out, a.memory)
	return out
}

// Subscribe attaches the agent to its world's message topic. Idempotent.
func (a *Agent) Subscribe() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return
	}
	a.cancel = a.world.SubscribeMessages(a.handleMessage)
}

// Unsubscribe detaches the agent from the bus. Idempotent.
func (a *Agent) Unsubscribe() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// UpdateConfig applies admin changes to the agent and persists them. The
// system prompt is replaced only when newCfg carries one.
func (a *Agent) UpdateConfig(ctx context.Context, newCfg AgentConfig) error {
	a.persistMu.Lock()
	defer a.persistMu.Unlock()
	a.mu.Lock()
	if newCfg.Name != "" {
		a.cfg.Name = newCfg.Name
	}
	if newCfg.Type != "" {
		a.cfg.Type = newCfg.Type
	}
	if newCfg.Provider != "" {
		a.cfg.Provider = newCfg.Provider
	}
	if newCfg.Model != "" {
		a.cfg.Model = newCfg.Model
	}
	if newCfg.Temperature != 0 {
		a.cfg.Temperature = newCfg.Temperature
	}
	if newCfg.MaxTokens != 0 {
		a.cfg.MaxTokens = newCfg.MaxTokens
	}
	if newCfg.SystemPrompt != "" {
		a.cfg.SystemPrompt = newCfg.SystemPrompt
	}
	rec := AgentRecord{Config: a.cfg, Memory: a.memory}
	a.mu.Unlock()
	return a.world.Storage().SaveAgent(ctx, a.world.ID(), rec)
}

// ClearMemory truncates the memory log and resets per-chat message counts,
// keeping the agent's configuration.
func (a *Agent) ClearMemory(ctx context.Context) error {
	a.persistMu.Lock()
	defer a.persistMu.Unlock()
	a.mu.Lock()
	a.memory = nil
	a.cfg.ChatMessageCounts = make(map[string]int)
	rec := AgentRecord{Config: a.cfg}
	a.mu.Unlock()
	return a.world.Storage().SaveAgent(ctx, a.world.ID(), rec)
}

// ReplaceChatMemory swaps the agent's memory entries for one chat with the
// given entries, leaving other chats untouched. Used by snapshot restore.
func (a *Agent) ReplaceChatMemory(ctx context.Context, chatID string, entries []AgentMessage) error {
	a.persistMu.Lock()
	defer a.persistMu.Unlock()
	a.mu.Lock()
	kept := a.memory[:0:0]
	for _, m := range a.memory {
		if m.ChatID != chatID {
			kept = append(kept, m)
		}
	}
	a.memory = append(kept, entries...)
	mem := make([]AgentMessage, len(a.memory))
	copy(mem, a.memory)
	a.mu.Unlock()
	return a.world.Storage().SaveAgentMemory(ctx, a.world.ID(), a.ID(), mem)
}

// --- message handling ---

func (a *Agent) handleMessage(ev MessageEvent) {
	// Approval traffic is not conversation: envelopes belong to the
	// approval engine, and synthetic approval requests are UI-only.
	if _, ok := ParseToolResultEnvelope(ev.Content); ok {
		return
	}
	if isApprovalRequest(ev) {
		return
	}

	a.mu.Lock()
	identity := AgentIdentity{ID: a.cfg.ID, Name: a.cfg.Name}
	a.mu.Unlock()

	if identity.matches(ev.Sender) {
		// Own emission echoed back; persisted at emit time.
		return
	}

	chatID := ev.ChatID
	if chatID == "" {
		chatID = a.world.ActiveChatID()
	}

	respond := ShouldRespond(identity, ev)
	if respond && !a.world.Turns().Allowed(chatID) {
		respond = false
	}
	if !respond {
		a.rememberIncoming(ev, chatID)
		return
	}
	a.takeTurn(ev, chatID)
}

// rememberIncoming appends a message to memory without responding. Entries
// are deduplicated by messageId so replays land exactly once.
func (a *Agent) rememberIncoming(ev MessageEvent, chatID string) {
	a.persistMu.Lock()
	defer a.persistMu.Unlock()
	a.mu.Lock()
	if !a.appendIncomingLocked(ev, chatID) {
		a.mu.Unlock()
		return
	}
	mem := make([]AgentMessage, len(a.memory))
	copy(mem, a.memory)
	id := a.cfg.ID
	a.mu.Unlock()

	if err := a.world.Storage().SaveAgentMemory(a.world.Context(), a.world.ID(), id, mem); err != nil {
		a.world.Logger().Error("save memory", "world", a.world.ID(), "agent", id, "error", err)
	}
}

// appendIncomingLocked records an inbound message as a user-role entry with
// the original sender. Returns false when the messageId is already present.
func (a *Agent) appendIncomingLocked(ev MessageEvent, chatID string) bool {
	if ev.MessageID != "" {
		for i := len(a.memory) - 1; i >= 0; i-- {
			if a.memory[i].MessageID == ev.MessageID {
				return false
			}
		}
	}
	a.memory = append(a.memory, AgentMessage{
		Role:      RoleUser,
		Content:   ev.Content,
		Sender:    ev.Sender,
		MessageID: ev.MessageID,
		ChatID:    chatID,
		CreatedAt: ev.CreatedAt,
	})
	return true
}

// takeTurn runs one full response: context assembly, LLM streaming, tool
// dispatch through the approval engine, response emission, and memory
// write-back. Errors never escape; they become sse error phases.
func (a *Agent) takeTurn(ev MessageEvent, chatID string) {
	ctx := a.world.Context()
	endTurn := a.world.BeginTurn()
	defer endTurn()

	logger := a.world.Logger()
	messageID := NewID()

	if tr := a.world.Tracer(); tr != nil {
		var span Span
		ctx, span = tr.Start(ctx, "agent.turn",
			StringAttr("world", a.world.ID()),
			StringAttr("agent", a.ID()),
			StringAttr("chat", chatID))
		defer span.End()
	}

	a.mu.Lock()
	a.cfg.LLMCallCount++
	agentName := a.cfg.Name
	llmCfg := a.llmConfigLocked()
	prompt := a.buildPromptLocked(ev, chatID)
	a.mu.Unlock()

	a.world.PublishSSE(SSEEvent{AgentName: agentName, Phase: PhaseStart, MessageID: messageID})

	provider, err := a.world.ResolveProvider(llmCfg)
	if err != nil {
		logger.Error("resolve provider", "agent", a.ID(), "error", err)
		a.world.PublishSSE(SSEEvent{AgentName: agentName, Phase: PhaseError, MessageID: messageID, Error: err.Error()})
		a.rememberIncoming(ev, chatID)
		return
	}

	final, usage, turnEntries, err := a.runTurnLoop(ctx, provider, llmCfg, prompt, agentName, messageID, chatID)
	if err != nil {
		if cancelled(ctx, err) {
			// Abandoned stream: no message event, no memory update.
			a.world.PublishSSE(SSEEvent{AgentName: agentName, Phase: PhaseError, MessageID: messageID, Error: "cancelled"})
			return
		}
		logger.Error("llm stream", "agent", a.ID(), "provider", provider.Name(), "error", err)
		a.world.PublishSSE(SSEEvent{AgentName: agentName, Phase: PhaseError, MessageID: messageID, Error: err.Error()})
		a.rememberIncoming(ev, chatID)
		return
	}

	a.world.PublishSSE(SSEEvent{AgentName: agentName, Phase: PhaseEnd, MessageID: messageID, Content: final, Usage: &usage})

	out := MessageEvent{
		Content:          final,
		Sender:           a.ID(),
		MessageID:        messageID,
		ChatID:           chatID,
		ReplyToMessageID: ev.MessageID,
		CreatedAt:        Now(),
	}
	a.world.PublishMessage(out)
	a.persistTurn(ev, out, turnEntries, chatID)
}

// runTurnLoop streams the LLM, routing any surfaced tool calls through the
// approval engine, until the model answers with plain text or the round
// budget runs out. It returns the final text, aggregate usage, and the
// tool-exchange memory entries accumulated along the way.
func (a *Agent) runTurnLoop(ctx context.Context, provider Provider, llm LLMConfig, messages []ChatMessage, agentName, messageID, chatID string) (string, Usage, []AgentMessage, error) {
	var total Usage
	var entries []AgentMessage
	var acc strings.Builder
	tools := a.world.Tools().AllDefinitions()

	req := ChatRequest{Tools: tools, Temperature: llm.Temperature, MaxTokens: llm.MaxTokens}

	for round := 0; round < maxToolRounds; round++ {
		req.Messages = messages

		resp, err := a.stream(ctx, provider, req, agentName, messageID, &acc)
		total.InputTokens += resp.Usage.InputTokens
		total.OutputTokens += resp.Usage.OutputTokens
		if err != nil {
			return "", total, nil, err
		}

		if len(resp.ToolCalls) == 0 {
			final := acc.String()
			if final == "" {
				final = resp.Content
			}
			return final, total, entries, nil
		}

		messages = append(messages, ChatMessage{Role: RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
		entries = append(entries, AgentMessage{
			Role:      RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
			ChatID:    chatID,
			AgentID:   a.ID(),
			CreatedAt: Now(),
		})

		for _, tc := range resp.ToolCalls {
			a.world.PublishSSE(SSEEvent{AgentName: agentName, Phase: PhaseToolStart, MessageID: messageID, Content: tc.Name})
			result, err := a.world.Approvals().Execute(ctx, chatID, a.ID(), tc)
			if err != nil {
				return "", total, nil, err
			}
			content := result.Content
			phase := PhaseToolResult
			if result.Error != "" {
				content = "error: " + result.Error
				phase = PhaseToolError
			}
			a.world.PublishSSE(SSEEvent{AgentName: agentName, Phase: phase, MessageID: messageID, Content: content})
			messages = append(messages, ToolResultMessage(tc.ID, content))
			entries = append(entries, AgentMessage{
				Role:       RoleTool,
				Content:    content,
				ToolCallID: tc.ID,
				ChatID:     chatID,
				AgentID:    a.ID(),
				CreatedAt:  Now(),
			})
		}
	}

	// Round budget exhausted: force a final synthesis without tools.
	a.world.Logger().Warn("tool round budget exhausted, forcing synthesis", "agent", a.ID(), "rounds", maxToolRounds)
	messages = append(messages, UserMessage("You have used all available tool calls. Summarize what you found and respond."))
	req.Messages = messages
	req.Tools = nil
	resp, err := a.stream(ctx, provider, req, agentName, messageID, &acc)
	total.InputTokens += resp.Usage.InputTokens
	total.OutputTokens += resp.Usage.OutputTokens
	if err != nil {
		return "", total, nil, err
	}
	final := acc.String()
	if final == "" {
		final = resp.Content
	}
	return final, total, entries, nil
}

// stream runs one provider call, forwarding text deltas as sse chunk events
// carrying the content accumulated so far.
func (a *Agent) stream(ctx context.Context, provider Provider, req ChatRequest, agentName, messageID string, acc *strings.Builder) (ChatResponse, error) {
	ch := make(chan StreamChunk, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for chunk := range ch {
			acc.WriteString(chunk.Text)
			a.world.PublishSSE(SSEEvent{AgentName: agentName, Phase: PhaseChunk, MessageID: messageID, Content: acc.String()})
		}
	}()
	resp, err := provider.ChatStream(ctx, req, ch)
	<-done
	return resp, err
}

// buildPromptLocked assembles the LLM message list: system prompt, the last
// memoryWindow entries for the chat, then the incoming message.
func (a *Agent) buildPromptLocked(ev MessageEvent, chatID string) []ChatMessage {
	prompt := a.cfg.SystemPrompt
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	messages := []ChatMessage{SystemMessage(prompt)}

	var recent []AgentMessage
	for _, m := range a.memory {
		if m.ChatID == chatID {
			recent = append(recent, m)
		}
	}
	if len(recent) > memoryWindow {
		recent = recent[len(recent)-memoryWindow:]
	}
	for _, m := range recent {
		messages = append(messages, ChatMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Sender,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		})
	}

	messages = append(messages, ChatMessage{Role: RoleUser, Content: ev.Content, Name: ev.Sender})
	return messages
}

// llmConfigLocked merges world defaults with agent overrides.
func (a *Agent) llmConfigLocked() LLMConfig {
	cfg := a.world.DefaultLLM()
	if a.cfg.Provider != "" {
		cfg.Provider = a.cfg.Provider
	}
	if a.cfg.Model != "" {
		cfg.Model = a.cfg.Model
	}
	if a.cfg.Temperature != 0 {
		cfg.Temperature = a.cfg.Temperature
	}
	if a.cfg.MaxTokens != 0 {
		cfg.MaxTokens = a.cfg.MaxTokens
	}
	return cfg
}

// persistTurn writes the full exchange to memory: the incoming message (if
// not already recorded), any tool exchanges, and the outbound response.
// Updates lastActive and the per-chat message count.
func (a *Agent) persistTurn(in, out MessageEvent, turnEntries []AgentMessage, chatID string) {
	a.persistMu.Lock()
	defer a.persistMu.Unlock()
	a.mu.Lock()
	a.appendIncomingLocked(in, chatID)
	a.memory = append(a.memory, turnEntries...)
	a.memory = append(a.memory, AgentMessage{
		Role:             RoleAssistant,
		Content:          out.Content,
		Sender:           a.cfg.ID,
		MessageID:        out.MessageID,
		ReplyToMessageID: out.ReplyToMessageID,
		ChatID:           chatID,
		AgentID:          a.cfg.ID,
		CreatedAt:        out.CreatedAt,
	})
	a.cfg.LastActive = out.CreatedAt
	a.cfg.ChatMessageCounts[chatID]++
	rec := AgentRecord{Config: a.cfg, Memory: a.memory}
	a.mu.Unlock()

	if err := a.world.Storage().SaveAgent(a.world.Context(), a.world.ID(), rec); err != nil {
		a.world.Logger().Error("persist turn", "world", a.world.ID(), "agent", a.ID(), "error", err)
	}
}

// isApprovalRequest reports whether a message event carries the synthetic
// client.requestApproval tool call.
func isApprovalRequest(ev MessageEvent) bool {
	for _, tc := range ev.ToolCalls {
		if tc.Name == ApprovalRequestTool {
			return true
		}
	}
	return false
}

// cancelled reports whether err (or the context) represents an abandoned
// turn rather than a provider failure.
func cancelled(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	var ec *ErrCancelled
	if errors.As(err, &ec) {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
