package agentworld

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// World is a live conversation space: a loaded WorldConfig, its agents, its
// bus, and the controllers that gate agent behavior. Exactly one World
// instance exists per worldID per process; the Manager enforces that.
type World struct {
	storage   Storage
	bus       *Bus
	turns     *TurnController
	approvals *ApprovalEngine
	tools     *ToolRegistry
	resolver  ProviderResolver
	logger    *slog.Logger
	tracer    Tracer
	chats     *ChatManager

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	cfg    WorldConfig
	agents map[string]*Agent

	activeTurns atomic.Int32
	defaultLLM  LLMConfig
}

// --- WorldContext ---

// ID returns the world's identifier.
func (w *World) ID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg.ID
}

// Context is the world's lifetime context; destroy cancels it.
func (w *World) Context() context.Context { return w.ctx }

// Storage returns the world's persistence backend.
func (w *World) Storage() Storage { return w.storage }

// Turns returns the world's turn controller.
func (w *World) Turns() *TurnController { return w.turns }

// Approvals returns the world's tool approval engine.
func (w *World) Approvals() *ApprovalEngine { return w.approvals }

// Tools returns the world's tool registry.
func (w *World) Tools() *ToolRegistry { return w.tools }

// Chats returns the world's chat session manager.
func (w *World) Chats() *ChatManager { return w.chats }

// Bus returns the world's event bus for front-end subscriptions.
func (w *World) Bus() *Bus { return w.bus }

// Logger returns the world's logger.
func (w *World) Logger() *slog.Logger { return w.logger }

// Tracer returns the world's tracer, or nil when tracing is off.
func (w *World) Tracer() Tracer { return w.tracer }

// ActiveChatID returns the currently active chat id, "" if none.
func (w *World) ActiveChatID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg.ActiveChatID
}

// Config returns a snapshot of the world's configuration.
func (w *World) Config() WorldConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

// DefaultLLM merges process-level provider credentials with the world's
// provider/model overrides.
func (w *World) DefaultLLM() LLMConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	cfg := w.defaultLLM
	if w.cfg.Provider != "" {
		cfg.Provider = w.cfg.Provider
	}
	if w.cfg.Model != "" {
		cfg.Model = w.cfg.Model
	}
	return cfg
}

// ResolveProvider constructs a provider adapter for cfg.
func (w *World) ResolveProvider(cfg LLMConfig) (Provider, error) {
	if w.resolver == nil {
		return nil, &ErrProvider{Provider: cfg.Provider, Message: "no provider resolver configured"}
	}
	return w.resolver.Resolve(cfg)
}

// BeginTurn marks an agent turn in flight. Chat switching is rejected while
// the counter is non-zero. The returned func must be called when the turn
// ends, success or not.
func (w *World) BeginTurn() func() {
	w.activeTurns.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { w.activeTurns.Add(-1) })
	}
}

func (w *World) turnsInFlight() int {
	return int(w.activeTurns.Load())
}

// PublishMessage routes a message event: tool-result envelopes go to the
// approval engine and stop there; everything else is observed by the turn
// controller, auto-saved into its chat, and broadcast on the message topic.
// Auto-save and turn accounting happen synchronously before fan-out, so a
// subscriber reading controller state sees every earlier publish reflected.
func (w *World) PublishMessage(ev MessageEvent) {
	if env, ok := ParseToolResultEnvelope(ev.Content); ok {
		if !w.approvals.Resolve(env) {
			w.logger.Warn("stale tool result", "world", w.ID(), "tool_call_id", env.ToolCallID)
		}
		return
	}
	if ev.ChatID == "" {
		id, err := w.chats.ensureActive(w.ctx)
		if err != nil {
			w.logger.Error("activate chat", "world", w.ID(), "error", err)
			return
		}
		ev.ChatID = id
	}
	// Synthetic approval requests are UI traffic, not conversation: they
	// count toward neither the turn budget nor the chat message log.
	if !isApprovalRequest(ev) {
		w.turns.Observe(ev)
		w.chats.record(w.ctx, ev)
	}
	w.bus.PublishMessage(ev)
}

// PublishSSE broadcasts a streaming event.
func (w *World) PublishSSE(ev SSEEvent) { w.bus.PublishSSE(ev) }

// PublishSystem broadcasts a system event.
func (w *World) PublishSystem(ev SystemEvent) { w.bus.PublishSystem(ev) }

// SubscribeMessages registers a handler on the world's message topic.
func (w *World) SubscribeMessages(fn func(MessageEvent)) CancelFunc {
	return w.bus.SubscribeMessages(fn)
}

// --- inbound surface ---

// PostMessage publishes a human (or system) message into the world's active
// chat, stamping id and timestamp. The returned event is what was broadcast.
func (w *World) PostMessage(ctx context.Context, sender, content string) (MessageEvent, error) {
	if content == "" {
		return MessageEvent{}, &ErrValidation{Field: "content", Reason: "required"}
	}
	if sender == "" {
		sender = "HUMAN"
	}
	chatID, err := w.chats.ensureActive(ctx)
	if err != nil {
		return MessageEvent{}, err
	}
	ev := MessageEvent{
		Content:   content,
		Sender:    sender,
		MessageID: NewID(),
		ChatID:    chatID,
		CreatedAt: Now(),
	}
	w.PublishMessage(ev)
	return ev, nil
}

// --- world config ---

// setActiveChat persists a new active-chat pointer.
func (w *World) setActiveChat(ctx context.Context, chatID string) error {
	w.mu.Lock()
	prev := w.cfg.ActiveChatID
	w.cfg.ActiveChatID = chatID
	w.cfg.UpdatedAt = Now()
	cfg := w.cfg
	w.mu.Unlock()

	if err := w.storage.SaveWorld(ctx, cfg); err != nil {
		w.mu.Lock()
		w.cfg.ActiveChatID = prev
		w.mu.Unlock()
		return err
	}
	return nil
}

// UpdateConfig applies a mutation to the world's configuration and persists
// it. The id is immutable; a change to the turn limit takes effect on the
// next turn check.
func (w *World) UpdateConfig(ctx context.Context, fn func(*WorldConfig)) (WorldConfig, error) {
	w.mu.Lock()
	prev := w.cfg
	next := w.cfg
	fn(&next)
	next.ID = prev.ID
	next.CreatedAt = prev.CreatedAt
	next.UpdatedAt = Now()
	w.cfg = next
	w.mu.Unlock()

	if err := w.storage.SaveWorld(ctx, next); err != nil {
		w.mu.Lock()
		w.cfg = prev
		w.mu.Unlock()
		return WorldConfig{}, err
	}
	if next.TurnLimit != prev.TurnLimit {
		w.turns.SetLimit(next.TurnLimit)
	}
	return next, nil
}

// --- agents ---

// CreateAgent validates, persists, and activates a new agent. The id is
// derived from the name when absent. On storage failure nothing is left
// registered.
func (w *World) CreateAgent(ctx context.Context, cfg AgentConfig) (*Agent, error) {
	if cfg.Name == "" {
		return nil, &ErrValidation{Field: "name", Reason: "required"}
	}
	if cfg.ID == "" {
		cfg.ID = KebabCase(cfg.Name)
	}
	if !ValidIdent(cfg.ID) {
		return nil, &ErrValidation{Field: "id", Reason: fmt.Sprintf("%q is not a valid identifier", cfg.ID)}
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	cfg.CreatedAt = Now()

	w.mu.Lock()
	if _, exists := w.agents[cfg.ID]; exists {
		w.mu.Unlock()
		return nil, &ErrConflict{Kind: "agent", ID: cfg.ID, Reason: "already exists"}
	}
	agent := NewAgent(w, AgentRecord{Config: cfg})
	w.agents[cfg.ID] = agent
	w.mu.Unlock()

	if err := w.storage.SaveAgent(ctx, w.ID(), AgentRecord{Config: cfg}); err != nil {
		w.mu.Lock()
		delete(w.agents, cfg.ID)
		w.mu.Unlock()
		return nil, err
	}
	agent.Subscribe()
	return agent, nil
}

// Agent returns the live agent with the given id.
func (w *World) Agent(agentID string) (*Agent, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	a, ok := w.agents[agentID]
	return a, ok
}

// Agents returns the world's live agents, sorted by id.
func (w *World) Agents() []*Agent {
	w.mu.Lock()
	out := make([]*Agent, 0, len(w.agents))
	for _, a := range w.agents {
		out = append(out, a)
	}
	w.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// DeleteAgent unsubscribes and removes an agent and its files. On storage
// failure the agent is re-registered.
func (w *World) DeleteAgent(ctx context.Context, agentID string) error {
	w.mu.Lock()
	agent, ok := w.agents[agentID]
	if !ok {
		w.mu.Unlock()
		return &ErrNotFound{Kind: "agent", ID: agentID}
	}
	delete(w.agents, agentID)
	w.mu.Unlock()

	agent.Unsubscribe()
	if err := w.storage.DeleteAgent(ctx, w.ID(), agentID); err != nil {
		w.mu.Lock()
		w.agents[agentID] = agent
		w.mu.Unlock()
		agent.Subscribe()
		return err
	}
	return nil
}

// --- snapshot restore ---

// restoreAgents applies a WorldChat snapshot: upserts every agent it
// carries, removes agents it lacks, and replaces each survivor's memory for
// the snapshot's chat with its view of the merged stream. Writes are staged
// so an early failure leaves the live agent set untouched.
func (w *World) restoreAgents(ctx context.Context, chatID string, snap WorldChat) error {
	type staged struct {
		rec     AgentRecord
		entries []AgentMessage
	}
	var plan []staged
	inSnap := make(map[string]struct{}, len(snap.Agents))
	for _, cfg := range snap.Agents {
		inSnap[cfg.ID] = struct{}{}
		if prompt, ok := snap.Prompts[cfg.ID]; ok && prompt != "" {
			cfg.SystemPrompt = prompt
		}
		plan = append(plan, staged{
			rec:     AgentRecord{Config: cfg},
			entries: agentChatView(snap.Messages, cfg.ID),
		})
	}

	// Persist first. A failure here leaves the live world unchanged; files
	// already written are overwritten by the next restore attempt.
	for _, st := range plan {
		rec := st.rec
		if existing, ok, err := w.storage.LoadAgent(ctx, w.ID(), rec.Config.ID); err != nil {
			return err
		} else if ok {
			rec.Memory = existing.Memory
		}
		if err := w.storage.SaveAgent(ctx, w.ID(), rec); err != nil {
			return err
		}
	}

	// Swap the live set.
	w.mu.Lock()
	current := make(map[string]*Agent, len(w.agents))
	for id, a := range w.agents {
		current[id] = a
	}
	w.mu.Unlock()

	for id := range current {
		if _, keep := inSnap[id]; !keep {
			if err := w.DeleteAgent(ctx, id); err != nil {
				return err
			}
		}
	}

	for _, st := range plan {
		agent, ok := w.Agent(st.rec.Config.ID)
		if !ok {
			created, err := w.CreateAgent(ctx, st.rec.Config)
			if err != nil {
				return err
			}
			agent = created
		} else if err := agent.UpdateConfig(ctx, st.rec.Config); err != nil {
			return err
		}
		if err := agent.ReplaceChatMemory(ctx, chatID, st.entries); err != nil {
			return err
		}
	}

	if err := w.chats.Set(ctx, chatID); err != nil {
		return err
	}
	w.PublishSystem(SystemEvent{
		Category:  "restore",
		Content:   fmt.Sprintf("restored chat %s (%d agents, %d messages)", chatID, len(snap.Agents), len(snap.Messages)),
		ChatID:    chatID,
		Timestamp: Now(),
	})
	return nil
}

// close tears the world down: abandons in-flight streams, denies pending
// approvals, and detaches every agent.
func (w *World) close() {
	w.cancel()
	w.approvals.CancelAll()
	for _, a := range w.Agents() {
		a.Unsubscribe()
	}
}

// --- Manager ---

// Manager is the process-level world registry: one live World per id,
// created on demand, loaded from storage, destroyed on delete. It owns the
// bus registry and the shared tool/provider plumbing.
type Manager struct {
	storage    Storage
	buses      *BusRegistry
	resolver   ProviderResolver
	logger     *slog.Logger
	tracer     Tracer
	tools      *ToolRegistry
	defaultLLM LLMConfig

	mu     sync.Mutex
	worlds map[string]*World
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger shared by all worlds.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithTracer enables tracing of agent turns.
func WithTracer(t Tracer) ManagerOption {
	return func(m *Manager) { m.tracer = t }
}

// WithProviderResolver sets the provider factory.
func WithProviderResolver(r ProviderResolver) ManagerOption {
	return func(m *Manager) { m.resolver = r }
}

// WithDefaultLLM sets process-level provider defaults and credentials.
func WithDefaultLLM(cfg LLMConfig) ManagerOption {
	return func(m *Manager) { m.defaultLLM = cfg }
}

// WithToolRegistry sets the tool registry shared by all worlds.
func WithToolRegistry(r *ToolRegistry) ManagerOption {
	return func(m *Manager) {
		if r != nil {
			m.tools = r
		}
	}
}

// NewManager creates a manager over a storage backend.
func NewManager(storage Storage, opts ...ManagerOption) *Manager {
	m := &Manager{
		storage: storage,
		buses:   NewBusRegistry(),
		logger:  nopLogger,
		tools:   NewToolRegistry(),
		worlds:  make(map[string]*World),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateWorld makes a new world with an id kebab-cased from its name,
// persists the config, and returns the live instance. On storage failure
// nothing is registered.
func (m *Manager) CreateWorld(ctx context.Context, name, description string, turnLimit int) (*World, error) {
	if name == "" {
		return nil, &ErrValidation{Field: "name", Reason: "required"}
	}
	id := KebabCase(name)
	if !ValidIdent(id) {
		return nil, &ErrValidation{Field: "name", Reason: fmt.Sprintf("%q does not yield a valid identifier", name)}
	}
	if turnLimit <= 0 {
		turnLimit = DefaultTurnLimit
	}

	exists, err := m.storage.WorldExists(ctx, id)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &ErrConflict{Kind: "world", ID: id, Reason: "already exists"}
	}

	now := Now()
	cfg := WorldConfig{
		ID:          id,
		Name:        name,
		Description: description,
		TurnLimit:   turnLimit,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.storage.SaveWorld(ctx, cfg); err != nil {
		return nil, err
	}
	return m.activate(cfg, nil)
}

// GetWorld returns the live world for id, loading it (config, agents,
// memories) from storage on first access.
func (m *Manager) GetWorld(ctx context.Context, id string) (*World, error) {
	m.mu.Lock()
	if w, ok := m.worlds[id]; ok {
		m.mu.Unlock()
		return w, nil
	}
	m.mu.Unlock()

	cfg, ok, err := m.storage.LoadWorld(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &ErrNotFound{Kind: "world", ID: id}
	}

	agentCfgs, err := m.storage.ListAgents(ctx, id)
	if err != nil {
		return nil, err
	}
	records := make([]AgentRecord, 0, len(agentCfgs))
	for _, ac := range agentCfgs {
		rec, ok, err := m.storage.LoadAgent(ctx, id, ac.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	return m.activate(cfg, records)
}

// activate builds the live World and registers it, hydrating agents. A
// concurrent activation of the same id wins the race; the loser's instance
// is discarded.
func (m *Manager) activate(cfg WorldConfig, records []AgentRecord) (*World, error) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &World{
		storage:    m.storage,
		bus:        m.buses.Get(cfg.ID),
		turns:      NewTurnController(cfg.TurnLimit),
		tools:      m.tools,
		resolver:   m.resolver,
		logger:     m.logger.With("world", cfg.ID),
		tracer:     m.tracer,
		ctx:        ctx,
		cancel:     cancel,
		cfg:        cfg,
		agents:     make(map[string]*Agent),
		defaultLLM: m.defaultLLM,
	}
	w.chats = newChatManager(w)
	w.approvals = NewApprovalEngine(m.tools, w.PublishMessage, w.logger)

	m.mu.Lock()
	if existing, ok := m.worlds[cfg.ID]; ok {
		m.mu.Unlock()
		cancel()
		return existing, nil
	}
	m.worlds[cfg.ID] = w
	m.mu.Unlock()

	for _, rec := range records {
		agent := NewAgent(w, rec)
		w.mu.Lock()
		w.agents[rec.Config.ID] = agent
		w.mu.Unlock()
		agent.Subscribe()
	}
	return w, nil
}

// ListWorlds enumerates persisted world configs, sorted by id.
func (m *Manager) ListWorlds(ctx context.Context) ([]WorldConfig, error) {
	return m.storage.ListWorlds(ctx)
}

// DeleteWorld removes the world from storage, then tears down the live
// instance (cancelling in-flight turns and pending approvals, closing the
// bus). Storage goes first: a failed delete surfaces the error with the
// live world untouched.
func (m *Manager) DeleteWorld(ctx context.Context, id string) error {
	exists, err := m.storage.WorldExists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return &ErrNotFound{Kind: "world", ID: id}
	}

	if err := m.storage.DeleteWorld(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	w, ok := m.worlds[id]
	delete(m.worlds, id)
	m.mu.Unlock()
	if ok {
		w.close()
	}
	m.buses.Destroy(id)
	return nil
}

// Teardown closes every live world and bus. Used on process shutdown.
func (m *Manager) Teardown() {
	m.mu.Lock()
	worlds := m.worlds
	m.worlds = make(map[string]*World)
	m.mu.Unlock()
	for _, w := range worlds {
		w.close()
	}
	m.buses.Teardown()
}
