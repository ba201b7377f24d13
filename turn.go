package agentworld

import (
	"strings"
	"sync"
)

// PassDirective is the control token a human can embed anywhere in a message
// to silence the agents until the next human message, exactly as if the turn
// limit had been reached.
const PassDirective = "<world>pass</world>"

// HasPassDirective reports whether content carries the pass directive.
func HasPassDirective(content string) bool {
	return strings.Contains(content, PassDirective)
}

// TurnController counts consecutive agent-authored message events per chat
// and gates further agent responses once the world's turn limit is reached.
// A human-authored or system message resets the counter. State is transient:
// it is rebuilt empty on world load.
type TurnController struct {
	mu    sync.Mutex
	limit int
	chats map[string]*turnState
}

type turnState struct {
	count  int
	passed bool
}

// NewTurnController creates a controller with the given per-chat limit.
// A non-positive limit falls back to DefaultTurnLimit.
func NewTurnController(limit int) *TurnController {
	if limit <= 0 {
		limit = DefaultTurnLimit
	}
	return &TurnController{limit: limit, chats: make(map[string]*turnState)}
}

// Limit returns the configured consecutive-turn budget.
func (c *TurnController) Limit() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limit
}

// SetLimit updates the budget (world config update).
func (c *TurnController) SetLimit(limit int) {
	if limit <= 0 {
		limit = DefaultTurnLimit
	}
	c.mu.Lock()
	c.limit = limit
	c.mu.Unlock()
}

// Observe records a published message event for its chat. Human and system
// messages reset the consecutive-agent counter; a human pass directive
// additionally blocks all agent responses until the next human message.
// Called synchronously on the publish path so that an agent reading the
// counter at the start of its turn has seen every message event published
// strictly before its turn began.
func (c *TurnController) Observe(ev MessageEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state(ev.ChatID)
	switch ClassifySender(ev.Sender) {
	case SenderAgent:
		st.count++
	default:
		st.count = 0
		st.passed = HasPassDirective(ev.Content)
	}
}

// Allowed reports whether another agent turn may begin in the chat.
func (c *TurnController) Allowed(chatID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state(chatID)
	return !st.passed && st.count < c.limit
}

// Count returns the current consecutive-agent-turn count for the chat.
func (c *TurnController) Count(chatID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state(chatID).count
}

// ResetChat clears the counter and pass flag for a chat. Called on chat
// switch: the stricter per-world-per-chat interpretation resets on both
// human input and chat change.
func (c *TurnController) ResetChat(chatID string) {
	c.mu.Lock()
	delete(c.chats, chatID)
	c.mu.Unlock()
}

func (c *TurnController) state(chatID string) *turnState {
	st, ok := c.chats[chatID]
	if !ok {
		st = &turnState{}
		c.chats[chatID] = st
	}
	return st
}
