package agentworld

import "time"

// EventKind tags the event variants carried by a world's bus.
type EventKind string

const (
	KindMessage EventKind = "message"
	KindSSE     EventKind = "sse"
	KindSystem  EventKind = "system"
)

// Event is the closed set of bus event variants. Consumers switch on the
// concrete type; no field presence-testing.
type Event interface {
	Kind() EventKind
}

// MessageEvent is a completed conversation message: human input, a final
// agent response, or a tool-approval exchange (see the tool-result envelope
// in wire.go). Immutable once published.
type MessageEvent struct {
	Content          string
	Sender           string
	MessageID        string
	ChatID           string
	ReplyToMessageID string
	ToolCalls        []ToolCall
	CreatedAt        time.Time
}

func (MessageEvent) Kind() EventKind { return KindMessage }

// SSEPhase names a stage of an agent's in-flight LLM output.
type SSEPhase string

const (
	PhaseStart        SSEPhase = "start"
	PhaseChunk        SSEPhase = "chunk"
	PhaseEnd          SSEPhase = "end"
	PhaseError        SSEPhase = "error"
	PhaseToolStart    SSEPhase = "tool-start"
	PhaseToolProgress SSEPhase = "tool-progress"
	PhaseToolResult   SSEPhase = "tool-result"
	PhaseToolError    SSEPhase = "tool-error"
)

// SSEEvent is a streaming progress event for one agent turn. Chunk events
// carry the accumulated content so far; end carries the final content and
// usage. Immutable once published.
type SSEEvent struct {
	AgentName string
	Phase     SSEPhase
	MessageID string
	Content   string
	Error     string
	Usage     *Usage
}

func (SSEEvent) Kind() EventKind { return KindSSE }

// SystemEvent is an out-of-band notification (lifecycle, diagnostics).
type SystemEvent struct {
	Category  string
	Content   string
	ChatID    string
	Timestamp time.Time
}

func (SystemEvent) Kind() EventKind { return KindSystem }

// SenderKind classifies a message sender for the response filter and the
// turn controller.
type SenderKind int

const (
	SenderHuman SenderKind = iota
	SenderAgent
	SenderSystem
)

// ClassifySender maps a sender tag to its kind. The human front-ends publish
// as "HUMAN" or "USER"; an empty or "system"/"world" sender is a system
// message; everything else is an agent.
func ClassifySender(sender string) SenderKind {
	switch {
	case sender == "":
		return SenderSystem
	case equalFold(sender, "system"), equalFold(sender, "world"):
		return SenderSystem
	case equalFold(sender, "human"), equalFold(sender, "user"):
		return SenderHuman
	default:
		return SenderAgent
	}
}

// equalFold is an ASCII-only case-insensitive compare. Identifiers are
// kebab-cased ASCII, so full Unicode folding is unnecessary on this path.
func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
