package agentworld

import "fmt"

// ErrNotFound reports that an entity (world, agent, chat, message) does not
// exist. Never retried.
type ErrNotFound struct {
	Kind string // "world", "agent", "chat", "message"
	ID   string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// ErrConflict reports a duplicate create or a concurrent-edit collision.
type ErrConflict struct {
	Kind   string
	ID     string
	Reason string
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Kind, e.ID, e.Reason)
}

// ErrValidation reports malformed input, naming the offending field.
type ErrValidation struct {
	Field  string
	Reason string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ErrStorage reports a disk or database failure on the persistence path.
// Compound operations roll back in-memory state before surfacing it.
type ErrStorage struct {
	Op  string
	Err error
}

func (e *ErrStorage) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *ErrStorage) Unwrap() error { return e.Err }

// ErrProvider reports an LLM backend failure. Inside the agent loop it is
// converted to an sse error phase rather than propagated.
type ErrProvider struct {
	Provider string
	Message  string
}

func (e *ErrProvider) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP reports a non-2xx response from a provider endpoint.
type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ErrCancelled reports that a turn ended because its world was destroyed or
// its chat was switched. The turn ends quietly: no message event, no memory
// update, a single sse error phase carrying "cancelled".
type ErrCancelled struct {
	Reason string
}

func (e *ErrCancelled) Error() string {
	if e.Reason == "" {
		return "cancelled"
	}
	return "cancelled: " + e.Reason
}

// ErrInternal reports unexpected state, e.g. an event payload that violates
// its declared shape. Logged and surfaced; considered a bug.
type ErrInternal struct {
	Message string
}

func (e *ErrInternal) Error() string {
	return "internal: " + e.Message
}
