package agentworld

import "context"

// StreamChunk is one incremental unit of a provider stream. Only text
// deltas are surfaced on the channel; tool calls accumulate inside the
// adapter (keyed by index/id across deltas) and arrive complete on the
// final ChatResponse.
type StreamChunk struct {
	Text string
}

// Provider abstracts a streaming LLM backend. Adapters are stateless
// between calls.
//
// ChatStream emits text deltas into ch and returns the assembled response:
// Content equals the concatenation of every emitted delta, ToolCalls carries
// any complete tool invocations, and Usage the token counts. The adapter
// closes ch when the stream ends, whether normally or with an error; no
// chunk follows the close.
type Provider interface {
	Name() string
	ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamChunk) (ChatResponse, error)
}

// ProviderResolver constructs a Provider for an LLMConfig. The provider set
// is closed (openai, anthropic, azure, ollama, google, xai, openrouter);
// unknown names fail with ErrValidation. provider/resolve supplies the
// standard implementation.
type ProviderResolver interface {
	Resolve(cfg LLMConfig) (Provider, error)
}

// ProviderResolverFunc adapts a function to the ProviderResolver interface.
type ProviderResolverFunc func(cfg LLMConfig) (Provider, error)

func (f ProviderResolverFunc) Resolve(cfg LLMConfig) (Provider, error) { return f(cfg) }
