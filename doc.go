// Package agentworld is a multi-agent conversation runtime. A World is an
// isolated container hosting LLM-backed agents and chat sessions; an event
// bus routes messages between a human participant and the agents, which
// respond selectively under mention rules, stream their LLM output, and
// persist per-agent memory.
//
// The root package holds the runtime core: the per-world event bus, the
// mention-based response filter, the agent loop, the turn controller, the
// tool-call approval engine, the chat session manager, and the world
// lifecycle manager. Storage backends live under store/, LLM providers
// under provider/, and builtin tools under tools/.
package agentworld
