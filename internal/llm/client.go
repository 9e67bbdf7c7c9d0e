// Package llm declares the provider-agnostic streaming contract the
// Conversation Driver uses to talk to a language model (spec.md §4.1).
// Grounded on the teacher's internal/llm/types package and its
// per-provider tool_loop.go files, narrowed to a single-turn streaming
// call: the teacher's providers run the whole agentic loop themselves,
// but spec.md requires the Driver to own looping so it can suspend
// between turns for human approval (§4.6) — so Client.Stream here
// returns after one assistant turn instead of looping internally.
package llm

import (
	"context"

	"github.com/loomctl/loom-agent/internal/model"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in the request transcript sent to the provider.
type Message struct {
	Role       Role
	Content    string
	ToolCallID string // set on RoleTool messages, correlating to a prior tool_use id
	ToolCalls  []model.ToolCall
}

// Tool is the provider-facing shape of one catalog.ToolSpec.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema, built from model.ParamSchema
}

// Request is one single-turn completion request.
type Request struct {
	System   string
	Messages []Message
	Tools    []Tool
	// Model overrides the Client's configured default model for this
	// request only, matching spec.md §4.1's per-request model_hint. Empty
	// means "use the Client's configured default."
	Model string
}

// EventKind discriminates the Event union streamed back from a provider.
type EventKind string

const (
	EventTextToken EventKind = "text_token"
	EventToolCall  EventKind = "tool_call"
	EventDone      EventKind = "done"
	EventError     EventKind = "error"
)

// Event is one unit of a streamed provider turn.
type Event struct {
	Kind     EventKind
	Text     string
	ToolCall model.ToolCall
	Err      error
}

// Client is the provider-agnostic single-turn streaming contract.
// Implementations own authentication, wire format, and SSE/chunk
// parsing; the Driver owns turn-taking and the tool-call loop.
type Client interface {
	// Stream sends req and returns a channel of Events for exactly one
	// assistant turn. The channel is closed after an EventDone or
	// EventError event.
	Stream(ctx context.Context, req Request) (<-chan Event, error)

	// SupportedModels lists the model identifiers this Client will accept
	// in Request.Model. The Driver validates a caller-supplied model_hint
	// against this list before entering the loop, surfacing an unknown
	// identifier as apierr.BadModel (spec.md §6).
	SupportedModels() []string
}
