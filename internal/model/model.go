// Package model holds the core data types shared across the conversation
// driver, execution engine, approval controller and state store.
package model

import "time"

// Classification is the static safety label carried by every ToolSpec.
type Classification string

const (
	ClassSafe      Classification = "safe"
	ClassDangerous Classification = "dangerous"
)

// ApprovalMode governs when a tool call suspends for a human decision.
type ApprovalMode string

const (
	ApprovalStrict ApprovalMode = "strict"
	ApprovalNormal ApprovalMode = "normal"
	ApprovalAuto   ApprovalMode = "auto"
)

// ToolResultStatus is the outcome recorded on a ToolResult turn.
type ToolResultStatus string

const (
	ResultOK               ToolResultStatus = "ok"
	ResultError            ToolResultStatus = "error"
	ResultApprovalRequired ToolResultStatus = "approval_required"
)

// PendingStatus is the state of a PendingExecution.
type PendingStatus string

const (
	PendingPending  PendingStatus = "pending"
	PendingApproved PendingStatus = "approved"
	PendingRejected PendingStatus = "rejected"
	PendingExpired  PendingStatus = "expired"
)

// AuditStatus is the terminal status recorded on an AuditRecord.
type AuditStatus string

const (
	AuditSuccess  AuditStatus = "success"
	AuditError    AuditStatus = "error"
	AuditRejected AuditStatus = "rejected"
	AuditExpired  AuditStatus = "expired"
)

// TurnKind discriminates the three Turn variants.
type TurnKind string

const (
	TurnUser       TurnKind = "user"
	TurnAssistant  TurnKind = "assistant"
	TurnToolResult TurnKind = "tool_result"
)

// ToolCall is a structured invocation request emitted by the LLM.
type ToolCall struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

// ToolResult is the outcome of a single ToolCall, correlated by CallID.
type ToolResult struct {
	CallID          string           `json:"call_id"`
	Status          ToolResultStatus `json:"status"`
	Payload         any              `json:"payload,omitempty"`
	ValidationNotes []string         `json:"validation_notes,omitempty"`
	ExecutionID     string           `json:"execution_id,omitempty"`
	Reason          string           `json:"reason,omitempty"`
}

// Turn is one append-only entry in a Conversation's log.
type Turn struct {
	Kind       TurnKind    `json:"kind"`
	Text       string      `json:"text,omitempty"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Conversation is the ordered Turn sequence for one identifier.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationSummary is the listing projection: id, title, message count,
// most-recent-update timestamp.
type ConversationSummary struct {
	ID            string    `json:"conversation_id"`
	Title         string    `json:"title"`
	MessageCount  int       `json:"message_count"`
	LastUpdatedAt time.Time `json:"last_updated"`
}

// PendingExecution is a uniquely identified suspended tool call awaiting a
// human decision. TTL is 1 hour from CreatedAt.
type PendingExecution struct {
	ID             string         `json:"execution_id"`
	ConversationID string         `json:"conversation_id"`
	CallID         string         `json:"call_id"`
	ToolName       string         `json:"tool_name"`
	Parameters     map[string]any `json:"parameters"`
	Classification Classification `json:"classification"`
	CreatedAt      time.Time      `json:"created_at"`
	Status         PendingStatus  `json:"status"`
}

// Expired reports whether the pending execution's 1-hour TTL has elapsed
// as of now.
func (p *PendingExecution) Expired(now time.Time) bool {
	return p.Status == PendingPending && now.Sub(p.CreatedAt) > time.Hour
}

// AuditRecord is an immutable, write-once record of a completed or
// rejected execution. Retention: 30 days.
type AuditRecord struct {
	ExecutionID    string         `json:"execution_id"`
	ConversationID string         `json:"conversation_id"`
	ToolName       string         `json:"tool_name"`
	Parameters     map[string]any `json:"parameters"`
	Approver       string         `json:"approver,omitempty"`
	Status         AuditStatus    `json:"status"`
	RequestedAt    time.Time      `json:"requested_at"`
	DecidedAt      *time.Time     `json:"decided_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	ResultSize     int            `json:"result_size"`
	ResultPreview  string         `json:"result_preview"`
}

// ToolSpec is the static declaration of one callable operation.
type ToolSpec struct {
	Name           string
	Description    string
	Classification Classification
	Schema         ParamSchema
}

// ParamSchema is a minimal JSON-schema-shaped parameter description,
// enough to drive both validation and the schema the LLM is shown.
type ParamSchema struct {
	Required []string
	Fields   map[string]FieldSchema
}

// FieldSchema describes one parameter field.
type FieldSchema struct {
	Type    string // "string", "int", "bool"
	Enum    []string
	Min     *float64
	Max     *float64
	Default any
}
