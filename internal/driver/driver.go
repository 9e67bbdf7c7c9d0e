// Package driver implements the Conversation Driver (spec.md §4.1): the
// loop that composes a request from conversation history, invokes the
// LLM, dispatches zero-or-more tool calls through the Execution Engine,
// and feeds results back for another turn — bounded by a 16-turn cap and
// an overall 300s deadline, with the ability to suspend mid-loop for
// human approval and resume later. Grounded on the teacher's
// internal/reasoning/engine/engine_impl.go investigation loop: the
// Subscriber/publish fan-out for live events is kept close to that
// file's shape; the loop body is replaced with spec.md's simpler
// one-tool-catalog chat loop plus approval-aware suspension, which the
// teacher's CompleteWithTools (internal/llm/provider/*/tool_loop.go)
// never needed because it had no human-in-the-loop gate.
package driver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/loomctl/loom-agent/internal/approval"
	"github.com/loomctl/loom-agent/internal/apierr"
	"github.com/loomctl/loom-agent/internal/catalog"
	"github.com/loomctl/loom-agent/internal/engine"
	"github.com/loomctl/loom-agent/internal/llm"
	"github.com/loomctl/loom-agent/internal/metrics"
	"github.com/loomctl/loom-agent/internal/model"
	"github.com/loomctl/loom-agent/internal/store"
)

// MaxTurns and OverallTimeout implement spec.md §4.1's loop bounds.
const (
	MaxTurns       = 16
	OverallTimeout = 300 * time.Second
)

// Event is one unit published to a Subscriber while a Driver loop runs.
type Event struct {
	ConversationID string
	Turn           *model.Turn
	TextToken      string
	Err            error
	Done           bool
}

// Subscriber receives live Events for conversations it is registered
// against, grounded on the teacher's engineImpl.Subscribe/publish
// fan-out used to stream investigation progress to the frontend.
type Subscriber struct {
	Ch chan Event
}

// Driver runs the Conversation Driver loop over an llm.Client, an
// engine.Engine, and the durable Store.
type Driver struct {
	llm       llm.Client
	eng       *engine.Engine
	store     store.Store
	approvals *approval.Controller

	subsMu      sync.Mutex
	subscribers map[string][]*Subscriber
}

// New constructs a Driver.
func New(client llm.Client, eng *engine.Engine, s store.Store, approvals *approval.Controller) *Driver {
	return &Driver{llm: client, eng: eng, store: s, approvals: approvals, subscribers: make(map[string][]*Subscriber)}
}

// Subscribe registers ch to receive live events for conversationID.
func (d *Driver) Subscribe(conversationID string) *Subscriber {
	sub := &Subscriber{Ch: make(chan Event, 64)}
	d.subsMu.Lock()
	d.subscribers[conversationID] = append(d.subscribers[conversationID], sub)
	d.subsMu.Unlock()
	return sub
}

func (d *Driver) publish(conversationID string, ev Event) {
	d.subsMu.Lock()
	subs := d.subscribers[conversationID]
	d.subsMu.Unlock()
	for _, s := range subs {
		select {
		case s.Ch <- ev:
		default:
		}
	}
}

// Send appends a user turn to conversationID and drives the loop to
// completion, suspension (awaiting approval), or the turn/time bound.
// modelHint, if non-empty, overrides the LLM client's configured default
// model for every turn of this call (spec.md §4.1); an identifier the
// client doesn't recognize surfaces as apierr.BadModel before anything
// is appended to the conversation. It returns once the loop halts; live
// progress is available via Subscribe.
func (d *Driver) Send(ctx context.Context, conversationID, text string, mode model.ApprovalMode, modelHint string) error {
	if modelHint != "" && !supportsModel(d.llm, modelHint) {
		return apierr.BadModel(modelHint)
	}
	err := d.store.WithConversationLock(ctx, conversationID, func() error {
		if err := d.store.AppendTurn(ctx, conversationID, model.Turn{
			Kind: model.TurnUser, Text: text, Timestamp: time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("driver: append user turn: %w", err)
		}
		return d.runLoop(ctx, conversationID, mode, modelHint)
	})
	if err != nil {
		if apiErr, ok := apierr.As(err); ok && apiErr.Kind == apierr.KindConversationBusy {
			metrics.ConversationBusyTotal.Inc()
		}
		d.publish(conversationID, Event{ConversationID: conversationID, Err: err})
	}
	return err
}

// ResumeAfterDecision re-enters the loop after a PendingExecution tied
// to conversationID has been approved or rejected, matching spec.md
// §4.6's "re-entry for resumption". The caller (typically the Approval
// Controller's HTTP handler) must have already called Decide.
func (d *Driver) ResumeAfterDecision(ctx context.Context, conversationID, executionID, approver string, decision approval.Decision) error {
	pe, err := d.approvals.Get(ctx, executionID)
	if err != nil {
		return fmt.Errorf("driver: resume: %w", err)
	}
	if pe == nil {
		return apierr.BadParams("unknown execution id: " + executionID)
	}

	return d.store.WithConversationLock(ctx, conversationID, func() error {
		if decision == approval.Reject {
			if err := d.store.AppendTurn(ctx, conversationID, model.Turn{
				Kind: model.TurnToolResult,
				ToolResult: &model.ToolResult{
					CallID: pe.CallID, Status: model.ResultError, ExecutionID: executionID,
					Reason: "user_rejected",
				},
				Timestamp: time.Now().UTC(),
			}); err != nil {
				return fmt.Errorf("driver: append rejection turn: %w", err)
			}
			return d.runLoop(ctx, conversationID, model.ApprovalNormal, "")
		}

		out := d.eng.ExecuteApproved(ctx, pe, approver)
		if err := d.appendOutcomeTurn(ctx, conversationID, pe.CallID, out); err != nil {
			return err
		}
		return d.runLoop(ctx, conversationID, model.ApprovalNormal, "")
	})
}

// runLoop implements spec.md §4.1's bounded loop body. Caller must hold
// the conversation's logical lock. modelHint, if non-empty, is applied
// to every turn's Request.
func (d *Driver) runLoop(ctx context.Context, conversationID string, mode model.ApprovalMode, modelHint string) error {
	ctx, cancel := context.WithTimeout(ctx, OverallTimeout)
	defer cancel()

	for turn := 0; turn < MaxTurns; turn++ {
		conv, err := d.store.GetConversation(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("driver: load conversation: %w", err)
		}

		req := d.buildRequest(conv)
		req.Model = modelHint
		events, err := d.llm.Stream(ctx, req)
		if err != nil {
			metrics.DriverTurnsTotal.WithLabelValues("llm_error").Inc()
			return fmt.Errorf("driver: llm stream: %w", err)
		}

		var text string
		var toolCalls []model.ToolCall
		for ev := range events {
			switch ev.Kind {
			case llm.EventTextToken:
				text += ev.Text
				d.publish(conversationID, Event{ConversationID: conversationID, TextToken: ev.Text})
			case llm.EventToolCall:
				toolCalls = append(toolCalls, ev.ToolCall)
			case llm.EventError:
				metrics.DriverTurnsTotal.WithLabelValues("llm_error").Inc()
				return fmt.Errorf("driver: llm stream: %w", ev.Err)
			}
		}

		assistantTurn := model.Turn{
			Kind: model.TurnAssistant, Text: text, ToolCalls: toolCalls, Timestamp: time.Now().UTC(),
		}
		if err := d.store.AppendTurn(ctx, conversationID, assistantTurn); err != nil {
			return fmt.Errorf("driver: append assistant turn: %w", err)
		}
		d.publish(conversationID, Event{ConversationID: conversationID, Turn: &assistantTurn})

		if len(toolCalls) == 0 {
			metrics.DriverTurnsTotal.WithLabelValues("completed").Inc()
			d.publish(conversationID, Event{ConversationID: conversationID, Done: true})
			return nil
		}

		// Tool calls within a single assistant turn are executed strictly
		// sequentially, in the order the LLM emitted them: as soon as one
		// suspends for approval, the loop halts without invoking the
		// engine on any of the calls still queued behind it.
		suspended := false
		for _, call := range toolCalls {
			out := d.eng.Execute(ctx, call, conversationID, mode)
			if err := d.appendOutcomeTurn(ctx, conversationID, call.ID, out); err != nil {
				return err
			}
			if out.Kind == engine.OutcomeSuspended {
				suspended = true
				break
			}
		}
		if suspended {
			metrics.DriverTurnsTotal.WithLabelValues("suspended").Inc()
			d.publish(conversationID, Event{ConversationID: conversationID, Done: true})
			return nil
		}
	}

	metrics.DriverTurnsTotal.WithLabelValues("max_turns_exceeded").Inc()
	if err := d.store.AppendTurn(ctx, conversationID, model.Turn{
		Kind: model.TurnAssistant, Text: "Reached the maximum number of reasoning turns without a final answer.",
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("driver: append max-turns notice: %w", err)
	}
	return nil
}

// appendOutcomeTurn converts one engine.Outcome into a tool_result Turn
// and appends it, publishing a live Event as it goes.
func (d *Driver) appendOutcomeTurn(ctx context.Context, conversationID, callID string, out engine.Outcome) error {
	tr := &model.ToolResult{CallID: callID, ExecutionID: out.ExecutionID, ValidationNotes: out.ValidationNotes}
	switch out.Kind {
	case engine.OutcomeOK:
		tr.Status = model.ResultOK
		tr.Payload = out.Result
	case engine.OutcomeSuspended:
		tr.Status = model.ResultApprovalRequired
	case engine.OutcomeErr:
		tr.Status = model.ResultError
		tr.Reason = out.Err.Error()
	}
	turn := model.Turn{Kind: model.TurnToolResult, ToolResult: tr, Timestamp: time.Now().UTC()}
	if err := d.store.AppendTurn(ctx, conversationID, turn); err != nil {
		return fmt.Errorf("driver: append tool result turn: %w", err)
	}
	d.publish(conversationID, Event{ConversationID: conversationID, Turn: &turn})
	return nil
}

// buildRequest composes an llm.Request from the conversation's full turn
// history plus the full tool catalog (spec.md §4.1: "the entire tool
// catalog is always made available").
func (d *Driver) buildRequest(conv *model.Conversation) llm.Request {
	req := llm.Request{System: systemPrompt}
	for _, spec := range catalog.All() {
		req.Tools = append(req.Tools, llm.Tool{
			Name: spec.Name, Description: spec.Description, Parameters: schemaToJSON(spec),
		})
	}
	for _, t := range conv.Turns {
		switch t.Kind {
		case model.TurnUser:
			req.Messages = append(req.Messages, llm.Message{Role: llm.RoleUser, Content: t.Text})
		case model.TurnAssistant:
			req.Messages = append(req.Messages, llm.Message{Role: llm.RoleAssistant, Content: t.Text, ToolCalls: t.ToolCalls})
		case model.TurnToolResult:
			if t.ToolResult == nil {
				continue
			}
			req.Messages = append(req.Messages, llm.Message{
				Role: llm.RoleTool, ToolCallID: t.ToolResult.CallID, Content: toolResultText(t.ToolResult),
			})
		}
	}
	return req
}

const systemPrompt = "You are a Kubernetes operations assistant. Use the provided tools to " +
	"inspect and, when explicitly necessary, modify cluster state. Prefer the least " +
	"destructive tool that answers the question."

func toolResultText(tr *model.ToolResult) string {
	switch tr.Status {
	case model.ResultOK:
		return fmt.Sprintf("%v", tr.Payload)
	case model.ResultApprovalRequired:
		return "awaiting human approval (execution_id=" + tr.ExecutionID + ")"
	default:
		return "error: " + tr.Reason
	}
}

func schemaToJSON(spec model.ToolSpec) map[string]any {
	props := make(map[string]any, len(spec.Schema.Fields))
	for name, f := range spec.Schema.Fields {
		prop := map[string]any{"type": jsonType(f.Type)}
		if len(f.Enum) > 0 {
			prop["enum"] = f.Enum
		}
		props[name] = prop
	}
	schema := map[string]any{"type": "object", "properties": props}
	if len(spec.Schema.Required) > 0 {
		schema["required"] = spec.Schema.Required
	}
	return schema
}

func jsonType(t string) string {
	switch t {
	case "int":
		return "integer"
	case "bool":
		return "boolean"
	default:
		return "string"
	}
}

// supportsModel reports whether modelHint matches one of client's
// SupportedModels, either exactly or as a dated-snapshot suffix on a
// family prefix (e.g. "claude-3-5-sonnet-20241022" against the family
// "claude-3-5-sonnet").
func supportsModel(client llm.Client, modelHint string) bool {
	for _, supported := range client.SupportedModels() {
		if modelHint == supported || strings.HasPrefix(modelHint, supported) {
			return true
		}
	}
	return false
}
