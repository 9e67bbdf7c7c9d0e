// Package engine implements the Execution Engine (spec.md §4.2): tool
// routing, classification, approval gating, per-call timeout, result
// validation, and audit recording. Grounded on the teacher's
// internal/safety/engine.go evaluation pipeline, narrowed from its
// 5-level autonomy model down to spec.md's safe/dangerous classification
// and strict/normal/auto approval modes.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loomctl/loom-agent/internal/apierr"
	"github.com/loomctl/loom-agent/internal/approval"
	"github.com/loomctl/loom-agent/internal/cache"
	"github.com/loomctl/loom-agent/internal/catalog"
	"github.com/loomctl/loom-agent/internal/executor"
	"github.com/loomctl/loom-agent/internal/metrics"
	"github.com/loomctl/loom-agent/internal/model"
	"github.com/loomctl/loom-agent/internal/store"
)

// DefaultTimeout and ShellTimeout implement spec.md §4.2's per-call
// timeout (60s default, 120s for process-spawning tools).
const (
	DefaultTimeout = 60 * time.Second
	ShellTimeout   = 120 * time.Second
)

// errorIndicators are the substrings spec.md §4.2 step 6 scans result
// payloads for when attaching (non-blocking) validation notes.
var errorIndicators = []string{"error", "failed", "exception", "not found", "forbidden", "timeout"}

// OutcomeKind discriminates the Execute return.
type OutcomeKind string

const (
	OutcomeOK        OutcomeKind = "ok"
	OutcomeSuspended OutcomeKind = "suspended"
	OutcomeErr       OutcomeKind = "err"
)

// Outcome is the tagged union Execute returns.
type Outcome struct {
	Kind            OutcomeKind
	Result          any
	ExecutionID     string
	Err             error
	ValidationNotes []string
}

// Engine is the central tool dispatcher.
type Engine struct {
	registry  executor.Registry
	approvals *approval.Controller
	store     store.Store
	cache     *cache.ToolResultCache
}

// New constructs an Engine over the given tool registry, approval
// controller and state store.
func New(registry executor.Registry, approvals *approval.Controller, s store.Store) *Engine {
	return &Engine{registry: registry, approvals: approvals, store: s}
}

// WithCache attaches the bounded short-lived tool-result cache (spec.md
// §4.5) that memoizes safe (read-only) tool calls. A nil or never-called
// WithCache leaves caching disabled.
func (e *Engine) WithCache(c *cache.ToolResultCache) *Engine {
	e.cache = c
	return e
}

// Execute runs the full pipeline of spec.md §4.2 for a single ToolCall.
func (e *Engine) Execute(ctx context.Context, call model.ToolCall, conversationID string, mode model.ApprovalMode) Outcome {
	spec, ok := catalog.Lookup(call.Name)
	if !ok {
		metrics.ToolCallsTotal.WithLabelValues(call.Name, "unknown_tool").Inc()
		return Outcome{Kind: OutcomeErr, Err: apierr.UnknownTool(call.Name)}
	}

	if err := catalog.Validate(spec, call.Parameters); err != nil {
		metrics.ToolCallsTotal.WithLabelValues(call.Name, "bad_params").Inc()
		return Outcome{Kind: OutcomeErr, Err: apierr.BadParams(err.Error())}
	}

	if requiresApproval(mode, spec.Classification) {
		pe, err := e.approvals.Suspend(ctx, conversationID, call, spec.Classification)
		if err != nil {
			return Outcome{Kind: OutcomeErr, Err: err}
		}
		metrics.ToolCallsTotal.WithLabelValues(call.Name, "suspended").Inc()
		return Outcome{Kind: OutcomeSuspended, ExecutionID: pe.ID}
	}

	approver := ""
	if mode == model.ApprovalAuto && spec.Classification == model.ClassDangerous {
		approver = "auto"
	}
	return e.dispatch(ctx, spec, call, conversationID, approver)
}

// ExecuteApproved dispatches a previously suspended call, bypassing
// classification entirely (spec.md §4.6: "dispatch the stored call
// through the Execution Engine bypassing the classification check").
func (e *Engine) ExecuteApproved(ctx context.Context, pe *model.PendingExecution, approver string) Outcome {
	call := model.ToolCall{ID: pe.CallID, Name: pe.ToolName, Parameters: pe.Parameters}
	return e.dispatch(ctx, model.ToolSpec{Name: pe.ToolName, Classification: pe.Classification}, call, pe.ConversationID, approver)
}

func requiresApproval(mode model.ApprovalMode, class model.Classification) bool {
	switch mode {
	case model.ApprovalAuto:
		return false
	case model.ApprovalStrict:
		return true
	default: // normal
		return class == model.ClassDangerous
	}
}

func (e *Engine) dispatch(ctx context.Context, spec model.ToolSpec, call model.ToolCall, conversationID, approver string) Outcome {
	handler, ok := e.registry.Lookup(call.Name)
	if !ok {
		metrics.ToolCallsTotal.WithLabelValues(call.Name, "unknown_tool").Inc()
		return Outcome{Kind: OutcomeErr, Err: apierr.UnknownTool(call.Name)}
	}

	var cacheKey string
	if e.cache != nil && spec.Classification == model.ClassSafe {
		cacheKey = cache.Key(call.Name, call.Parameters)
		if raw, hit := e.cache.Get(cacheKey); hit {
			var payload any
			if json.Unmarshal(raw, &payload) == nil {
				metrics.ToolCallsTotal.WithLabelValues(call.Name, "cache_hit").Inc()
				return Outcome{Kind: OutcomeOK, Result: payload, ExecutionID: "exec_" + uuid.NewString(), ValidationNotes: validate(payload)}
			}
		}
	}

	timeout := DefaultTimeout
	if call.Name == "execute_shell_command" {
		timeout = ShellTimeout
	}
	dispatchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	requestedAt := time.Now().UTC()
	executionID := "exec_" + uuid.NewString()

	start := time.Now()
	result, err := handler(dispatchCtx, call.Parameters)
	metrics.ToolCallDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		status := model.AuditError
		outcomeLabel := "error"
		if dispatchCtx.Err() == context.DeadlineExceeded {
			err = apierr.Timeout(fmt.Sprintf("%s exceeded %s", call.Name, timeout))
			outcomeLabel = "timeout"
		}
		metrics.ToolCallsTotal.WithLabelValues(call.Name, outcomeLabel).Inc()
		e.audit(ctx, executionID, conversationID, call, approver, status, requestedAt, nil)
		return Outcome{Kind: OutcomeErr, Err: err, ExecutionID: executionID}
	}

	notes := validate(result.Payload)
	metrics.ToolCallsTotal.WithLabelValues(call.Name, "success").Inc()
	e.audit(ctx, executionID, conversationID, call, approver, model.AuditSuccess, requestedAt, result.Payload)
	payload := result.Payload
	if cacheKey != "" {
		if raw, err := json.Marshal(result.Payload); err == nil {
			e.cache.Set(cacheKey, raw)
			// Return the same JSON-decoded form a later cache hit returns.
			var decoded any
			if json.Unmarshal(raw, &decoded) == nil {
				payload = decoded
			}
		}
	}
	return Outcome{Kind: OutcomeOK, Result: payload, ExecutionID: executionID, ValidationNotes: notes}
}

// validate implements spec.md §4.2 step 6: non-blocking scan for known
// error-indicator substrings and structurally empty payloads.
func validate(payload any) []string {
	var notes []string
	raw, _ := json.Marshal(payload)
	lower := strings.ToLower(string(raw))
	for _, indicator := range errorIndicators {
		if strings.Contains(lower, indicator) {
			notes = append(notes, "payload mentions possible issue: "+indicator)
		}
	}
	if payload == nil || lower == "null" || lower == "[]" || lower == "{}" {
		notes = append(notes, "payload is structurally empty")
	}
	return notes
}

func (e *Engine) audit(ctx context.Context, executionID, conversationID string, call model.ToolCall, approver string, status model.AuditStatus, requestedAt time.Time, payload any) {
	now := time.Now().UTC()
	raw, _ := json.Marshal(payload)
	preview := string(raw)
	if len(preview) > 500 {
		preview = preview[:500]
	}
	rec := &model.AuditRecord{
		ExecutionID:    executionID,
		ConversationID: conversationID,
		ToolName:       call.Name,
		Parameters:     call.Parameters,
		Approver:       approver,
		Status:         status,
		RequestedAt:    requestedAt,
		CompletedAt:    &now,
		ResultSize:     len(raw),
		ResultPreview:  preview,
	}
	_ = e.store.AppendAudit(ctx, rec)
}
