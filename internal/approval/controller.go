// Package approval implements the Approval Controller state machine
// (spec.md §4.6): pending -> approved|rejected|expired, all terminal
// except pending. Grounded on the teacher's
// internal/safety/autonomy/controller_impl.go, but correcting its
// transition bug: the teacher's ApproveAction/RejectAction overwrite
// status unconditionally; here every transition is an atomic
// compare-and-set performed by the store (store.TransitionPending),
// giving the idempotent-resend and AlreadyDecided semantics spec.md
// requires.
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loomctl/loom-agent/internal/apierr"
	"github.com/loomctl/loom-agent/internal/metrics"
	"github.com/loomctl/loom-agent/internal/model"
	"github.com/loomctl/loom-agent/internal/store"
)

// Decision is the human's choice on a PendingExecution.
type Decision bool

const (
	Approve Decision = true
	Reject  Decision = false
)

// Controller suspends and resumes tool calls pending human approval.
type Controller struct {
	store store.Store
	ttl   time.Duration
}

// New constructs a Controller backed by the given Store, using ttl for
// the pending-execution TTL (spec.md default: 1 hour).
func New(s store.Store, ttl time.Duration) *Controller {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Controller{store: s, ttl: ttl}
}

// Suspend creates a new PendingExecution in status=pending for the given
// call, returning its opaque execution identifier.
func (c *Controller) Suspend(ctx context.Context, conversationID string, call model.ToolCall, class model.Classification) (*model.PendingExecution, error) {
	pe := &model.PendingExecution{
		ID:             "exec_" + uuid.NewString(),
		ConversationID: conversationID,
		CallID:         call.ID,
		ToolName:       call.Name,
		Parameters:     call.Parameters,
		Classification: class,
		CreatedAt:      time.Now().UTC(),
		Status:         model.PendingPending,
	}
	if err := c.store.CreatePending(ctx, pe); err != nil {
		return nil, fmt.Errorf("approval: suspend: %w", err)
	}
	metrics.PendingExecutions.Inc()
	return pe, nil
}

// Decide applies an approve/reject decision to executionID. It is
// idempotent: a repeated identical decision after the first succeeds
// returns the already-decided record with did=false rather than an
// error; any decision that contradicts an already-terminal record (or an
// initial decision on an already-terminal record) returns
// apierr.AlreadyDecided.
func (c *Controller) Decide(ctx context.Context, executionID string, decision Decision) (*model.PendingExecution, bool, error) {
	want := model.PendingRejected
	if decision == Approve {
		want = model.PendingApproved
	}

	pe, transitioned, err := c.store.TransitionPending(ctx, executionID, want)
	if err != nil {
		return nil, false, fmt.Errorf("approval: decide: %w", err)
	}
	if pe == nil {
		return nil, false, apierr.BadParams("unknown execution id: " + executionID)
	}
	if !transitioned {
		if pe.Status == want {
			// Idempotent re-send of the same decision: no-op success.
			metrics.ApprovalDecisionsTotal.WithLabelValues("repeat_" + string(want)).Inc()
			return pe, false, nil
		}
		metrics.ApprovalDecisionsTotal.WithLabelValues("already_decided").Inc()
		return pe, false, apierr.AlreadyDecided()
	}
	metrics.ApprovalDecisionsTotal.WithLabelValues(string(want)).Inc()
	metrics.PendingExecutions.Dec()
	return pe, true, nil
}

// SweepExpired marks every pending record older than the configured TTL
// as expired (spec.md §8 invariant 3: within 60s of a sweep) and returns
// the count transitioned.
func (c *Controller) SweepExpired(ctx context.Context) (int, error) {
	n, err := c.store.SweepExpiredPending(ctx, time.Now().UTC(), c.ttl)
	if err != nil {
		return 0, fmt.Errorf("approval: sweep: %w", err)
	}
	if n > 0 {
		metrics.PendingExecutions.Sub(float64(n))
	}
	return n, nil
}

// RunSweeper runs SweepExpired on interval until ctx is cancelled,
// implementing the background sweeper spec.md §4.6 calls for.
func (c *Controller) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = c.SweepExpired(ctx)
		}
	}
}

// Get returns a PendingExecution by id, or nil if not found.
func (c *Controller) Get(ctx context.Context, id string) (*model.PendingExecution, error) {
	pe, err := c.store.GetPending(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("approval: get: %w", err)
	}
	return pe, nil
}

// List returns every pending (non-terminal) PendingExecution.
func (c *Controller) List(ctx context.Context) ([]*model.PendingExecution, error) {
	pes, err := c.store.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("approval: list: %w", err)
	}
	return pes, nil
}
