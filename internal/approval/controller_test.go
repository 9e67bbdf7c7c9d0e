package approval

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomctl/loom-agent/internal/apierr"
	"github.com/loomctl/loom-agent/internal/model"
	"github.com/loomctl/loom-agent/internal/store"
)

func newController(t *testing.T) (*Controller, store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, time.Hour), s
}

func TestSuspendThenApprove(t *testing.T) {
	ctx := context.Background()
	c, _ := newController(t)

	pe, err := c.Suspend(ctx, "conv-1", model.ToolCall{ID: "call-1", Name: "kubectl_scale_deployment"}, model.ClassDangerous)
	require.NoError(t, err)
	assert.Equal(t, model.PendingPending, pe.Status)

	decided, did, err := c.Decide(ctx, pe.ID, Approve)
	require.NoError(t, err)
	assert.True(t, did)
	assert.Equal(t, model.PendingApproved, decided.Status)
}

func TestRepeatedApproveIsNoOp(t *testing.T) {
	ctx := context.Background()
	c, _ := newController(t)
	pe, err := c.Suspend(ctx, "conv-1", model.ToolCall{ID: "call-1", Name: "kubectl_delete_pod"}, model.ClassDangerous)
	require.NoError(t, err)

	first, did1, err := c.Decide(ctx, pe.ID, Approve)
	require.NoError(t, err)
	assert.True(t, did1)

	second, did2, err := c.Decide(ctx, pe.ID, Approve)
	require.NoError(t, err)
	assert.False(t, did2)
	assert.Equal(t, first.Status, second.Status)
}

func TestDecisionOnTerminalRecordFails(t *testing.T) {
	ctx := context.Background()
	c, _ := newController(t)
	pe, err := c.Suspend(ctx, "conv-1", model.ToolCall{ID: "call-1", Name: "kubectl_delete_pod"}, model.ClassDangerous)
	require.NoError(t, err)

	_, _, err = c.Decide(ctx, pe.ID, Reject)
	require.NoError(t, err)

	_, _, err = c.Decide(ctx, pe.ID, Approve)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindAlreadyDecided, apiErr.Kind)
}

func TestSweepExpiredMarksOldPending(t *testing.T) {
	ctx := context.Background()
	c, s := newController(t)

	pe, err := c.Suspend(ctx, "conv-1", model.ToolCall{ID: "call-1", Name: "kubectl_delete_pod"}, model.ClassDangerous)
	require.NoError(t, err)

	// Zero TTL simulates elapsed time without sleeping in the test.
	n, err := s.SweepExpiredPending(ctx, time.Now().UTC(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reloaded, err := c.Get(ctx, pe.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PendingExpired, reloaded.Status)
}
