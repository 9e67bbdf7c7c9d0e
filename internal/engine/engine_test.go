package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomctl/loom-agent/internal/approval"
	"github.com/loomctl/loom-agent/internal/cache"
	"github.com/loomctl/loom-agent/internal/executor"
	"github.com/loomctl/loom-agent/internal/model"
	"github.com/loomctl/loom-agent/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, executor.Registry, store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	reg := make(executor.Registry)
	ctrl := approval.New(s, time.Hour)
	return New(reg, ctrl, s), reg, s
}

func TestExecuteUnknownTool(t *testing.T) {
	e, _, _ := newTestEngine(t)
	out := e.Execute(context.Background(), model.ToolCall{ID: "c1", Name: "does_not_exist"}, "conv-1", model.ApprovalNormal)
	assert.Equal(t, OutcomeErr, out.Kind)
	require.Error(t, out.Err)
}

func TestExecuteBadParams(t *testing.T) {
	e, reg, _ := newTestEngine(t)
	reg.Register("kubectl_get_pods", func(ctx context.Context, params map[string]any) (executor.Result, error) {
		return executor.Result{Payload: []any{}}, nil
	})
	// kubectl_scale_deployment requires deployment_name/namespace/replicas.
	out := e.Execute(context.Background(), model.ToolCall{ID: "c1", Name: "kubectl_scale_deployment"}, "conv-1", model.ApprovalNormal)
	assert.Equal(t, OutcomeErr, out.Kind)
}

func TestExecuteSafeToolRunsImmediatelyInNormalMode(t *testing.T) {
	e, reg, _ := newTestEngine(t)
	reg.Register("kubectl_get_pods", func(ctx context.Context, params map[string]any) (executor.Result, error) {
		return executor.Result{Payload: []map[string]any{{"name": "pod-a"}}}, nil
	})
	out := e.Execute(context.Background(), model.ToolCall{ID: "c1", Name: "kubectl_get_pods", Parameters: map[string]any{}}, "conv-1", model.ApprovalNormal)
	require.Equal(t, OutcomeOK, out.Kind)
	assert.NotEmpty(t, out.ExecutionID)
}

func TestExecuteDangerousToolSuspendsInNormalMode(t *testing.T) {
	e, reg, s := newTestEngine(t)
	called := false
	reg.Register("kubectl_delete_pod", func(ctx context.Context, params map[string]any) (executor.Result, error) {
		called = true
		return executor.Result{Payload: map[string]any{"deleted": true}}, nil
	})
	out := e.Execute(context.Background(), model.ToolCall{ID: "c1", Name: "kubectl_delete_pod", Parameters: map[string]any{
		"namespace": "default", "pod_name": "pod-a",
	}}, "conv-1", model.ApprovalNormal)
	require.Equal(t, OutcomeSuspended, out.Kind)
	assert.False(t, called)

	pe, err := s.GetPending(context.Background(), out.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, model.PendingPending, pe.Status)
}

func TestExecuteDangerousToolRunsImmediatelyInAutoMode(t *testing.T) {
	e, reg, _ := newTestEngine(t)
	called := false
	reg.Register("kubectl_delete_pod", func(ctx context.Context, params map[string]any) (executor.Result, error) {
		called = true
		return executor.Result{Payload: map[string]any{"deleted": true}}, nil
	})
	out := e.Execute(context.Background(), model.ToolCall{ID: "c1", Name: "kubectl_delete_pod", Parameters: map[string]any{
		"namespace": "default", "pod_name": "pod-a",
	}}, "conv-1", model.ApprovalAuto)
	require.Equal(t, OutcomeOK, out.Kind)
	assert.True(t, called)
}

func TestExecuteStrictModeSuspendsSafeTool(t *testing.T) {
	e, reg, _ := newTestEngine(t)
	reg.Register("kubectl_get_pods", func(ctx context.Context, params map[string]any) (executor.Result, error) {
		return executor.Result{Payload: []map[string]any{}}, nil
	})
	out := e.Execute(context.Background(), model.ToolCall{ID: "c1", Name: "kubectl_get_pods", Parameters: map[string]any{}}, "conv-1", model.ApprovalStrict)
	assert.Equal(t, OutcomeSuspended, out.Kind)
}

func TestExecuteHandlerErrorWritesAuditRecord(t *testing.T) {
	e, reg, s := newTestEngine(t)
	reg.Register("kubectl_get_pods", func(ctx context.Context, params map[string]any) (executor.Result, error) {
		return executor.Result{}, errors.New("boom")
	})
	out := e.Execute(context.Background(), model.ToolCall{ID: "c1", Name: "kubectl_get_pods", Parameters: map[string]any{}}, "conv-1", model.ApprovalNormal)
	require.Equal(t, OutcomeErr, out.Kind)

	records, err := s.ListAudit(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.AuditError, records[0].Status)
}

func TestValidateFlagsErrorIndicatorsNonBlocking(t *testing.T) {
	notes := validate(map[string]any{"message": "pod not found"})
	assert.Contains(t, notes, "payload mentions possible issue: not found")
}

func TestValidateFlagsEmptyPayload(t *testing.T) {
	notes := validate([]any{})
	assert.Contains(t, notes, "payload is structurally empty")
}

func TestExecuteSafeToolHitsCacheOnSecondCall(t *testing.T) {
	e, reg, _ := newTestEngine(t)
	calls := 0
	reg.Register("kubectl_get_pods", func(ctx context.Context, params map[string]any) (executor.Result, error) {
		calls++
		return executor.Result{Payload: []map[string]any{{"name": "pod-a"}}}, nil
	})
	c, err := cache.New(16, time.Minute)
	require.NoError(t, err)
	e.WithCache(c)

	call := model.ToolCall{ID: "c1", Name: "kubectl_get_pods", Parameters: map[string]any{}}
	out1 := e.Execute(context.Background(), call, "conv-1", model.ApprovalNormal)
	require.Equal(t, OutcomeOK, out1.Kind)
	out2 := e.Execute(context.Background(), call, "conv-1", model.ApprovalNormal)
	require.Equal(t, OutcomeOK, out2.Kind)

	assert.Equal(t, 1, calls)
	assert.Equal(t, out1.Result, out2.Result)
}

func TestExecuteApprovedBypassesClassification(t *testing.T) {
	e, reg, s := newTestEngine(t)
	ctrl := approval.New(s, time.Hour)
	reg.Register("kubectl_delete_pod", func(ctx context.Context, params map[string]any) (executor.Result, error) {
		return executor.Result{Payload: map[string]any{"deleted": true}}, nil
	})

	pe, err := ctrl.Suspend(context.Background(), "conv-1", model.ToolCall{ID: "c1", Name: "kubectl_delete_pod", Parameters: map[string]any{
		"namespace": "default", "pod_name": "pod-a",
	}}, model.ClassDangerous)
	require.NoError(t, err)

	out := e.ExecuteApproved(context.Background(), pe, "alice")
	require.Equal(t, OutcomeOK, out.Kind)
}
