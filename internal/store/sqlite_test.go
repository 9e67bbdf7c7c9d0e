package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomctl/loom-agent/internal/model"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConversationRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	conv, err := s.CreateConversation(ctx, "conv-1", "List pods")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", conv.ID)

	require.NoError(t, s.AppendTurn(ctx, "conv-1", model.Turn{Kind: model.TurnUser, Text: "List pods in default namespace."}))
	require.NoError(t, s.AppendTurn(ctx, "conv-1", model.Turn{Kind: model.TurnAssistant, Text: "Here they are."}))

	loaded, err := s.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, loaded.Turns, 2)
	assert.Equal(t, model.TurnUser, loaded.Turns[0].Kind)
	assert.Equal(t, model.TurnAssistant, loaded.Turns[1].Kind)
}

func TestListConversationsSortedByRecency(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.CreateConversation(ctx, "older", "older")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = s.CreateConversation(ctx, "newer", "newer")
	require.NoError(t, err)
	require.NoError(t, s.AppendTurn(ctx, "newer", model.Turn{Kind: model.TurnUser, Text: "hi"}))

	summaries, err := s.ListConversations(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "newer", summaries[0].ID)
	assert.Equal(t, 1, summaries[0].MessageCount)
}

func TestTransitionPendingIsAtomicAndIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	pe := &model.PendingExecution{
		ID: "exec-1", ConversationID: "conv-1", CallID: "call-1",
		ToolName: "kubectl_scale_deployment", Parameters: map[string]any{"replicas": 5.0},
		Classification: model.ClassDangerous, CreatedAt: time.Now().UTC(), Status: model.PendingPending,
	}
	require.NoError(t, s.CreatePending(ctx, pe))

	updated, did, err := s.TransitionPending(ctx, "exec-1", model.PendingApproved)
	require.NoError(t, err)
	assert.True(t, did)
	assert.Equal(t, model.PendingApproved, updated.Status)

	// Repeated approve after terminal: not re-applied, reports did=false.
	again, did2, err := s.TransitionPending(ctx, "exec-1", model.PendingApproved)
	require.NoError(t, err)
	assert.False(t, did2)
	assert.Equal(t, model.PendingApproved, again.Status)
}

func TestSweepExpiredPending(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	pe := &model.PendingExecution{
		ID: "exec-old", ConversationID: "conv-1", CallID: "call-1",
		ToolName: "kubectl_delete_pod", Parameters: map[string]any{},
		Classification: model.ClassDangerous,
		CreatedAt:      time.Now().UTC().Add(-2 * time.Hour),
		Status:         model.PendingPending,
	}
	require.NoError(t, s.CreatePending(ctx, pe))

	n, err := s.SweepExpiredPending(ctx, time.Now().UTC(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	loaded, err := s.GetPending(ctx, "exec-old")
	require.NoError(t, err)
	assert.Equal(t, model.PendingExpired, loaded.Status)
}

func TestAuditNoDuplicateExecutionIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec := &model.AuditRecord{
		ExecutionID: "exec-1", ConversationID: "conv-1", ToolName: "kubectl_get_pods",
		Parameters: map[string]any{}, Status: model.AuditSuccess, RequestedAt: time.Now().UTC(),
	}
	require.NoError(t, s.AppendAudit(ctx, rec))
	rec.Status = model.AuditError
	require.NoError(t, s.AppendAudit(ctx, rec)) // upsert, not a duplicate row

	all, err := s.ListAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, model.AuditError, all[0].Status)
}

func TestWithConversationLockRejectsConcurrentEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.WithConversationLock(ctx, "conv-1", func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	err := s.WithConversationLock(ctx, "conv-1", func() error { return nil })
	assert.Error(t, err)

	close(release)
	require.NoError(t, <-errCh)
}

func TestLLMConfigRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, _, _, _, ok, err := s.LoadLLMConfig(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveLLMConfig(ctx, "anthropic", "claude-sonnet-4-5", "sk-test", ""))
	provider, modelName, apiKey, _, ok, err := s.LoadLLMConfig(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "anthropic", provider)
	assert.Equal(t, "claude-sonnet-4-5", modelName)
	assert.Equal(t, "sk-test", apiKey)
}
