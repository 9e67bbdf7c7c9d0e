package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomctl/loom-agent/internal/approval"
	"github.com/loomctl/loom-agent/internal/config"
	"github.com/loomctl/loom-agent/internal/driver"
	"github.com/loomctl/loom-agent/internal/engine"
	"github.com/loomctl/loom-agent/internal/executor"
	"github.com/loomctl/loom-agent/internal/llm"
	"github.com/loomctl/loom-agent/internal/model"
	"github.com/loomctl/loom-agent/internal/store"
)

type fakeClient struct{ text string }

func (c *fakeClient) Stream(ctx context.Context, req llm.Request) (<-chan llm.Event, error) {
	ch := make(chan llm.Event, 2)
	ch <- llm.Event{Kind: llm.EventTextToken, Text: c.text}
	ch <- llm.Event{Kind: llm.EventDone}
	close(ch)
	return ch, nil
}

func (c *fakeClient) SupportedModels() []string {
	return []string{"claude-3-5-sonnet"}
}

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	reg := make(executor.Registry)
	ctrl := approval.New(s, time.Hour)
	eng := engine.New(reg, ctrl, s)
	d := driver.New(&fakeClient{text: "ok"}, eng, s, ctrl)
	cfg := &config.ServerConfig{Address: "127.0.0.1", Port: 0, ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second, ShutdownTimeout: time.Second}
	return New(cfg, d, ctrl, s), s
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.registerHandlers(mux)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListTools(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.registerHandlers(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tools", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var tools []model.ToolSpec
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tools))
	assert.Len(t, tools, 18)
}

func TestChatCreatesConversationAndReturnsResponse(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.registerHandlers(mux)

	body, _ := json.Marshal(chatRequest{Message: "hello"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["response_text"])
	assert.NotEmpty(t, resp["conversation_id"])
}

func TestChatRejectsUnknownModel(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.registerHandlers(mux)

	body, _ := json.Marshal(chatRequest{Message: "hello", Model: "gpt-4o"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "bad_model", resp["error"])
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.registerHandlers(mux)

	body, _ := json.Marshal(chatRequest{Message: ""})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminLLMConfigRoundTrips(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.registerHandlers(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/llm-config", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var getResp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &getResp))
	assert.Equal(t, false, getResp["configured"])

	body, _ := json.Marshal(llmConfigRequest{Provider: "anthropic", Model: "claude-3-opus-20240229", APIKey: "sk-test"})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/llm-config", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/llm-config", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &getResp))
	assert.Equal(t, true, getResp["configured"])
	assert.Equal(t, "claude-3-opus-20240229", getResp["model"])
	assert.NotContains(t, getResp, "api_key")
}

func TestConversationLifecycle(t *testing.T) {
	srv, s := newTestServer(t)
	mux := http.NewServeMux()
	srv.registerHandlers(mux)

	_, err := s.CreateConversation(context.Background(), "conv-xyz", "hello world")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/conversations/conv-xyz", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/conversations/conv-xyz", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/conversations/conv-xyz", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestApproveUnknownExecutionID(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.registerHandlers(mux)

	body, _ := json.Marshal(approveRequest{ExecutionID: "exec_does_not_exist", Approved: true})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/approve", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPendingAndHistoryEndpointsRespond(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.registerHandlers(mux)

	for _, path := range []string{"/api/v1/pending", "/api/v1/history"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
