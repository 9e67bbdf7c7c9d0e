package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loomctl/loom-agent/internal/apierr"
	"github.com/loomctl/loom-agent/internal/approval"
	"github.com/loomctl/loom-agent/internal/catalog"
	"github.com/loomctl/loom-agent/internal/model"
)

func metricsHandler() http.Handler { return promhttp.Handler() }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	if apiErr, ok := apierr.As(err); ok {
		status := http.StatusInternalServerError
		switch apiErr.Kind {
		case apierr.KindUnknownTool, apierr.KindBadParams, apierr.KindBadModel:
			status = http.StatusBadRequest
		case apierr.KindConversationBusy:
			status = http.StatusConflict
		case apierr.KindAlreadyDecided:
			status = http.StatusConflict
		case apierr.KindTimeout:
			status = http.StatusGatewayTimeout
		case apierr.KindUnreachable:
			status = http.StatusBadGateway
		}
		writeJSON(w, status, map[string]any{"error": apiErr.Kind, "detail": apiErr.Detail})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal", "detail": err.Error()})
}

// chatRequest is the request body for POST /api/v1/chat (spec.md §6).
type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
	ApprovalMode   string `json:"approval_mode,omitempty"`
	Model          string `json:"model,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apierr.BadParams("invalid JSON body: "+err.Error()))
		return
	}
	if req.Message == "" {
		writeErr(w, apierr.BadParams("message is required"))
		return
	}

	mode := model.ApprovalNormal
	if req.ApprovalMode != "" {
		mode = model.ApprovalMode(req.ApprovalMode)
	}

	ctx := r.Context()
	conversationID := req.ConversationID
	if conversationID == "" {
		conv, err := s.store.CreateConversation(ctx, "conv_"+uuid.NewString(), "")
		if err != nil {
			writeErr(w, err)
			return
		}
		conversationID = conv.ID
	}

	if err := s.driver.Send(ctx, conversationID, req.Message, mode, req.Model); err != nil {
		writeErr(w, err)
		return
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderChatResponse(conversationID, conv))
}

func renderChatResponse(conversationID string, conv *model.Conversation) map[string]any {
	var responseText string
	var toolUses []model.ToolCall
	var toolResults []*model.ToolResult
	var execution string
	for i := len(conv.Turns) - 1; i >= 0; i-- {
		t := conv.Turns[i]
		if t.Kind == model.TurnAssistant {
			responseText = t.Text
			break
		}
	}
	for _, t := range conv.Turns {
		toolUses = append(toolUses, t.ToolCalls...)
		if t.ToolResult != nil {
			toolResults = append(toolResults, t.ToolResult)
			if t.ToolResult.Status == model.ResultApprovalRequired {
				execution = t.ToolResult.ExecutionID
			}
		}
	}
	resp := map[string]any{
		"conversation_id": conversationID,
		"response_text":   responseText,
		"tool_uses":       toolUses,
		"tool_results":    toolResults,
	}
	if execution != "" {
		resp["execution"] = execution
	}
	return resp
}

type approveRequest struct {
	ExecutionID string `json:"execution_id"`
	Approved    bool   `json:"approved"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apierr.BadParams("invalid JSON body: "+err.Error()))
		return
	}
	ctx := r.Context()
	pe, err := s.approvals.Get(ctx, req.ExecutionID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if pe == nil {
		writeErr(w, apierr.BadParams("unknown execution id: "+req.ExecutionID))
		return
	}

	decision := approval.Reject
	if req.Approved {
		decision = approval.Approve
	}
	if _, _, err := s.approvals.Decide(ctx, req.ExecutionID, decision); err != nil {
		writeErr(w, err)
		return
	}

	if err := s.driver.ResumeAfterDecision(ctx, pe.ConversationID, req.ExecutionID, "api", decision); err != nil {
		writeErr(w, err)
		return
	}

	conv, err := s.store.GetConversation(ctx, pe.ConversationID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderChatResponse(pe.ConversationID, conv))
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		summaries, err := s.store.ListConversations(r.Context(), 100, 0)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summaries)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleConversationByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/conversations/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		conv, err := s.store.GetConversation(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		if conv == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	case http.MethodDelete:
		if err := s.store.DeleteConversation(r.Context(), id); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	pending, err := s.approvals.List(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := s.store.ListAudit(r.Context(), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, catalog.All())
}

// llmConfigRequest writes the persisted LLM config row (SPEC_FULL.md §3)
// that runServe reads back at the next startup. The API key is accepted
// but never echoed back in a GET response.
type llmConfigRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	APIKey   string `json:"api_key"`
	BaseURL  string `json:"base_url,omitempty"`
}

func (s *Server) handleAdminLLMConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		provider, modelName, _, baseURL, ok, err := s.store.LoadLLMConfig(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"configured": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"configured": true,
			"provider":   provider,
			"model":      modelName,
			"base_url":   baseURL,
		})
	case http.MethodPost:
		var req llmConfigRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, apierr.BadParams("invalid JSON body: "+err.Error()))
			return
		}
		if req.Provider == "" || req.Model == "" || req.APIKey == "" {
			writeErr(w, apierr.BadParams("provider, model, and api_key are required"))
			return
		}
		if err := s.store.SaveLLMConfig(r.Context(), req.Provider, req.Model, req.APIKey, req.BaseURL); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"saved": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
