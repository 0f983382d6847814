package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/support-desk/internal/action"
	"github.com/capitalize-ai/support-desk/internal/apperr"
	"github.com/capitalize-ai/support-desk/internal/middleware"
	"github.com/capitalize-ai/support-desk/internal/model"
	"github.com/capitalize-ai/support-desk/internal/service"
	"github.com/capitalize-ai/support-desk/pkg/logger"
)

// ChatHandler serves the customer-facing chat endpoints.
type ChatHandler struct {
	conversations *service.ConversationService
	orchestrator  *service.Orchestrator
	logger        *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(convs *service.ConversationService, orch *service.Orchestrator, log *logger.Logger) *ChatHandler {
	return &ChatHandler{conversations: convs, orchestrator: orch, logger: log}
}

type startResponse struct {
	SessionID    string              `json:"session_id"`
	Conversation *model.Conversation `json:"conversation"`
}

type escalateRequest struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

type historyResponse struct {
	SessionID string          `json:"session_id"`
	Messages  []model.Message `json:"messages"`
}

// Start handles POST /api/v1/chat/start
func (h *ChatHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req model.StartConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, "start conversation", err)
		return
	}

	conv, err := h.conversations.Start(r.Context(), middleware.GetTenantID(r.Context()), &req)
	if err != nil {
		writeServiceError(w, h.logger, "start conversation", err)
		return
	}
	writeJSON(w, http.StatusCreated, startResponse{SessionID: conv.SessionID, Conversation: conv})
}

// Message handles POST /api/v1/chat/message
func (h *ChatHandler) Message(w http.ResponseWriter, r *http.Request) {
	var req model.SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, "handle message", err)
		return
	}
	if err := middleware.ValidateSessionID(req.SessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.orchestrator.HandleCustomerMessage(r.Context(), middleware.GetTenantID(r.Context()), req.SessionID, req.Content)
	if err != nil {
		writeServiceError(w, h.logger, "handle message", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// History handles GET /api/v1/chat/history/{session}
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs, err := h.conversations.History(r.Context(), middleware.GetTenantID(r.Context()), sessionID)
	if err != nil {
		writeServiceError(w, h.logger, "load history", err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{SessionID: sessionID, Messages: msgs})
}

// Escalate handles POST /api/v1/chat/escalate
func (h *ChatHandler) Escalate(w http.ResponseWriter, r *http.Request) {
	var req escalateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, "escalate", err)
		return
	}
	if err := middleware.ValidateSessionID(req.SessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	result, err := h.conversations.Escalate(ctx, middleware.GetTenantID(ctx), req.SessionID, req.Reason, requester(r))
	if err != nil {
		writeServiceError(w, h.logger, "escalate", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Summary handles GET /api/v1/chat/summary/{session}
func (h *ChatHandler) Summary(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.conversations.Summary(r.Context(), middleware.GetTenantID(r.Context()), sessionID)
	if err != nil {
		writeServiceError(w, h.logger, "summarize", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// requester is the agent calling when the token carries the agent scope,
// otherwise the customer.
func requester(r *http.Request) action.Actor {
	ctx := r.Context()
	if middleware.HasScope(ctx, middleware.ScopeAgent) && middleware.GetUserID(ctx) != "" {
		return action.Actor{UserID: middleware.GetUserID(ctx)}
	}
	return action.Actor{Customer: true}
}

// agentID returns the calling agent, required on management routes.
func agentID(r *http.Request) (string, error) {
	id := middleware.GetUserID(r.Context())
	if id == "" {
		return "", apperr.InvalidArgument("token has no subject")
	}
	return id, nil
}
