// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/support-desk/internal/apperr"
	"github.com/capitalize-ai/support-desk/internal/middleware"
	"github.com/capitalize-ai/support-desk/internal/model"
	"github.com/capitalize-ai/support-desk/internal/service"
	"github.com/capitalize-ai/support-desk/pkg/logger"
)

// ConversationHandler handles conversation management endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	actions *service.ActionService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, actions *service.ActionService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		actions: actions,
		logger:  log,
	}
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter := model.ConversationFilter{
		Status:        model.Status(q.Get("status")),
		CustomerEmail: q.Get("customer_email"),
	}
	if l := q.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}
	if o := q.Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			filter.Offset = parsed
		}
	}

	resp, err := h.service.List(ctx, middleware.GetTenantID(ctx), filter)
	if err != nil {
		writeServiceError(w, h.logger, "list conversations", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/conversations/{session}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "get conversation", func(tenantID, sessionID string) (any, error) {
		return h.service.Get(r.Context(), tenantID, sessionID)
	})
}

// Resolve handles POST /api/v1/conversations/{session}/resolve
func (h *ConversationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "resolve", func(tenantID, sessionID string) (any, error) {
		return h.service.Resolve(r.Context(), tenantID, sessionID)
	})
}

// Reopen handles POST /api/v1/conversations/{session}/reopen
func (h *ConversationHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "reopen", func(tenantID, sessionID string) (any, error) {
		return h.service.Reopen(r.Context(), tenantID, sessionID)
	})
}

// Archive handles POST /api/v1/conversations/{session}/archive
func (h *ConversationHandler) Archive(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "archive", func(tenantID, sessionID string) (any, error) {
		return h.service.Archive(r.Context(), tenantID, sessionID)
	})
}

type assignRequest struct {
	UserID string `json:"user_id"`
}

// Assign handles POST /api/v1/conversations/{session}/assign. Without a
// user_id the calling agent takes the conversation.
func (h *ConversationHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, "assign", err)
		return
	}
	if req.UserID == "" {
		req.UserID = middleware.GetUserID(r.Context())
	}
	h.respond(w, r, "assign", func(tenantID, sessionID string) (any, error) {
		if err := requireField("user_id", req.UserID); err != nil {
			return nil, err
		}
		return h.service.Assign(r.Context(), tenantID, sessionID, req.UserID)
	})
}

type rateRequest struct {
	Score int `json:"score"`
}

// Rate handles POST /api/v1/conversations/{session}/rate
func (h *ConversationHandler) Rate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, "rate", err)
		return
	}
	h.respond(w, r, "rate", func(tenantID, sessionID string) (any, error) {
		return h.service.Rate(r.Context(), tenantID, sessionID, req.Score)
	})
}

type aiRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetAI handles POST /api/v1/conversations/{session}/ai
func (h *ConversationHandler) SetAI(w http.ResponseWriter, r *http.Request) {
	var req aiRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, "set ai", err)
		return
	}
	h.respond(w, r, "set ai", func(tenantID, sessionID string) (any, error) {
		if req.Enabled == nil {
			return nil, apperr.InvalidArgument("enabled is required")
		}
		return h.service.SetAIEnabled(r.Context(), tenantID, sessionID, *req.Enabled)
	})
}

// AgentMessage handles POST /api/v1/conversations/{session}/agent-messages
func (h *ConversationHandler) AgentMessage(w http.ResponseWriter, r *http.Request) {
	var req model.AgentMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, "post agent message", err)
		return
	}
	h.respondStatus(w, r, http.StatusCreated, "post agent message", func(tenantID, sessionID string) (any, error) {
		userID, err := agentID(r)
		if err != nil {
			return nil, err
		}
		return h.service.PostAgentMessage(r.Context(), tenantID, sessionID, userID, &req)
	})
}

// Delete handles DELETE /api/v1/conversations/{session}
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.service.Purge(r.Context(), middleware.GetTenantID(r.Context()), sessionID); err != nil {
		writeServiceError(w, h.logger, "purge", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExecuteAction handles POST /api/v1/conversations/{session}/actions
func (h *ConversationHandler) ExecuteAction(w http.ResponseWriter, r *http.Request) {
	var req model.ExecuteActionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, "execute action", err)
		return
	}
	sessionID := chi.URLParam(r, "session")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID, err := agentID(r)
	if err != nil {
		writeServiceError(w, h.logger, "execute action", err)
		return
	}

	outcome, err := h.actions.Execute(r.Context(), middleware.GetTenantID(r.Context()), sessionID, userID, &req)
	if err != nil {
		if outcome != nil {
			// The failed action was recorded; report it with the failure.
			writeJSON(w, statusFor(err), outcome)
			return
		}
		writeServiceError(w, h.logger, "execute action", err)
		return
	}
	writeJSON(w, http.StatusCreated, outcome)
}

// ListActions handles GET /api/v1/conversations/{session}/actions
func (h *ConversationHandler) ListActions(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "list actions", func(tenantID, sessionID string) (any, error) {
		actions, err := h.actions.List(r.Context(), tenantID, sessionID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"actions": actions}, nil
	})
}

// CancelAction handles POST /api/v1/actions/{id}/cancel
func (h *ConversationHandler) CancelAction(w http.ResponseWriter, r *http.Request) {
	actionID := chi.URLParam(r, "id")
	if err := middleware.ValidateActionID(actionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cancelled, err := h.actions.Cancel(r.Context(), middleware.GetTenantID(r.Context()), actionID)
	if err != nil {
		writeServiceError(w, h.logger, "cancel action", err)
		return
	}
	writeJSON(w, http.StatusOK, cancelled)
}

func (h *ConversationHandler) respond(w http.ResponseWriter, r *http.Request, op string, fn func(tenantID, sessionID string) (any, error)) {
	h.respondStatus(w, r, http.StatusOK, op, fn)
}

func (h *ConversationHandler) respondStatus(w http.ResponseWriter, r *http.Request, status int, op string, fn func(tenantID, sessionID string) (any, error)) {
	sessionID := chi.URLParam(r, "session")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := fn(middleware.GetTenantID(r.Context()), sessionID)
	if err != nil {
		writeServiceError(w, h.logger, op, err)
		return
	}
	writeJSON(w, status, v)
}
