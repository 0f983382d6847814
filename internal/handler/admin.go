package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/support-desk/internal/middleware"
	"github.com/capitalize-ai/support-desk/internal/model"
	"github.com/capitalize-ai/support-desk/internal/service"
	"github.com/capitalize-ai/support-desk/pkg/logger"
)

// AdminHandler serves tenant administration endpoints.
type AdminHandler struct {
	service *service.AdminService
	logger  *logger.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(svc *service.AdminService, log *logger.Logger) *AdminHandler {
	return &AdminHandler{service: svc, logger: log}
}

// Analytics handles GET /api/v1/admin/analytics
func (h *AdminHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	analytics, err := h.service.Analytics(ctx, middleware.GetTenantID(ctx))
	if err != nil {
		writeServiceError(w, h.logger, "analytics", err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

// Customers handles GET /api/v1/admin/customers
func (h *AdminHandler) Customers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	resp, err := h.service.ListCustomers(ctx, middleware.GetTenantID(ctx), limit, offset)
	if err != nil {
		writeServiceError(w, h.logger, "list customers", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListPrompts handles GET /api/v1/admin/prompts
func (h *AdminHandler) ListPrompts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	prompts, err := h.service.ListPrompts(ctx, middleware.GetTenantID(ctx))
	if err != nil {
		writeServiceError(w, h.logger, "list prompts", err)
		return
	}
	writeJSON(w, http.StatusOK, prompts)
}

// CreatePrompt handles POST /api/v1/admin/prompts
func (h *AdminHandler) CreatePrompt(w http.ResponseWriter, r *http.Request) {
	var req model.CreateSystemPromptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, "create prompt", err)
		return
	}
	ctx := r.Context()
	prompt, err := h.service.CreatePrompt(ctx, middleware.GetTenantID(ctx), &req)
	if err != nil {
		writeServiceError(w, h.logger, "create prompt", err)
		return
	}
	writeJSON(w, http.StatusCreated, prompt)
}

// GetPrompt handles GET /api/v1/admin/prompts/{id}
func (h *AdminHandler) GetPrompt(w http.ResponseWriter, r *http.Request) {
	h.withPrompt(w, r, "get prompt", func(tenantID, promptID string) (any, error) {
		return h.service.GetPrompt(r.Context(), tenantID, promptID)
	})
}

// UpdatePrompt handles PUT /api/v1/admin/prompts/{id}
func (h *AdminHandler) UpdatePrompt(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateSystemPromptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, "update prompt", err)
		return
	}
	h.withPrompt(w, r, "update prompt", func(tenantID, promptID string) (any, error) {
		return h.service.UpdatePrompt(r.Context(), tenantID, promptID, &req)
	})
}

// DeletePrompt handles DELETE /api/v1/admin/prompts/{id}
func (h *AdminHandler) DeletePrompt(w http.ResponseWriter, r *http.Request) {
	h.withPrompt(w, r, "delete prompt", func(tenantID, promptID string) (any, error) {
		if err := h.service.DeletePrompt(r.Context(), tenantID, promptID); err != nil {
			return nil, err
		}
		return map[string]string{"message": "Prompt deleted successfully"}, nil
	})
}

func (h *AdminHandler) withPrompt(w http.ResponseWriter, r *http.Request, op string, fn func(tenantID, promptID string) (any, error)) {
	promptID := chi.URLParam(r, "id")
	if err := middleware.ValidatePromptID(promptID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := fn(middleware.GetTenantID(r.Context()), promptID)
	if err != nil {
		writeServiceError(w, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
