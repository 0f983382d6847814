package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-desk/internal/apperr"
	"github.com/capitalize-ai/support-desk/internal/model"
	"github.com/capitalize-ai/support-desk/internal/store"
)

// recentConversations is the length of the analytics recent-activity list.
const recentConversations = 10

const defaultDepartment = "general"

// AdminService serves tenant administration: analytics, the customer
// directory and system prompt management.
type AdminService struct {
	core
}

// NewAdminService creates an AdminService.
func NewAdminService(deps Dependencies) *AdminService {
	return &AdminService{core: newCore(deps, "admin")}
}

// Analytics returns the tenant's activity counts and its latest conversations.
func (s *AdminService) Analytics(ctx context.Context, tenantID string) (*model.Analytics, error) {
	return s.store.Analytics(ctx, tenantID, recentConversations)
}

// ListCustomers pages the tenant's customers, newest first.
func (s *AdminService) ListCustomers(ctx context.Context, tenantID string, limit, offset int) (*model.ListCustomersResponse, error) {
	f := store.NormalizeFilter(model.ConversationFilter{Limit: limit, Offset: offset})
	customers, err := s.store.ListCustomers(ctx, tenantID, f.Limit+1, f.Offset)
	if err != nil {
		return nil, err
	}
	resp := &model.ListCustomersResponse{Customers: customers}
	if resp.Customers == nil {
		resp.Customers = []model.Customer{}
	}
	if len(customers) > f.Limit {
		resp.Customers = customers[:f.Limit]
		resp.HasMore = true
	}
	return resp, nil
}

// ListPrompts returns the tenant's system prompts, newest first.
func (s *AdminService) ListPrompts(ctx context.Context, tenantID string) ([]model.SystemPrompt, error) {
	prompts, err := s.store.ListSystemPrompts(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if prompts == nil {
		prompts = []model.SystemPrompt{}
	}
	return prompts, nil
}

// GetPrompt returns one system prompt.
func (s *AdminService) GetPrompt(ctx context.Context, tenantID, promptID string) (*model.SystemPrompt, error) {
	return s.store.GetSystemPrompt(ctx, tenantID, promptID)
}

// CreatePrompt adds an active system prompt. Names are unique per tenant.
func (s *AdminService) CreatePrompt(ctx context.Context, tenantID string, req *model.CreateSystemPromptRequest) (*model.SystemPrompt, error) {
	if err := validate.Struct(req); err != nil {
		return nil, apperr.InvalidArgument("create system prompt: %v", err)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || isBlank(req.Content) {
		return nil, apperr.InvalidArgument("system prompt name and content are required")
	}
	department := strings.TrimSpace(req.Department)
	if department == "" {
		department = defaultDepartment
	}

	now := s.clock.Now()
	p := &model.SystemPrompt{
		ID:          uuid.Must(uuid.NewV7()).String(),
		TenantID:    tenantID,
		Name:        name,
		Content:     req.Content,
		Description: req.Description,
		Department:  department,
		IsActive:    true,
		IsDefault:   req.IsDefault,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateSystemPrompt(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("system prompt created",
		zap.String("tenant_id", tenantID),
		zap.String("prompt_id", p.ID),
		zap.String("name", p.Name),
	)
	return p, nil
}

// UpdatePrompt applies the fields set in req.
func (s *AdminService) UpdatePrompt(ctx context.Context, tenantID, promptID string, req *model.UpdateSystemPromptRequest) (*model.SystemPrompt, error) {
	if err := validate.Struct(req); err != nil {
		return nil, apperr.InvalidArgument("update system prompt: %v", err)
	}

	var updated *model.SystemPrompt
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		p, err := q.GetSystemPrompt(ctx, tenantID, promptID)
		if err != nil {
			return err
		}
		if req.Content != nil {
			if isBlank(*req.Content) {
				return apperr.InvalidArgument("system prompt content is empty")
			}
			p.Content = *req.Content
		}
		if req.Description != nil {
			p.Description = *req.Description
		}
		if req.Department != nil {
			p.Department = strings.TrimSpace(*req.Department)
			if p.Department == "" {
				p.Department = defaultDepartment
			}
		}
		if req.IsActive != nil {
			p.IsActive = *req.IsActive
		}
		if req.IsDefault != nil {
			p.IsDefault = *req.IsDefault
		}
		p.UpdatedAt = s.clock.Now()
		if err := q.UpdateSystemPrompt(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeletePrompt removes a system prompt. Conversations bound to it fall back
// to the tenant default.
func (s *AdminService) DeletePrompt(ctx context.Context, tenantID, promptID string) error {
	if err := s.store.DeleteSystemPrompt(ctx, tenantID, promptID); err != nil {
		return err
	}
	s.logger.Info("system prompt deleted",
		zap.String("tenant_id", tenantID),
		zap.String("prompt_id", promptID),
	)
	return nil
}
