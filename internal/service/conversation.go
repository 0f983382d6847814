package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-desk/internal/action"
	"github.com/capitalize-ai/support-desk/internal/apperr"
	"github.com/capitalize-ai/support-desk/internal/conversation"
	"github.com/capitalize-ai/support-desk/internal/model"
	"github.com/capitalize-ai/support-desk/internal/store"
	"github.com/capitalize-ai/support-desk/internal/tool"
	"github.com/capitalize-ai/support-desk/pkg/metrics"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ConversationService handles conversation lifecycle operations.
type ConversationService struct {
	core
}

// NewConversationService creates a new conversation service.
func NewConversationService(deps Dependencies) *ConversationService {
	return &ConversationService{core: newCore(deps, "conversations")}
}

// Start creates a conversation for a customer, creating the customer record
// on first contact. The returned conversation carries the new session id.
func (s *ConversationService) Start(ctx context.Context, tenantID string, req *model.StartConversationRequest) (*model.Conversation, error) {
	if err := validate.Struct(req); err != nil {
		return nil, apperr.InvalidArgument("start conversation: %v", err)
	}

	now := s.clock.Now()
	conv := &model.Conversation{
		ID:                 uuid.Must(uuid.NewV7()).String(),
		TenantID:           tenantID,
		SessionID:          uuid.NewString(),
		CustomerEmail:      strings.ToLower(strings.TrimSpace(req.CustomerEmail)),
		CustomerName:       strings.TrimSpace(req.CustomerName),
		CustomerExternalID: req.CustomerExternalID,
		Status:             model.StatusActive,
		Channel:            req.Channel,
		Priority:           req.Priority,
		AIEnabled:          !req.DisableAI,
		Metadata:           req.Metadata,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if conv.Channel == "" {
		conv.Channel = model.ChannelWebChat
	}
	if conv.Priority == "" {
		conv.Priority = model.PriorityNormal
	}
	if req.SystemPromptID != "" {
		id := req.SystemPromptID
		conv.SystemPromptID = &id
	}

	err := s.store.WithTx(ctx, func(q store.Queries) error {
		if conv.SystemPromptID != nil {
			_, err := q.GetSystemPrompt(ctx, tenantID, *conv.SystemPromptID)
			if errors.Is(err, apperr.ErrNotFound) {
				return apperr.InvalidArgument("unknown system prompt %s", *conv.SystemPromptID)
			}
			if err != nil {
				return fmt.Errorf("load system prompt: %w", err)
			}
		}
		customer, err := q.UpsertCustomer(ctx, &model.Customer{
			TenantID:   tenantID,
			Email:      conv.CustomerEmail,
			Name:       conv.CustomerName,
			ExternalID: conv.CustomerExternalID,
		})
		if err != nil {
			return fmt.Errorf("upsert customer: %w", err)
		}
		if conv.CustomerName == "" {
			conv.CustomerName = customer.Name
		}
		if err := q.CreateConversation(ctx, conv); err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		return q.RecordCustomerConversation(ctx, tenantID, conv.CustomerEmail, now)
	})
	if err != nil {
		return nil, err
	}

	metrics.ConversationsTotal.WithLabelValues(tenantID).Inc()
	s.publish(ctx, conv, model.EventTypeStarted, "", map[string]any{"channel": string(conv.Channel)})
	s.logger.Info("conversation started",
		zap.String("tenant_id", tenantID),
		zap.String("session_id", conv.SessionID),
		zap.String("channel", string(conv.Channel)),
	)
	return conv, nil
}

// Get returns a conversation, archived ones included.
func (s *ConversationService) Get(ctx context.Context, tenantID, sessionID string) (*model.Conversation, error) {
	return s.store.GetConversation(ctx, tenantID, sessionID)
}

// History returns the messages of a conversation in order.
func (s *ConversationService) History(ctx context.Context, tenantID, sessionID string) ([]model.Message, error) {
	conv, err := s.store.GetConversation(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, tenantID, conv.ID)
}

// Summary returns counters and timing metrics of a conversation.
func (s *ConversationService) Summary(ctx context.Context, tenantID, sessionID string) (*model.ConversationSummary, error) {
	conv, err := s.store.GetConversation(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.CountMessages(ctx, tenantID, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	actions, err := s.store.ListActions(ctx, tenantID, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	return &model.ConversationSummary{
		SessionID:                conv.SessionID,
		CustomerEmail:            conv.CustomerEmail,
		CustomerName:             conv.CustomerName,
		Status:                   conv.Status,
		AIEnabled:                conv.AIEnabled,
		MessageCount:             messages,
		ActionCount:              len(actions),
		FirstResponseTimeSeconds: conv.FirstResponseTimeSeconds,
		ResolutionTimeSeconds:    conv.ResolutionTimeSeconds,
		SatisfactionScore:        conv.SatisfactionScore,
		CreatedAt:                conv.CreatedAt,
		UpdatedAt:                conv.UpdatedAt,
		LastMessageAt:            conv.LastMessageAt,
	}, nil
}

// List returns a page of the tenant's conversations, newest first.
// Archived conversations are listed only when filtered for explicitly.
func (s *ConversationService) List(ctx context.Context, tenantID string, filter model.ConversationFilter) (*model.ListConversationsResponse, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.InvalidArgument("unknown status %q", filter.Status)
	}
	filter = store.NormalizeFilter(filter)
	limit := filter.Limit
	filter.Limit++

	convs, err := s.store.ListConversations(ctx, tenantID, filter)
	if err != nil {
		return nil, err
	}
	resp := &model.ListConversationsResponse{Conversations: convs}
	if len(convs) > limit {
		resp.Conversations = convs[:limit]
		resp.HasMore = true
	}
	return resp, nil
}

// Escalate hands the conversation to a human agent. Escalating an escalated
// conversation returns the existing escalation.
func (s *ConversationService) Escalate(ctx context.Context, tenantID, sessionID, reason string, by action.Actor) (*model.EscalationResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Customer requested a human agent"
	}

	var out action.Outcome
	conv, err := s.mutate(ctx, tenantID, sessionID, func(q store.Queries, conv *model.Conversation) error {
		if conv.Status == model.StatusArchived {
			return apperr.NotFound("conversation %s", sessionID)
		}
		if conv.Status != model.StatusEscalated && !conversation.CanTransition(conv.Status, model.StatusEscalated) {
			return apperr.Conflict("cannot escalate a %s conversation", conv.Status)
		}
		var err error
		out, err = s.dispatcher.Escalate.Execute(ctx, action.Target{Queries: q, Conversation: conv, By: by}, tool.Escalate{Reason: reason})
		if err != nil {
			return err
		}
		if out.Note == nil {
			return nil
		}
		return s.machine.Append(ctx, q, conv, out.Note)
	})
	if err != nil {
		return nil, err
	}

	result := &model.EscalationResult{
		Success:          true,
		AlreadyEscalated: out.AlreadyApplied,
	}
	result.Message, _ = out.Result["message"].(string)
	result.EscalationID, _ = out.Result["escalation_id"].(string)
	result.EstimatedWaitTime, _ = out.Result["estimated_wait_time"].(string)

	if !out.AlreadyApplied {
		countMessages(conv, out.Note)
		metrics.RecordAction(model.ActionTypeEscalate, string(out.Action.Status))
		s.publish(ctx, conv, model.EventTypeEscalated, reason, map[string]any{"escalation_id": result.EscalationID})
		s.logger.Info("conversation escalated",
			zap.String("tenant_id", tenantID),
			zap.String("session_id", sessionID),
			zap.String("reason", reason),
		)
	}
	return result, nil
}

// Resolve closes the conversation.
func (s *ConversationService) Resolve(ctx context.Context, tenantID, sessionID string) (*model.Conversation, error) {
	conv, err := s.transition(ctx, tenantID, sessionID, s.machine.Resolve)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, conv, model.EventTypeResolved, "", nil)
	return conv, nil
}

// Reopen returns an escalated conversation to the AI assistant.
func (s *ConversationService) Reopen(ctx context.Context, tenantID, sessionID string) (*model.Conversation, error) {
	conv, err := s.transition(ctx, tenantID, sessionID, s.machine.Reopen)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, conv, model.EventTypeReopened, "", nil)
	return conv, nil
}

func (s *ConversationService) transition(ctx context.Context, tenantID, sessionID string, apply func(*model.Conversation) (*model.Message, error)) (*model.Conversation, error) {
	var note *model.Message
	conv, err := s.mutate(ctx, tenantID, sessionID, func(q store.Queries, conv *model.Conversation) error {
		var err error
		if note, err = apply(conv); err != nil {
			return err
		}
		return s.machine.Append(ctx, q, conv, note)
	})
	if err != nil {
		return nil, err
	}
	countMessages(conv, note)
	return conv, nil
}

// Archive soft-deletes the conversation. It stays readable but takes no
// further messages and is hidden from default listings.
func (s *ConversationService) Archive(ctx context.Context, tenantID, sessionID string) (*model.Conversation, error) {
	conv, err := s.mutate(ctx, tenantID, sessionID, func(q store.Queries, conv *model.Conversation) error {
		if err := s.machine.Archive(conv); err != nil {
			return err
		}
		return s.machine.Append(ctx, q, conv)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, conv, model.EventTypeArchived, "", nil)
	return conv, nil
}

// Purge permanently deletes the conversation with its messages and actions.
func (s *ConversationService) Purge(ctx context.Context, tenantID, sessionID string) error {
	_, err := s.mutate(ctx, tenantID, sessionID, func(q store.Queries, conv *model.Conversation) error {
		return q.DeleteConversation(ctx, tenantID, conv.ID)
	})
	if err != nil {
		return err
	}
	s.logger.ForConversation(tenantID, sessionID).Info("conversation purged")
	return nil
}

// Assign gives the conversation to a human agent.
func (s *ConversationService) Assign(ctx context.Context, tenantID, sessionID, userID string) (*model.Conversation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperr.InvalidArgument("assignee is required")
	}
	return s.mutate(ctx, tenantID, sessionID, func(q store.Queries, conv *model.Conversation) error {
		if conv.Status == model.StatusArchived {
			return apperr.Conflict("conversation %s is archived", sessionID)
		}
		now := s.clock.Now()
		conv.AssignedToUserID = &userID
		conv.AssignedAt = &now
		conv.UpdatedAt = now
		return q.UpdateConversation(ctx, conv)
	})
}

// Rate records the customer's satisfaction score, 1 to 5.
func (s *ConversationService) Rate(ctx context.Context, tenantID, sessionID string, score int) (*model.Conversation, error) {
	if score < 1 || score > 5 {
		return nil, apperr.InvalidArgument("satisfaction score must be between 1 and 5, got %d", score)
	}
	return s.mutate(ctx, tenantID, sessionID, func(q store.Queries, conv *model.Conversation) error {
		conv.SatisfactionScore = &score
		conv.UpdatedAt = s.clock.Now()
		return q.UpdateConversation(ctx, conv)
	})
}

// SetAIEnabled turns the AI responder on or off for the conversation.
func (s *ConversationService) SetAIEnabled(ctx context.Context, tenantID, sessionID string, enabled bool) (*model.Conversation, error) {
	return s.mutate(ctx, tenantID, sessionID, func(q store.Queries, conv *model.Conversation) error {
		if conv.Status == model.StatusArchived {
			return apperr.Conflict("conversation %s is archived", sessionID)
		}
		conv.AIEnabled = enabled
		conv.UpdatedAt = s.clock.Now()
		return q.UpdateConversation(ctx, conv)
	})
}

// PostAgentMessage records a reply written by a human agent.
func (s *ConversationService) PostAgentMessage(ctx context.Context, tenantID, sessionID, userID string, req *model.AgentMessageRequest) (*model.Message, error) {
	if err := validate.Struct(req); err != nil {
		return nil, apperr.InvalidArgument("agent message: %v", err)
	}
	if err := validateContent(req.Content); err != nil {
		return nil, err
	}

	var msg *model.Message
	conv, err := s.mutate(ctx, tenantID, sessionID, func(q store.Queries, conv *model.Conversation) error {
		msg = conversation.NewMessage(conv, model.SenderHumanAgent, req.Content)
		msg.SenderID = userID
		msg.SenderName = req.SenderName
		if req.ContentType != "" {
			msg.ContentType = req.ContentType
		}
		return s.machine.Append(ctx, q, conv, msg)
	})
	if err != nil {
		return nil, err
	}

	countMessages(conv, msg)
	s.publish(ctx, conv, model.EventTypeAgentMessage, "", map[string]any{
		"message_id": msg.ID,
		"sender_id":  userID,
	})
	return msg, nil
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
