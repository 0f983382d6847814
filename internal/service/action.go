package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/support-desk/internal/action"
	"github.com/capitalize-ai/support-desk/internal/apperr"
	"github.com/capitalize-ai/support-desk/internal/model"
	"github.com/capitalize-ai/support-desk/internal/store"
	"github.com/capitalize-ai/support-desk/internal/tool"
	"github.com/capitalize-ai/support-desk/pkg/metrics"
)

// ActionService lets human agents run and manage support actions.
type ActionService struct {
	core
}

// NewActionService creates a new action service.
func NewActionService(deps Dependencies) *ActionService {
	return &ActionService{core: newCore(deps, "actions")}
}

// Execute runs a support action on behalf of a human agent with the same
// executors the AI responder uses. When the executor fails after recording
// the action, the failed action is kept and returned together with the error.
func (s *ActionService) Execute(ctx context.Context, tenantID, sessionID, userID string, req *model.ExecuteActionRequest) (*model.ActionOutcome, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.InvalidArgument("acting user is required")
	}
	if err := validate.Struct(req); err != nil {
		return nil, apperr.InvalidArgument("execute action: %v", err)
	}
	toolReq, err := tool.FromArguments(req.ActionType, req.Arguments)
	if err != nil {
		return nil, err
	}

	var (
		out     action.Outcome
		execErr error
	)
	conv, err := s.mutate(ctx, tenantID, sessionID, func(q store.Queries, conv *model.Conversation) error {
		if conv.Status == model.StatusArchived {
			return apperr.Conflict("conversation %s is archived", sessionID)
		}
		out, execErr = s.dispatcher.Dispatch(ctx, action.Target{Queries: q, Conversation: conv, By: action.Actor{UserID: userID}}, toolReq)
		if execErr != nil && (out.Action == nil || !apperr.Recoverable(execErr)) {
			return execErr
		}
		if out.Note == nil {
			return nil
		}
		return s.machine.Append(ctx, q, conv, out.Note)
	})
	if err != nil {
		return nil, err
	}

	report := action.Report(toolReq, out, execErr)
	if out.Note != nil {
		countMessages(conv, out.Note)
		s.publish(ctx, conv, model.EventTypeEscalated, string(model.SenderHumanAgent), nil)
	}
	if !out.AlreadyApplied {
		metrics.RecordAction(report.ActionType, string(report.Status))
		s.publish(ctx, conv, model.EventTypeActionExecuted, "", map[string]any{
			"action_id":   report.ActionID,
			"action_type": report.ActionType,
			"status":      string(report.Status),
			"user_id":     userID,
		})
	}
	s.logger.Info("support action executed",
		zap.String("tenant_id", tenantID),
		zap.String("session_id", sessionID),
		zap.String("action_type", report.ActionType),
		zap.String("status", string(report.Status)),
		zap.String("user_id", userID),
	)
	return &report, execErr
}

// Cancel withdraws a pending action.
func (s *ActionService) Cancel(ctx context.Context, tenantID, actionID string) (*model.SupportAction, error) {
	var cancelled *model.SupportAction
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		a, err := q.GetAction(ctx, tenantID, actionID)
		if err != nil {
			return err
		}
		if err := s.dispatcher.Log.Cancel(ctx, q, a); err != nil {
			return fmt.Errorf("cancel action: %w", err)
		}
		cancelled = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordAction(cancelled.ActionType, string(cancelled.Status))
	return cancelled, nil
}

// List returns the support actions of a conversation, oldest first.
func (s *ActionService) List(ctx context.Context, tenantID, sessionID string) ([]model.SupportAction, error) {
	conv, err := s.store.GetConversation(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	return s.store.ListActions(ctx, tenantID, conv.ID)
}
