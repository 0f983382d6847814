// Package action executes support actions requested by the AI responder or
// a human agent and keeps their audit log.
package action

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/capitalize-ai/support-desk/internal/apperr"
	"github.com/capitalize-ai/support-desk/internal/clock"
	"github.com/capitalize-ai/support-desk/internal/model"
	"github.com/capitalize-ai/support-desk/internal/store"
)

// Actor identifies who requested an action. The zero Actor is the AI responder.
type Actor struct {
	// UserID is the human agent acting, if any.
	UserID string
	// Customer marks a request made by the customer directly, such as asking
	// for a human from the chat widget.
	Customer bool
}

// IsAI reports whether the AI responder is acting.
func (a Actor) IsAI() bool { return a.UserID == "" && !a.Customer }

// Log records support actions and enforces their lifecycle:
// pending -> in_progress -> completed|failed, pending -> cancelled|failed.
// Terminal actions are never modified.
type Log struct {
	clock clock.Clock
}

// NewLog creates a Log.
func NewLog(clk clock.Clock) *Log {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Log{clock: clk}
}

// New builds an unsaved pending action on conv.
func (l *Log) New(conv *model.Conversation, actionType string, data map[string]any, by Actor) *model.SupportAction {
	now := l.clock.Now()
	a := &model.SupportAction{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		TenantID:       conv.TenantID,
		ActionType:     actionType,
		ActionData:     data,
		Status:         model.ActionPending,
		ExecutedByAI:   by.IsAI(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if by.UserID != "" {
		id := by.UserID
		a.ExecutedByUserID = &id
	}
	return a
}

// Begin records a as pending.
func (l *Log) Begin(ctx context.Context, q store.Queries, a *model.SupportAction) error {
	if a.Status != model.ActionPending {
		return apperr.Conflict("new action %s must be pending, not %s", a.ID, a.Status)
	}
	return q.CreateAction(ctx, a)
}

// Start moves a pending action to in_progress.
func (l *Log) Start(ctx context.Context, q store.Queries, a *model.SupportAction) error {
	return l.move(ctx, q, a, model.ActionInProgress, func(*model.SupportAction) {})
}

// Complete records a successful side effect.
func (l *Log) Complete(ctx context.Context, q store.Queries, a *model.SupportAction, result map[string]any) error {
	return l.move(ctx, q, a, model.ActionCompleted, func(a *model.SupportAction) {
		now := a.UpdatedAt
		a.ResultData = result
		a.ExecutedAt = &now
	})
}

// Fail records a failed side effect with its reason.
func (l *Log) Fail(ctx context.Context, q store.Queries, a *model.SupportAction, reason string) error {
	return l.move(ctx, q, a, model.ActionFailed, func(a *model.SupportAction) {
		now := a.UpdatedAt
		a.ErrorMessage = reason
		a.ExecutedAt = &now
	})
}

// Cancel withdraws a pending action.
func (l *Log) Cancel(ctx context.Context, q store.Queries, a *model.SupportAction) error {
	return l.move(ctx, q, a, model.ActionCancelled, func(*model.SupportAction) {})
}

func (l *Log) move(ctx context.Context, q store.Queries, a *model.SupportAction, next model.ActionStatus, apply func(*model.SupportAction)) error {
	if !a.Status.CanTransition(next) {
		return apperr.Conflict("action %s cannot move from %s to %s", a.ID, a.Status, next)
	}
	updated := a.Clone()
	updated.Status = next
	updated.UpdatedAt = l.clock.Now()
	apply(updated)
	if err := q.UpdateAction(ctx, updated); err != nil {
		return err
	}
	*a = *updated
	return nil
}

// Reference derives a customer-facing reference such as REF-0195F3A2... from
// an action id. It is deterministic in the id.
func Reference(prefix, actionID string) string {
	return prefix + "-" + strings.ToUpper(strings.ReplaceAll(actionID, "-", ""))
}
