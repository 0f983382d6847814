package action

import (
	"context"
	"errors"
	"fmt"

	"github.com/capitalize-ai/support-desk/internal/apperr"
	"github.com/capitalize-ai/support-desk/internal/tool"
)

// Subscription statuses written by the executor.
const (
	SubscriptionCancelled = "cancelled"
	SubscriptionPaused    = "paused"
)

// SubscriptionExecutor cancels, pauses or re-plans a customer's subscription.
type SubscriptionExecutor struct {
	log *Log
}

// NewSubscriptionExecutor creates a SubscriptionExecutor.
func NewSubscriptionExecutor(log *Log) *SubscriptionExecutor {
	return &SubscriptionExecutor{log: log}
}

// Execute applies req to the conversation's customer. An unknown customer
// leaves a failed action behind and returns an error wrapping both
// apperr.ErrActionExecutionFailed and apperr.ErrInvalidArgument.
func (e *SubscriptionExecutor) Execute(ctx context.Context, t Target, req tool.Subscription) (Outcome, error) {
	if err := tool.Validate(req); err != nil {
		return Outcome{}, err
	}

	conv := t.Conversation
	data := req.Data()
	data["customer_email"] = conv.CustomerEmail

	customer, lookupErr := t.Queries.GetCustomer(ctx, conv.TenantID, conv.CustomerEmail)
	if lookupErr != nil && !errors.Is(lookupErr, apperr.ErrNotFound) {
		return Outcome{}, fmt.Errorf("load customer: %w", lookupErr)
	}
	if customer != nil {
		data["old_plan"] = customer.SubscriptionPlan
	}

	a := e.log.New(conv, req.ActionType(), data, t.By)
	if err := e.log.Begin(ctx, t.Queries, a); err != nil {
		return Outcome{}, fmt.Errorf("record subscription change: %w", err)
	}
	if err := e.log.Start(ctx, t.Queries, a); err != nil {
		return Outcome{}, fmt.Errorf("start subscription change: %w", err)
	}

	if customer == nil {
		cause := apperr.InvalidArgument("customer %s not found", conv.CustomerEmail)
		if err := e.log.Fail(ctx, t.Queries, a, "Customer not found"); err != nil {
			return Outcome{}, fmt.Errorf("fail subscription change: %w", err)
		}
		return Outcome{Action: a}, apperr.ActionFailed(cause)
	}

	var status, plan, message string
	switch req.Action {
	case tool.OpCancel:
		status = SubscriptionCancelled
		message = "Subscription has been cancelled successfully"
	case tool.OpPause:
		status = SubscriptionPaused
		message = "Subscription has been paused successfully"
	case tool.OpChangePlan:
		plan = req.NewPlan
		message = "Subscription plan changed to " + req.NewPlan
	}

	updated, err := t.Queries.UpdateCustomerSubscription(ctx, conv.TenantID, conv.CustomerEmail, status, plan)
	if err != nil {
		return Outcome{}, fmt.Errorf("update subscription: %w", err)
	}

	result := map[string]any{
		"success":    true,
		"message":    message,
		"action_id":  Reference("SUB", a.ID),
		"new_status": updated.SubscriptionStatus,
		"new_plan":   updated.SubscriptionPlan,
	}
	if err := e.log.Complete(ctx, t.Queries, a, result); err != nil {
		return Outcome{}, fmt.Errorf("complete subscription change: %w", err)
	}
	return Outcome{Action: a, Result: result}, nil
}
