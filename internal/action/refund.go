package action

import (
	"context"
	"fmt"

	"github.com/capitalize-ai/support-desk/internal/tool"
)

// RefundExecutor issues refunds. Refunds are not idempotent: every call
// records and completes a new action.
type RefundExecutor struct {
	log *Log
}

// NewRefundExecutor creates a RefundExecutor.
func NewRefundExecutor(log *Log) *RefundExecutor {
	return &RefundExecutor{log: log}
}

// Execute records and completes a refund for the conversation's customer.
func (e *RefundExecutor) Execute(ctx context.Context, t Target, req tool.Refund) (Outcome, error) {
	if err := tool.Validate(req); err != nil {
		return Outcome{}, err
	}

	data := req.Data()
	data["customer_email"] = t.Conversation.CustomerEmail

	a := e.log.New(t.Conversation, req.ActionType(), data, t.By)
	if err := e.log.Begin(ctx, t.Queries, a); err != nil {
		return Outcome{}, fmt.Errorf("record refund: %w", err)
	}
	if err := e.log.Start(ctx, t.Queries, a); err != nil {
		return Outcome{}, fmt.Errorf("start refund: %w", err)
	}

	amount := req.Amount.StringFixed(2)
	result := map[string]any{
		"success":   true,
		"message":   fmt.Sprintf("Refund of %s has been processed for order %s", amount, req.OrderID),
		"refund_id": Reference("REF", a.ID),
		"amount":    amount,
		"order_id":  req.OrderID,
		"status":    "completed",
	}
	if err := e.log.Complete(ctx, t.Queries, a, result); err != nil {
		return Outcome{}, fmt.Errorf("complete refund: %w", err)
	}
	return Outcome{Action: a, Result: result}, nil
}
