package action

import (
	"context"
	"errors"
	"fmt"

	"github.com/capitalize-ai/support-desk/internal/apperr"
	"github.com/capitalize-ai/support-desk/internal/conversation"
	"github.com/capitalize-ai/support-desk/internal/model"
	"github.com/capitalize-ai/support-desk/internal/tool"
)

const (
	estimatedWaitTime = "5-10 minutes"
	escalatedMessage  = "Your conversation has been escalated to a human agent. You will be contacted shortly."
)

// EscalateExecutor hands conversations to a human agent. The action it
// records stays pending until a human picks the conversation up.
type EscalateExecutor struct {
	log     *Log
	machine *conversation.Machine
}

// NewEscalateExecutor creates an EscalateExecutor.
func NewEscalateExecutor(log *Log, machine *conversation.Machine) *EscalateExecutor {
	return &EscalateExecutor{log: log, machine: machine}
}

// Execute escalates the conversation. The returned Note must be appended by
// the caller.
//
// On an escalated conversation the open escalation is returned with
// AlreadyApplied set and no Note. A cancelled or failed escalation is not
// open: a new pending one is recorded instead. A conversation that cannot be
// escalated, such as a resolved one, leaves a failed action behind and the
// error wraps both apperr.ErrActionExecutionFailed and apperr.ErrConflict.
func (e *EscalateExecutor) Execute(ctx context.Context, t Target, req tool.Escalate) (Outcome, error) {
	if err := tool.Validate(req); err != nil {
		return Outcome{}, err
	}
	conv := t.Conversation

	if conv.Status == model.StatusEscalated {
		existing, err := t.Queries.LatestAction(ctx, conv.TenantID, conv.ID, model.ActionTypeEscalate)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			return Outcome{
				Result:         map[string]any{"success": true, "message": escalatedMessage},
				AlreadyApplied: true,
			}, nil
		case err != nil:
			return Outcome{}, fmt.Errorf("load escalation: %w", err)
		case !withdrawn(existing.Status):
			return Outcome{Action: existing, Result: existing.ResultData, AlreadyApplied: true}, nil
		}
		a, err := e.record(ctx, t, req, true)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Action: a, Result: a.ResultData}, nil
	}

	note, transitionErr := e.machine.Escalate(conv, req.Reason)
	a, err := e.record(ctx, t, req, transitionErr == nil)
	if err != nil {
		return Outcome{}, err
	}
	if transitionErr != nil {
		if err := e.log.Fail(ctx, t.Queries, a, transitionErr.Error()); err != nil {
			return Outcome{}, fmt.Errorf("fail escalation: %w", err)
		}
		return Outcome{Action: a}, apperr.ActionFailed(transitionErr)
	}
	return Outcome{Action: a, Result: a.ResultData, Note: note}, nil
}

// record saves a pending escalation action for t. Only an accepted
// escalation carries a result.
func (e *EscalateExecutor) record(ctx context.Context, t Target, req tool.Escalate, accepted bool) (*model.SupportAction, error) {
	data := req.Data()
	data["customer_email"] = t.Conversation.CustomerEmail
	a := e.log.New(t.Conversation, req.ActionType(), data, t.By)
	if accepted {
		a.ResultData = map[string]any{
			"success":             true,
			"message":             escalatedMessage,
			"escalation_id":       Reference("ESC", a.ID),
			"estimated_wait_time": estimatedWaitTime,
		}
	}
	if err := e.log.Begin(ctx, t.Queries, a); err != nil {
		return nil, fmt.Errorf("record escalation: %w", err)
	}
	return a, nil
}

// withdrawn reports whether an escalation no longer stands.
func withdrawn(s model.ActionStatus) bool {
	return s == model.ActionCancelled || s == model.ActionFailed
}
