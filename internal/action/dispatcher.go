package action

import (
	"context"

	"github.com/capitalize-ai/support-desk/internal/apperr"
	"github.com/capitalize-ai/support-desk/internal/clock"
	"github.com/capitalize-ai/support-desk/internal/conversation"
	"github.com/capitalize-ai/support-desk/internal/model"
	"github.com/capitalize-ai/support-desk/internal/store"
	"github.com/capitalize-ai/support-desk/internal/tool"
)

// Target is what an executor acts on. Queries is the caller's transaction;
// executors mutate Conversation in memory and the caller persists it.
type Target struct {
	Queries      store.Queries
	Conversation *model.Conversation
	By           Actor
}

// Outcome is the result of one executed tool request.
type Outcome struct {
	Action *model.SupportAction
	Result map[string]any
	// Note is a system message the caller must append after its reply.
	Note           *model.Message
	AlreadyApplied bool
}

// Report converts an execution into the form returned to API callers.
func Report(req tool.Request, out Outcome, err error) model.ActionOutcome {
	r := model.ActionOutcome{
		Tool:           string(req.Tool()),
		ActionType:     req.ActionType(),
		Result:         out.Result,
		AlreadyApplied: out.AlreadyApplied,
	}
	if out.Action != nil {
		r.ActionID = out.Action.ID
		r.Status = out.Action.Status
	}
	if err != nil {
		r.Error = err.Error()
		if r.Status == "" {
			r.Status = model.ActionFailed
		}
	}
	return r
}

// Dispatcher routes tool requests to their executors.
type Dispatcher struct {
	Log          *Log
	Refund       *RefundExecutor
	Subscription *SubscriptionExecutor
	Escalate     *EscalateExecutor
}

// NewDispatcher wires the executors around one Log and state machine.
func NewDispatcher(clk clock.Clock, machine *conversation.Machine) *Dispatcher {
	log := NewLog(clk)
	return &Dispatcher{
		Log:          log,
		Refund:       NewRefundExecutor(log),
		Subscription: NewSubscriptionExecutor(log),
		Escalate:     NewEscalateExecutor(log, machine),
	}
}

// Dispatch executes req against t.
func (d *Dispatcher) Dispatch(ctx context.Context, t Target, req tool.Request) (Outcome, error) {
	switch r := req.(type) {
	case tool.Refund:
		return d.Refund.Execute(ctx, t, r)
	case tool.Subscription:
		return d.Subscription.Execute(ctx, t, r)
	case tool.Escalate:
		return d.Escalate.Execute(ctx, t, r)
	default:
		return Outcome{}, apperr.InvalidArgument("unsupported tool request %T", req)
	}
}
