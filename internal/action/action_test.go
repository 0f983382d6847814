package action_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/support-desk/internal/action"
	"github.com/capitalize-ai/support-desk/internal/apperr"
	"github.com/capitalize-ai/support-desk/internal/clock"
	"github.com/capitalize-ai/support-desk/internal/conversation"
	"github.com/capitalize-ai/support-desk/internal/model"
	"github.com/capitalize-ai/support-desk/internal/store"
	"github.com/capitalize-ai/support-desk/internal/tool"
)

type fixture struct {
	ctx   context.Context
	store *store.MemoryStore
	disp  *action.Dispatcher
	conv  *model.Conversation
}

func newFixture(t *testing.T, withCustomer bool) *fixture {
	t.Helper()
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	s := store.NewMemoryStore()

	conv := &model.Conversation{
		ID:            uuid.NewString(),
		TenantID:      "t1",
		SessionID:     uuid.NewString(),
		CustomerEmail: "jane@example.com",
		Status:        model.StatusActive,
		AIEnabled:     true,
		CreatedAt:     clk.Now(),
		UpdatedAt:     clk.Now(),
	}
	require.NoError(t, s.CreateConversation(ctx, conv))
	if withCustomer {
		_, err := s.UpsertCustomer(ctx, &model.Customer{
			TenantID: "t1", Email: "jane@example.com", SubscriptionStatus: "active", SubscriptionPlan: "basic",
		})
		require.NoError(t, err)
	}

	return &fixture{
		ctx:   ctx,
		store: s,
		disp:  action.NewDispatcher(clk, conversation.NewMachine(clk)),
		conv:  conv,
	}
}

func (f *fixture) target() action.Target {
	return action.Target{Queries: f.store, Conversation: f.conv}
}

func TestRefund_Completes(t *testing.T) {
	f := newFixture(t, true)

	out, err := f.disp.Dispatch(f.ctx, f.target(), tool.Refund{
		Amount: decimal.RequireFromString("10"), Reason: "damaged", OrderID: "O1",
	})
	require.NoError(t, err)
	require.NotNil(t, out.Action)
	assert.Equal(t, model.ActionCompleted, out.Action.Status)
	assert.True(t, out.Action.ExecutedByAI)
	assert.NotNil(t, out.Action.ExecutedAt)

	refundID := out.Result["refund_id"].(string)
	assert.Equal(t, action.Reference("REF", out.Action.ID), refundID)
	assert.True(t, strings.HasPrefix(refundID, "REF-"))
	assert.Equal(t, "10.00", out.Result["amount"])

	stored, err := f.store.GetAction(f.ctx, "t1", out.Action.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ActionCompleted, stored.Status)
	assert.Equal(t, model.ActionTypeRefund, stored.ActionType)
	assert.Equal(t, "jane@example.com", stored.ActionData["customer_email"])
}

func TestRefund_InvalidCreatesNothing(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.disp.Dispatch(f.ctx, f.target(), tool.Refund{Amount: decimal.Zero, Reason: "r", OrderID: "O1"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	actions, err := f.store.ListActions(f.ctx, "t1", f.conv.ID)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestSubscription_ChangePlanWithoutPlan(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.disp.Dispatch(f.ctx, f.target(), tool.Subscription{Action: tool.OpChangePlan})
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)

	actions, err := f.store.ListActions(f.ctx, "t1", f.conv.ID)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestSubscription_Operations(t *testing.T) {
	tests := []struct {
		name       string
		req        tool.Subscription
		wantStatus string
		wantPlan   string
	}{
		{"cancel", tool.Subscription{Action: tool.OpCancel}, "cancelled", "basic"},
		{"pause", tool.Subscription{Action: tool.OpPause}, "paused", "basic"},
		{"change plan", tool.Subscription{Action: tool.OpChangePlan, NewPlan: "pro"}, "active", "pro"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)

			out, err := f.disp.Dispatch(f.ctx, f.target(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, model.ActionCompleted, out.Action.Status)
			assert.Equal(t, "subscription_"+string(tt.req.Action), out.Action.ActionType)
			assert.Equal(t, "basic", out.Action.ActionData["old_plan"])
			assert.Equal(t, tt.wantStatus, out.Result["new_status"])
			assert.Equal(t, tt.wantPlan, out.Result["new_plan"])
			assert.True(t, strings.HasPrefix(out.Result["action_id"].(string), "SUB-"))

			c, err := f.store.GetCustomer(f.ctx, "t1", "jane@example.com")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, c.SubscriptionStatus)
			assert.Equal(t, tt.wantPlan, c.SubscriptionPlan)
		})
	}
}

func TestSubscription_UnknownCustomer(t *testing.T) {
	f := newFixture(t, false)

	out, err := f.disp.Dispatch(f.ctx, f.target(), tool.Subscription{Action: tool.OpCancel})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrActionExecutionFailed)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	assert.True(t, apperr.Recoverable(err))

	require.NotNil(t, out.Action)
	assert.Equal(t, model.ActionFailed, out.Action.Status)
	assert.NotEmpty(t, out.Action.ErrorMessage)

	report := action.Report(tool.Subscription{Action: tool.OpCancel}, out, err)
	assert.Equal(t, model.ActionFailed, report.Status)
	assert.NotEmpty(t, report.Error)
}

func TestEscalate_Idempotent(t *testing.T) {
	f := newFixture(t, true)
	req := tool.Escalate{Reason: "customer asked for a human", Summary: "refund dispute"}

	first, err := f.disp.Dispatch(f.ctx, f.target(), req)
	require.NoError(t, err)
	require.NotNil(t, first.Note)
	assert.Equal(t, model.StatusEscalated, f.conv.Status)
	assert.Equal(t, model.ActionPending, first.Action.Status)
	assert.Equal(t, "5-10 minutes", first.Result["estimated_wait_time"])
	assert.Equal(t, action.Reference("ESC", first.Action.ID), first.Result["escalation_id"])

	second, err := f.disp.Dispatch(f.ctx, f.target(), req)
	require.NoError(t, err)
	assert.True(t, second.AlreadyApplied)
	assert.Nil(t, second.Note)
	assert.Equal(t, first.Action.ID, second.Action.ID)
	assert.Equal(t, first.Result["escalation_id"], second.Result["escalation_id"])

	actions, err := f.store.ListActions(f.ctx, "t1", f.conv.ID)
	require.NoError(t, err)
	assert.Len(t, actions, 1)
}

func TestEscalate_ResolvedRecordsFailure(t *testing.T) {
	f := newFixture(t, true)
	f.conv.Status = model.StatusResolved

	out, err := f.disp.Dispatch(f.ctx, f.target(), tool.Escalate{Reason: "late"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrActionExecutionFailed)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.True(t, apperr.Recoverable(err))
	assert.Equal(t, model.StatusResolved, f.conv.Status)
	assert.Nil(t, out.Note)

	require.NotNil(t, out.Action)
	assert.Equal(t, model.ActionFailed, out.Action.Status)
	assert.NotEmpty(t, out.Action.ErrorMessage)
	assert.Empty(t, out.Action.ResultData)

	stored, err := f.store.GetAction(f.ctx, "t1", out.Action.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ActionFailed, stored.Status)

	report := action.Report(tool.Escalate{Reason: "late"}, out, err)
	assert.Equal(t, model.ActionFailed, report.Status)
}

func TestEscalate_CancelledEscalationIsReplaced(t *testing.T) {
	f := newFixture(t, true)
	req := tool.Escalate{Reason: "customer asked for a human"}

	first, err := f.disp.Dispatch(f.ctx, f.target(), req)
	require.NoError(t, err)
	require.NoError(t, f.disp.Log.Cancel(f.ctx, f.store, first.Action))

	second, err := f.disp.Dispatch(f.ctx, f.target(), req)
	require.NoError(t, err)
	assert.False(t, second.AlreadyApplied)
	assert.Nil(t, second.Note)
	require.NotNil(t, second.Action)
	assert.NotEqual(t, first.Action.ID, second.Action.ID)
	assert.Equal(t, model.ActionPending, second.Action.Status)
	assert.Equal(t, action.Reference("ESC", second.Action.ID), second.Result["escalation_id"])

	third, err := f.disp.Dispatch(f.ctx, f.target(), req)
	require.NoError(t, err)
	assert.True(t, third.AlreadyApplied)
	assert.Equal(t, second.Action.ID, third.Action.ID)

	actions, err := f.store.ListActions(f.ctx, "t1", f.conv.ID)
	require.NoError(t, err)
	assert.Len(t, actions, 2)
}

func TestLog_TerminalImmutable(t *testing.T) {
	f := newFixture(t, true)
	log := f.disp.Log

	a := log.New(f.conv, model.ActionTypeRefund, nil, action.Actor{UserID: "agent-7"})
	assert.False(t, a.ExecutedByAI)
	require.NotNil(t, a.ExecutedByUserID)

	require.NoError(t, log.Begin(f.ctx, f.store, a))
	require.NoError(t, log.Cancel(f.ctx, f.store, a))
	assert.Equal(t, model.ActionCancelled, a.Status)

	assert.ErrorIs(t, log.Start(f.ctx, f.store, a), apperr.ErrConflict)
	assert.ErrorIs(t, log.Complete(f.ctx, f.store, a, nil), apperr.ErrConflict)

	stored, err := f.store.GetAction(f.ctx, "t1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ActionCancelled, stored.Status)
}

func TestReference_Deterministic(t *testing.T) {
	id := "0195f3a2-7b1c-7def-8a00-1234567890ab"
	assert.Equal(t, "REF-0195F3A27B1C7DEF8A001234567890AB", action.Reference("REF", id))
	assert.Equal(t, action.Reference("REF", id), action.Reference("REF", id))
}
