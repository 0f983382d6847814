package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/support-desk/internal/action"
	"github.com/capitalize-ai/support-desk/internal/apperr"
	"github.com/capitalize-ai/support-desk/internal/clock"
	"github.com/capitalize-ai/support-desk/internal/conversation"
	"github.com/capitalize-ai/support-desk/internal/gateway"
	"github.com/capitalize-ai/support-desk/internal/llm"
	"github.com/capitalize-ai/support-desk/internal/llm/llmtest"
	"github.com/capitalize-ai/support-desk/internal/lock"
	"github.com/capitalize-ai/support-desk/internal/model"
	"github.com/capitalize-ai/support-desk/internal/service"
	"github.com/capitalize-ai/support-desk/internal/store"
	"github.com/capitalize-ai/support-desk/pkg/logger"
)

const tenant = "tenant-a"

type recorder struct {
	mu     sync.Mutex
	events []*model.ConversationEvent
}

func (r *recorder) PublishEvent(_ context.Context, e *model.ConversationEvent) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return uint64(len(r.events)), nil
}

func (r *recorder) types() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	store         *store.MemoryStore
	llm           *llmtest.Client
	events        *recorder
	deps          service.Dependencies
	orchestrator  *service.Orchestrator
	conversations *service.ConversationService
	actions       *service.ActionService
	admin         *service.AdminService
}

func newFixture(t *testing.T, client *llmtest.Client) *fixture {
	t.Helper()
	f := &fixture{store: store.NewMemoryStore(), llm: client, events: &recorder{}}
	f.deps = service.Dependencies{
		Store:     f.store,
		Responder: gateway.New(client, nil, gateway.DefaultConfig(), logger.NewNop()),
		Locker:    lock.NewKeyedMutex(),
		Publisher: f.events,
		Clock:     clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		Logger:    logger.NewNop(),
	}
	f.orchestrator = service.NewOrchestrator(f.deps)
	f.conversations = service.NewConversationService(f.deps)
	f.actions = service.NewActionService(f.deps)
	f.admin = service.NewAdminService(f.deps)
	return f
}

func (f *fixture) start(t *testing.T) *model.Conversation {
	t.Helper()
	conv, err := f.conversations.Start(context.Background(), tenant, &model.StartConversationRequest{
		CustomerEmail: "Jane@Example.com",
		CustomerName:  "Jane",
	})
	require.NoError(t, err)
	return conv
}

func (f *fixture) history(t *testing.T, sessionID string) []model.Message {
	t.Helper()
	msgs, err := f.conversations.History(context.Background(), tenant, sessionID)
	require.NoError(t, err)
	return msgs
}

func senders(msgs []model.Message) []model.SenderType {
	out := make([]model.SenderType, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.SenderType)
	}
	return out
}

const refundReply = `{"reply": "I've refunded order O-1.", "confidence": 0.9,
	"tool_calls": [{"name": "refund", "arguments": {"amount": 49.99, "reason": "damaged", "order_id": "O-1"}}]}`

func TestStart(t *testing.T) {
	f := newFixture(t, llmtest.Text("hi"))
	conv := f.start(t)

	assert.Equal(t, model.StatusActive, conv.Status)
	assert.Equal(t, "jane@example.com", conv.CustomerEmail)
	assert.Equal(t, model.ChannelWebChat, conv.Channel)
	assert.Equal(t, model.PriorityNormal, conv.Priority)
	assert.True(t, conv.AIEnabled)
	assert.NotEmpty(t, conv.SessionID)

	f.start(t)
	customer, err := f.store.GetCustomer(context.Background(), tenant, "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, customer.TotalConversations)
	assert.Equal(t, model.SubscriptionUnknown, customer.SubscriptionStatus)
	assert.Equal(t, []model.EventType{model.EventTypeStarted, model.EventTypeStarted}, f.events.types())
}

func TestStart_Validation(t *testing.T) {
	f := newFixture(t, llmtest.Text("hi"))
	ctx := context.Background()

	_, err := f.conversations.Start(ctx, tenant, &model.StartConversationRequest{CustomerEmail: "not-an-email"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = f.conversations.Start(ctx, tenant, &model.StartConversationRequest{
		CustomerEmail: "a@b.co", SystemPromptID: "missing",
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestHandleCustomerMessage_RefundScenario(t *testing.T) {
	f := newFixture(t, llmtest.Text(refundReply))
	conv := f.start(t)

	result, err := f.orchestrator.HandleCustomerMessage(context.Background(), tenant, conv.SessionID, "My order O-1 arrived broken")
	require.NoError(t, err)

	assert.False(t, result.Error)
	assert.Equal(t, "I've refunded order O-1.", result.AIResponse)
	require.NotNil(t, result.Confidence)
	assert.InDelta(t, 0.9, *result.Confidence, 1e-9)
	assert.Equal(t, model.StatusActive, result.Status)

	require.Len(t, result.Actions, 1)
	outcome := result.Actions[0]
	assert.Equal(t, model.ActionCompleted, outcome.Status)
	assert.Equal(t, action.Reference("REF", outcome.ActionID), outcome.Result["refund_id"])

	msgs := f.history(t, conv.SessionID)
	require.Len(t, msgs, 2)
	assert.Equal(t, []model.SenderType{model.SenderCustomer, model.SenderAI}, senders(msgs))
	assert.Equal(t, result.CustomerMessageID, msgs[0].ID)
	assert.Equal(t, result.AIMessageID, msgs[1].ID)
	assert.True(t, msgs[0].CreatedAt.Before(msgs[1].CreatedAt))
	assert.Equal(t, []string{"refund"}, msgs[1].AIToolsUsed)
	require.NotNil(t, msgs[1].AIConfidence)
	assert.Equal(t, 90, *msgs[1].AIConfidence)
	assert.Contains(t, msgs[1].Metadata, "actions")

	actions, err := f.actions.List(context.Background(), tenant, conv.SessionID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, model.ActionCompleted, actions[0].Status)
	assert.True(t, actions[0].ExecutedByAI)

	summary, err := f.conversations.Summary(context.Background(), tenant, conv.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.MessageCount)
	assert.Equal(t, 1, summary.ActionCount)
	require.NotNil(t, summary.FirstResponseTimeSeconds)

	assert.Contains(t, f.events.types(), model.EventTypeActionExecuted)
	assert.Contains(t, f.events.types(), model.EventTypeTurnCompleted)
}

func TestHandleCustomerMessage_Fallback(t *testing.T) {
	f := newFixture(t, llmtest.Failing(errors.New("connection reset")))
	conv := f.start(t)

	result, err := f.orchestrator.HandleCustomerMessage(context.Background(), tenant, conv.SessionID, "hello?")
	require.NoError(t, err)

	assert.True(t, result.Error)
	assert.Equal(t, gateway.FallbackText, result.AIResponse)
	assert.Contains(t, result.ErrorMessage, "connection reset")
	require.NotNil(t, result.Confidence)
	assert.Zero(t, *result.Confidence)

	msgs := f.history(t, conv.SessionID)
	require.Len(t, msgs, 2)
	assert.Equal(t, gateway.FallbackText, msgs[1].Content)
	assert.Contains(t, msgs[1].Metadata, "error")
	assert.Contains(t, f.events.types(), model.EventTypeAIFallback)
}

func TestHandleCustomerMessage_InvalidContent(t *testing.T) {
	f := newFixture(t, llmtest.Text("hi"))
	conv := f.start(t)
	ctx := context.Background()

	for name, content := range map[string]string{
		"empty":     "  \n\t",
		"too large": strings.Repeat("a", service.MaxMessageBytes+1),
		"not utf8":  "bad \xff byte",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.orchestrator.HandleCustomerMessage(ctx, tenant, conv.SessionID, content)
			assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
		})
	}
	assert.Empty(t, f.history(t, conv.SessionID))
	assert.Empty(t, f.llm.Requests())
}

func TestHandleCustomerMessage_NotFound(t *testing.T) {
	f := newFixture(t, llmtest.Text("hi"))
	conv := f.start(t)
	ctx := context.Background()

	_, err := f.orchestrator.HandleCustomerMessage(ctx, tenant, "no-such-session", "hello")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.orchestrator.HandleCustomerMessage(ctx, "tenant-b", conv.SessionID, "hello")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.conversations.Archive(ctx, tenant, conv.SessionID)
	require.NoError(t, err)
	_, err = f.orchestrator.HandleCustomerMessage(ctx, tenant, conv.SessionID, "hello")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, f.llm.Requests())
}

func TestHandleCustomerMessage_AIDisabled(t *testing.T) {
	f := newFixture(t, llmtest.Text("hi"))
	conv := f.start(t)
	ctx := context.Background()

	_, err := f.conversations.SetAIEnabled(ctx, tenant, conv.SessionID, false)
	require.NoError(t, err)

	result, err := f.orchestrator.HandleCustomerMessage(ctx, tenant, conv.SessionID, "anyone there?")
	require.NoError(t, err)
	assert.Empty(t, result.AIMessageID)
	assert.Nil(t, result.Confidence)
	assert.Len(t, f.history(t, conv.SessionID), 1)
	assert.Empty(t, f.llm.Requests())
}

func TestHandleCustomerMessage_EscalationTool(t *testing.T) {
	f := newFixture(t, llmtest.Text(`{"reply": "Connecting you with a person.", "confidence": 0.7,
		"tool_calls": [{"name": "escalate_to_human", "arguments": {"reason": "customer asked for a human"}}]}`))
	conv := f.start(t)
	ctx := context.Background()

	result, err := f.orchestrator.HandleCustomerMessage(ctx, tenant, conv.SessionID, "I want to talk to a person")
	require.NoError(t, err)
	assert.Equal(t, model.StatusEscalated, result.Status)
	require.Len(t, result.Actions, 1)
	assert.Equal(t, model.ActionPending, result.Actions[0].Status)

	msgs := f.history(t, conv.SessionID)
	assert.Equal(t, []model.SenderType{model.SenderCustomer, model.SenderAI, model.SenderSystem}, senders(msgs))
	assert.Equal(t, conversation.EscalationNote("customer asked for a human"), msgs[2].Content)

	// The responder stays enabled and asks again; nothing is duplicated.
	result, err = f.orchestrator.HandleCustomerMessage(ctx, tenant, conv.SessionID, "still waiting")
	require.NoError(t, err)
	require.Len(t, result.Actions, 1)
	assert.True(t, result.Actions[0].AlreadyApplied)

	msgs = f.history(t, conv.SessionID)
	assert.Equal(t, []model.SenderType{
		model.SenderCustomer, model.SenderAI, model.SenderSystem, model.SenderCustomer, model.SenderAI,
	}, senders(msgs))

	escalated, err := f.conversations.Escalate(ctx, tenant, conv.SessionID, "again", action.Actor{Customer: true})
	require.NoError(t, err)
	assert.True(t, escalated.AlreadyEscalated)
	assert.Equal(t, result.Actions[0].Result["escalation_id"], escalated.EscalationID)

	actions, err := f.actions.List(ctx, tenant, conv.SessionID)
	require.NoError(t, err)
	assert.Len(t, actions, 1)
}

func TestHandleCustomerMessage_SerializesTurns(t *testing.T) {
	var inflight, maxInflight atomic.Int32
	client := &llmtest.Client{Respond: func(_ context.Context, req *llm.CompletionRequest) (string, error) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			m := maxInflight.Load()
			if n <= m || maxInflight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)

		prompt := req.Messages[0].Content
		const marker = "Customer's new message:\n"
		rest := prompt[strings.Index(prompt, marker)+len(marker):]
		return "ack " + rest[:strings.IndexByte(rest, '\n')], nil
	}}
	f := newFixture(t, client)
	conv := f.start(t)

	var g errgroup.Group
	for i := 0; i < 12; i++ {
		i := i
		g.Go(func() error {
			_, err := f.orchestrator.HandleCustomerMessage(context.Background(), tenant, conv.SessionID, fmt.Sprintf("message %d", i))
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), maxInflight.Load())

	msgs := f.history(t, conv.SessionID)
	require.Len(t, msgs, 24)
	for i := 0; i < len(msgs); i += 2 {
		assert.Equal(t, model.SenderCustomer, msgs[i].SenderType)
		assert.Equal(t, model.SenderAI, msgs[i+1].SenderType)
		assert.Equal(t, "ack "+msgs[i].Content, msgs[i+1].Content)
		assert.Equal(t, int64(i+1), msgs[i].Sequence)
		if i > 0 {
			assert.True(t, msgs[i-1].CreatedAt.Before(msgs[i].CreatedAt))
		}
	}
}

func TestHandleCustomerMessage_ExcludesAgentOperations(t *testing.T) {
	const reply = `{"reply": "Connecting you with a person.", "confidence": 0.7,
		"tool_calls": [{"name": "escalate_to_human", "arguments": {"reason": "customer asked for a human"}}]}`
	entered := make(chan struct{})
	release := make(chan struct{})
	client := &llmtest.Client{Respond: func(context.Context, *llm.CompletionRequest) (string, error) {
		close(entered)
		<-release
		return reply, nil
	}}
	f := newFixture(t, client)
	conv := f.start(t)
	ctx := context.Background()

	turnDone := make(chan error, 1)
	go func() {
		_, err := f.orchestrator.HandleCustomerMessage(ctx, tenant, conv.SessionID, "get me a person")
		turnDone <- err
	}()
	<-entered

	type escalation struct {
		result *model.EscalationResult
		err    error
	}
	escalateDone := make(chan escalation, 1)
	go func() {
		r, err := f.conversations.Escalate(ctx, tenant, conv.SessionID, "agent took over", action.Actor{UserID: "agent-1"})
		escalateDone <- escalation{r, err}
	}()

	select {
	case <-escalateDone:
		t.Fatal("escalation ran while the turn held the conversation")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-turnDone)
	got := <-escalateDone
	require.NoError(t, got.err)
	assert.True(t, got.result.AlreadyEscalated)

	stored, err := f.conversations.Get(ctx, tenant, conv.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusEscalated, stored.Status)

	var notes int
	for _, m := range f.history(t, conv.SessionID) {
		if m.SenderType == model.SenderSystem && strings.HasPrefix(m.Content, "Conversation escalated") {
			notes++
		}
	}
	assert.Equal(t, 1, notes)

	actions, err := f.actions.List(ctx, tenant, conv.SessionID)
	require.NoError(t, err)
	assert.Len(t, actions, 1)
}

func TestHandleCustomerMessage_EscalationOnResolvedKeepsTurn(t *testing.T) {
	f := newFixture(t, llmtest.Text(`{"reply": "Let me get someone.", "confidence": 0.6,
		"tool_calls": [{"name": "escalate_to_human", "arguments": {"reason": "follow-up"}}]}`))
	conv := f.start(t)
	ctx := context.Background()

	_, err := f.conversations.Resolve(ctx, tenant, conv.SessionID)
	require.NoError(t, err)

	result, err := f.orchestrator.HandleCustomerMessage(ctx, tenant, conv.SessionID, "one more thing")
	require.NoError(t, err)
	assert.Equal(t, model.StatusResolved, result.Status)
	assert.Equal(t, "Let me get someone.", result.AIResponse)
	require.Len(t, result.Actions, 1)
	assert.Equal(t, model.ActionFailed, result.Actions[0].Status)
	assert.NotEmpty(t, result.Actions[0].Error)

	msgs := f.history(t, conv.SessionID)
	assert.Equal(t, []model.SenderType{model.SenderSystem, model.SenderCustomer, model.SenderAI}, senders(msgs))

	actions, err := f.actions.List(ctx, tenant, conv.SessionID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, model.ActionFailed, actions[0].Status)

	_, err = f.conversations.Escalate(ctx, tenant, conv.SessionID, "late", action.Actor{Customer: true})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

// failingStore fails appends of one sender type inside transactions.
type failingStore struct {
	store.Store
	failOn model.SenderType
}

func (s failingStore) WithTx(ctx context.Context, fn func(q store.Queries) error) error {
	return s.Store.WithTx(ctx, func(q store.Queries) error {
		return fn(failingQueries{Queries: q, failOn: s.failOn})
	})
}

type failingQueries struct {
	store.Queries
	failOn model.SenderType
}

func (q failingQueries) AppendMessage(ctx context.Context, msg *model.Message) error {
	if msg.SenderType == q.failOn {
		return errors.New("disk full")
	}
	return q.Queries.AppendMessage(ctx, msg)
}

func TestHandleCustomerMessage_RollsBackOnPersistenceFailure(t *testing.T) {
	f := newFixture(t, llmtest.Text(refundReply))
	conv := f.start(t)

	deps := f.deps
	deps.Store = failingStore{Store: f.store, failOn: model.SenderAI}
	orchestrator := service.NewOrchestrator(deps)

	_, err := orchestrator.HandleCustomerMessage(context.Background(), tenant, conv.SessionID, "refund please")
	require.Error(t, err)

	assert.Empty(t, f.history(t, conv.SessionID))
	actions, err := f.actions.List(context.Background(), tenant, conv.SessionID)
	require.NoError(t, err)
	assert.Empty(t, actions)

	stored, err := f.conversations.Get(context.Background(), tenant, conv.SessionID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastMessageAt)
	assert.NotContains(t, f.events.types(), model.EventTypeTurnCompleted)
}

func TestHandleCustomerMessage_UsesBoundSystemPrompt(t *testing.T) {
	f := newFixture(t, llmtest.Text("hi"))
	f.store.PutSystemPrompt(&model.SystemPrompt{
		ID: "billing", TenantID: tenant, Name: "Billing", Content: "You are the billing desk.", IsActive: true,
	})
	f.store.PutSystemPrompt(&model.SystemPrompt{
		TenantID: tenant, Name: "Default", Content: "You are the general desk.", IsActive: true, IsDefault: true,
	})
	ctx := context.Background()

	bound, err := f.conversations.Start(ctx, tenant, &model.StartConversationRequest{CustomerEmail: "a@b.co", SystemPromptID: "billing"})
	require.NoError(t, err)
	plain := f.start(t)

	_, err = f.orchestrator.HandleCustomerMessage(ctx, tenant, bound.SessionID, "invoice question")
	require.NoError(t, err)
	_, err = f.orchestrator.HandleCustomerMessage(ctx, tenant, plain.SessionID, "general question")
	require.NoError(t, err)

	requests := f.llm.Requests()
	require.Len(t, requests, 2)
	assert.True(t, strings.HasPrefix(requests[0].Messages[0].Content, "You are the billing desk."))
	assert.True(t, strings.HasPrefix(requests[1].Messages[0].Content, "You are the general desk."))
}

func TestEscalate_Twice(t *testing.T) {
	f := newFixture(t, llmtest.Text("hi"))
	conv := f.start(t)
	ctx := context.Background()

	first, err := f.conversations.Escalate(ctx, tenant, conv.SessionID, "angry customer", action.Actor{Customer: true})
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.False(t, first.AlreadyEscalated)
	assert.True(t, strings.HasPrefix(first.EscalationID, "ESC-"))
	assert.Equal(t, "5-10 minutes", first.EstimatedWaitTime)

	second, err := f.conversations.Escalate(ctx, tenant, conv.SessionID, "angry customer", action.Actor{Customer: true})
	require.NoError(t, err)
	assert.True(t, second.AlreadyEscalated)
	assert.Equal(t, first.EscalationID, second.EscalationID)

	msgs := f.history(t, conv.SessionID)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.SenderSystem, msgs[0].SenderType)

	actions, err := f.actions.List(ctx, tenant, conv.SessionID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.False(t, actions[0].ExecutedByAI)
	assert.Nil(t, actions[0].ExecutedByUserID)
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t, llmtest.Text("hi"))
	conv := f.start(t)
	ctx := context.Background()

	_, err := f.conversations.Reopen(ctx, tenant, conv.SessionID)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = f.conversations.Escalate(ctx, tenant, conv.SessionID, "needs a person", action.Actor{UserID: "agent-1"})
	require.NoError(t, err)
	reopened, err := f.conversations.Reopen(ctx, tenant, conv.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, reopened.Status)

	assigned, err := f.conversations.Assign(ctx, tenant, conv.SessionID, "agent-1")
	require.NoError(t, err)
	require.NotNil(t, assigned.AssignedToUserID)
	assert.Equal(t, "agent-1", *assigned.AssignedToUserID)

	msg, err := f.conversations.PostAgentMessage(ctx, tenant, conv.SessionID, "agent-1", &model.AgentMessageRequest{Content: "Hi, I'm Sam."})
	require.NoError(t, err)
	assert.Equal(t, model.SenderHumanAgent, msg.SenderType)

	resolved, err := f.conversations.Resolve(ctx, tenant, conv.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusResolved, resolved.Status)
	assert.NotNil(t, resolved.ResolutionTimeSeconds)
	assert.NotNil(t, resolved.FirstResponseTimeSeconds)

	_, err = f.conversations.Rate(ctx, tenant, conv.SessionID, 6)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	rated, err := f.conversations.Rate(ctx, tenant, conv.SessionID, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, *rated.SatisfactionScore)

	_, err = f.conversations.Archive(ctx, tenant, conv.SessionID)
	require.NoError(t, err)
	_, err = f.conversations.PostAgentMessage(ctx, tenant, conv.SessionID, "agent-1", &model.AgentMessageRequest{Content: "late"})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	// Archived conversations stay readable.
	msgs := f.history(t, conv.SessionID)
	assert.Equal(t, []model.SenderType{
		model.SenderSystem, model.SenderSystem, model.SenderHumanAgent, model.SenderSystem,
	}, senders(msgs))
}

func TestList(t *testing.T) {
	f := newFixture(t, llmtest.Text("hi"))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.start(t)
	}
	archived := f.start(t)
	_, err := f.conversations.Archive(ctx, tenant, archived.SessionID)
	require.NoError(t, err)

	page, err := f.conversations.List(ctx, tenant, model.ConversationFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Conversations, 2)
	assert.True(t, page.HasMore)

	page, err = f.conversations.List(ctx, tenant, model.ConversationFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, page.Conversations, 1)
	assert.False(t, page.HasMore)

	page, err = f.conversations.List(ctx, tenant, model.ConversationFilter{Status: model.StatusArchived})
	require.NoError(t, err)
	require.Len(t, page.Conversations, 1)
	assert.Equal(t, archived.SessionID, page.Conversations[0].SessionID)

	_, err = f.conversations.List(ctx, tenant, model.ConversationFilter{Status: "open"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	page, err = f.conversations.List(ctx, "tenant-b", model.ConversationFilter{})
	require.NoError(t, err)
	assert.Empty(t, page.Conversations)
}

func TestPurge(t *testing.T) {
	f := newFixture(t, llmtest.Text(refundReply))
	conv := f.start(t)
	ctx := context.Background()

	_, err := f.orchestrator.HandleCustomerMessage(ctx, tenant, conv.SessionID, "refund please")
	require.NoError(t, err)

	assert.ErrorIs(t, f.conversations.Purge(ctx, "tenant-b", conv.SessionID), apperr.ErrNotFound)
	require.NoError(t, f.conversations.Purge(ctx, tenant, conv.SessionID))

	_, err = f.conversations.History(ctx, tenant, conv.SessionID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.actions.List(ctx, tenant, conv.SessionID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestActionService(t *testing.T) {
	f := newFixture(t, llmtest.Text("hi"))
	conv := f.start(t)
	ctx := context.Background()

	_, err := f.actions.Execute(ctx, tenant, conv.SessionID, "agent-1", &model.ExecuteActionRequest{
		ActionType: "subscription",
		Arguments:  map[string]any{"action": "change_plan"},
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	out, err := f.actions.Execute(ctx, tenant, conv.SessionID, "agent-1", &model.ExecuteActionRequest{
		ActionType: "subscription",
		Arguments:  map[string]any{"action": "change_plan", "new_plan": "enterprise"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.ActionCompleted, out.Status)

	customer, err := f.store.GetCustomer(ctx, tenant, conv.CustomerEmail)
	require.NoError(t, err)
	assert.Equal(t, "enterprise", customer.SubscriptionPlan)

	actions, err := f.actions.List(ctx, tenant, conv.SessionID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.False(t, actions[0].ExecutedByAI)
	require.NotNil(t, actions[0].ExecutedByUserID)
	assert.Equal(t, "agent-1", *actions[0].ExecutedByUserID)

	_, err = f.actions.Cancel(ctx, tenant, out.ActionID)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	escalation, err := f.actions.Execute(ctx, tenant, conv.SessionID, "agent-1", &model.ExecuteActionRequest{
		ActionType: "escalate",
		Arguments:  map[string]any{"reason": "billing specialist"},
	})
	require.NoError(t, err)
	cancelled, err := f.actions.Cancel(ctx, tenant, escalation.ActionID)
	require.NoError(t, err)
	assert.Equal(t, model.ActionCancelled, cancelled.Status)

	_, err = f.actions.Cancel(ctx, "tenant-b", escalation.ActionID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestActionService_UnknownCustomer(t *testing.T) {
	f := newFixture(t, llmtest.Text("hi"))
	ctx := context.Background()

	conv := &model.Conversation{
		ID: "c-1", TenantID: tenant, SessionID: "s-1", CustomerEmail: "ghost@example.com",
		Status: model.StatusActive, Channel: model.ChannelAPI, Priority: model.PriorityNormal,
	}
	require.NoError(t, f.store.CreateConversation(ctx, conv))

	out, err := f.actions.Execute(ctx, tenant, "s-1", "agent-1", &model.ExecuteActionRequest{
		ActionType: "subscription",
		Arguments:  map[string]any{"action": "cancel"},
	})
	assert.ErrorIs(t, err, apperr.ErrActionExecutionFailed)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	require.NotNil(t, out)
	assert.Equal(t, model.ActionFailed, out.Status)

	actions, err := f.actions.List(ctx, tenant, "s-1")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, model.ActionFailed, actions[0].Status)
	assert.Equal(t, "Customer not found", actions[0].ErrorMessage)
}

func TestAdmin_Prompts(t *testing.T) {
	f := newFixture(t, llmtest.Text("hi"))
	ctx := context.Background()

	_, err := f.admin.CreatePrompt(ctx, tenant, &model.CreateSystemPromptRequest{Name: "Billing", Content: "   "})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	p, err := f.admin.CreatePrompt(ctx, tenant, &model.CreateSystemPromptRequest{
		Name: " Billing ", Content: "You are the billing desk.", IsDefault: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Billing", p.Name)
	assert.Equal(t, "general", p.Department)
	assert.True(t, p.IsActive)

	_, err = f.admin.CreatePrompt(ctx, tenant, &model.CreateSystemPromptRequest{Name: "Billing", Content: "again"})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	// The new default reaches the responder.
	conv := f.start(t)
	_, err = f.orchestrator.HandleCustomerMessage(ctx, tenant, conv.SessionID, "invoice question")
	require.NoError(t, err)
	require.Len(t, f.llm.Requests(), 1)
	assert.True(t, strings.HasPrefix(f.llm.Requests()[0].Messages[0].Content, "You are the billing desk."))

	empty := ""
	_, err = f.admin.UpdatePrompt(ctx, tenant, p.ID, &model.UpdateSystemPromptRequest{Content: &empty})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	inactive := false
	updated, err := f.admin.UpdatePrompt(ctx, tenant, p.ID, &model.UpdateSystemPromptRequest{IsActive: &inactive})
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	assert.Equal(t, "You are the billing desk.", updated.Content)

	_, err = f.admin.UpdatePrompt(ctx, "tenant-b", p.ID, &model.UpdateSystemPromptRequest{IsActive: &inactive})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	bound, err := f.conversations.Start(ctx, tenant, &model.StartConversationRequest{CustomerEmail: "a@b.co", SystemPromptID: p.ID})
	require.NoError(t, err)
	require.NoError(t, f.admin.DeletePrompt(ctx, tenant, p.ID))
	assert.ErrorIs(t, f.admin.DeletePrompt(ctx, tenant, p.ID), apperr.ErrNotFound)

	stored, err := f.conversations.Get(ctx, tenant, bound.SessionID)
	require.NoError(t, err)
	assert.Nil(t, stored.SystemPromptID)

	prompts, err := f.admin.ListPrompts(ctx, tenant)
	require.NoError(t, err)
	assert.Empty(t, prompts)
}

func TestAdmin_AnalyticsAndCustomers(t *testing.T) {
	f := newFixture(t, llmtest.Text(refundReply))
	ctx := context.Background()
	conv := f.start(t)
	_, err := f.orchestrator.HandleCustomerMessage(ctx, tenant, conv.SessionID, "refund please")
	require.NoError(t, err)
	_, err = f.actions.Execute(ctx, tenant, conv.SessionID, "agent-1", &model.ExecuteActionRequest{
		ActionType: "subscription", Arguments: map[string]any{"action": "pause"},
	})
	require.NoError(t, err)
	escalated := f.start(t)
	_, err = f.conversations.Escalate(ctx, tenant, escalated.SessionID, "", action.Actor{Customer: true})
	require.NoError(t, err)

	a, err := f.admin.Analytics(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, model.ConversationCounts{Total: 2, Active: 1, Escalated: 1}, a.Conversations)
	assert.Equal(t, model.MessageCounts{Total: 3, AI: 1, Customer: 1}, a.Messages)
	assert.Equal(t, model.ActionCounts{Total: 3, Refunds: 1, SubscriptionChanges: 1}, a.Actions)
	assert.Len(t, a.RecentConversations, 2)

	for i := 0; i < 2; i++ {
		_, err := f.conversations.Start(ctx, tenant, &model.StartConversationRequest{CustomerEmail: fmt.Sprintf("c%d@example.com", i)})
		require.NoError(t, err)
	}
	page, err := f.admin.ListCustomers(ctx, tenant, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page.Customers, 2)
	assert.True(t, page.HasMore)

	page, err = f.admin.ListCustomers(ctx, "tenant-b", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Customers)
	assert.False(t, page.HasMore)
}
