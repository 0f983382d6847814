package conversation_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/support-desk/internal/apperr"
	"github.com/capitalize-ai/support-desk/internal/clock"
	"github.com/capitalize-ai/support-desk/internal/conversation"
	"github.com/capitalize-ai/support-desk/internal/model"
	"github.com/capitalize-ai/support-desk/internal/store"
)

var start = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*conversation.Machine, *clock.Fake, *store.MemoryStore, *model.Conversation) {
	t.Helper()
	clk := clock.NewFake(start)
	s := store.NewMemoryStore()
	conv := &model.Conversation{
		ID:            uuid.NewString(),
		TenantID:      "t1",
		SessionID:     uuid.NewString(),
		CustomerEmail: "jane@example.com",
		Status:        model.StatusActive,
		AIEnabled:     true,
		CreatedAt:     start,
		UpdatedAt:     start,
	}
	require.NoError(t, s.CreateConversation(context.Background(), conv))
	return conversation.NewMachine(clk), clk, s, conv
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to model.Status
		want     bool
	}{
		{model.StatusActive, model.StatusEscalated, true},
		{model.StatusActive, model.StatusResolved, true},
		{model.StatusActive, model.StatusArchived, true},
		{model.StatusEscalated, model.StatusActive, true},
		{model.StatusEscalated, model.StatusResolved, true},
		{model.StatusResolved, model.StatusArchived, true},
		{model.StatusResolved, model.StatusActive, false},
		{model.StatusResolved, model.StatusEscalated, false},
		{model.StatusArchived, model.StatusActive, false},
		{model.StatusArchived, model.StatusArchived, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, conversation.CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestAppend_StrictlyIncreasingTimestamps(t *testing.T) {
	m, _, s, conv := setup(t)
	ctx := context.Background()

	// The fake clock never moves, so every append collides with the previous one.
	msgs := []*model.Message{
		conversation.NewMessage(conv, model.SenderCustomer, "hi"),
		conversation.NewMessage(conv, model.SenderAI, "hello"),
		conversation.NewMessage(conv, model.SenderSystem, "note"),
	}
	require.NoError(t, m.Append(ctx, s, conv, msgs...))

	stored, err := s.ListMessages(ctx, "t1", conv.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for i := 1; i < len(stored); i++ {
		assert.True(t, stored[i].CreatedAt.After(stored[i-1].CreatedAt))
		assert.Greater(t, stored[i].Sequence, stored[i-1].Sequence)
	}
	assert.Equal(t, "hi", stored[0].Content)
	assert.Equal(t, "note", stored[2].Content)

	got, err := s.GetConversation(ctx, "t1", conv.SessionID)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessageAt)
	assert.Equal(t, stored[2].CreatedAt, *got.LastMessageAt)
	assert.Equal(t, model.StatusActive, got.Status)
}

func TestAppend_FirstResponseTime(t *testing.T) {
	m, clk, s, conv := setup(t)
	ctx := context.Background()

	clk.Advance(5 * time.Second)
	require.NoError(t, m.Append(ctx, s, conv, conversation.NewMessage(conv, model.SenderCustomer, "hi")))
	assert.Nil(t, conv.FirstResponseTimeSeconds)

	clk.Advance(7 * time.Second)
	require.NoError(t, m.Append(ctx, s, conv, conversation.NewMessage(conv, model.SenderAI, "hello")))
	require.NotNil(t, conv.FirstResponseTimeSeconds)
	assert.Equal(t, 12, *conv.FirstResponseTimeSeconds)

	clk.Advance(time.Minute)
	require.NoError(t, m.Append(ctx, s, conv, conversation.NewMessage(conv, model.SenderHumanAgent, "agent here")))
	assert.Equal(t, 12, *conv.FirstResponseTimeSeconds)
}

func TestEscalate_Idempotent(t *testing.T) {
	m, _, s, conv := setup(t)
	ctx := context.Background()

	note, err := m.Escalate(conv, "angry customer")
	require.NoError(t, err)
	require.NotNil(t, note)
	assert.Equal(t, "Conversation escalated to human agent. Reason: angry customer", note.Content)
	assert.Equal(t, model.SenderSystem, note.SenderType)
	require.NoError(t, m.Append(ctx, s, conv, note))

	note, err = m.Escalate(conv, "again")
	require.NoError(t, err)
	assert.Nil(t, note)

	msgs, err := s.ListMessages(ctx, "t1", conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	got, err := s.GetConversation(ctx, "t1", conv.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusEscalated, got.Status)
}

func TestResolve(t *testing.T) {
	m, clk, s, conv := setup(t)
	ctx := context.Background()

	clk.Advance(90 * time.Second)
	note, err := m.Resolve(conv)
	require.NoError(t, err)
	require.NoError(t, m.Append(ctx, s, conv, note))

	require.NotNil(t, conv.ResolutionTimeSeconds)
	assert.Equal(t, 90, *conv.ResolutionTimeSeconds)

	_, err = m.Escalate(conv, "too late")
	assert.ErrorIs(t, err, apperr.ErrConflict)
	_, err = m.Reopen(conv)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestReopen(t *testing.T) {
	m, _, _, conv := setup(t)

	_, err := m.Reopen(conv)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = m.Escalate(conv, "billing")
	require.NoError(t, err)
	note, err := m.Reopen(conv)
	require.NoError(t, err)
	assert.NotNil(t, note)
	assert.Equal(t, model.StatusActive, conv.Status)
}

func TestArchive_RejectsAppends(t *testing.T) {
	m, _, s, conv := setup(t)
	ctx := context.Background()

	require.NoError(t, m.Archive(conv))
	require.NoError(t, m.Append(ctx, s, conv))

	err := m.Append(ctx, s, conv, conversation.NewMessage(conv, model.SenderCustomer, "hello?"))
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.ErrorIs(t, m.Archive(conv), apperr.ErrConflict)
}
