// Package conversation implements the conversation lifecycle: status
// transitions, the system messages announcing them and ordered appends.
package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/support-desk/internal/apperr"
	"github.com/capitalize-ai/support-desk/internal/clock"
	"github.com/capitalize-ai/support-desk/internal/model"
	"github.com/capitalize-ai/support-desk/internal/store"
)

var transitions = map[model.Status][]model.Status{
	model.StatusActive:    {model.StatusEscalated, model.StatusResolved, model.StatusArchived},
	model.StatusEscalated: {model.StatusActive, model.StatusResolved, model.StatusArchived},
	model.StatusResolved:  {model.StatusArchived},
}

// CanTransition reports whether a conversation may move from one status to another.
func CanTransition(from, to model.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Machine applies lifecycle changes to conversations. Transition methods
// mutate conv in memory and return the system message announcing the change;
// Append persists both.
type Machine struct {
	clock clock.Clock
}

// NewMachine creates a Machine using clk for all timestamps.
func NewMachine(clk clock.Clock) *Machine {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Machine{clock: clk}
}

// EscalationNote is the system message text recorded on escalation.
func EscalationNote(reason string) string {
	return "Conversation escalated to human agent. Reason: " + reason
}

// Escalate moves an active conversation to escalated. On an already escalated
// conversation it returns a nil message and changes nothing.
func (m *Machine) Escalate(conv *model.Conversation, reason string) (*model.Message, error) {
	if conv.Status == model.StatusEscalated {
		return nil, nil
	}
	if err := m.transition(conv, model.StatusEscalated); err != nil {
		return nil, err
	}
	msg := NewMessage(conv, model.SenderSystem, EscalationNote(reason))
	msg.Metadata = map[string]any{"event": string(model.EventTypeEscalated), "reason": reason}
	return msg, nil
}

// Resolve closes the conversation and stamps the resolution time.
func (m *Machine) Resolve(conv *model.Conversation) (*model.Message, error) {
	if err := m.transition(conv, model.StatusResolved); err != nil {
		return nil, err
	}
	secs := elapsedSeconds(conv.CreatedAt, conv.UpdatedAt)
	conv.ResolutionTimeSeconds = &secs

	msg := NewMessage(conv, model.SenderSystem, "Conversation marked as resolved.")
	msg.Metadata = map[string]any{"event": string(model.EventTypeResolved)}
	return msg, nil
}

// Reopen hands an escalated conversation back to the AI assistant.
func (m *Machine) Reopen(conv *model.Conversation) (*model.Message, error) {
	if conv.Status != model.StatusEscalated {
		return nil, apperr.Conflict("cannot reopen a %s conversation", conv.Status)
	}
	if err := m.transition(conv, model.StatusActive); err != nil {
		return nil, err
	}
	msg := NewMessage(conv, model.SenderSystem, "Conversation returned to the AI assistant.")
	msg.Metadata = map[string]any{"event": string(model.EventTypeReopened)}
	return msg, nil
}

// Archive soft-deletes the conversation.
func (m *Machine) Archive(conv *model.Conversation) error {
	return m.transition(conv, model.StatusArchived)
}

func (m *Machine) transition(conv *model.Conversation, to model.Status) error {
	if !CanTransition(conv.Status, to) {
		return apperr.Conflict("conversation %s cannot move from %s to %s", conv.SessionID, conv.Status, to)
	}
	conv.Status = to
	conv.UpdatedAt = m.clock.Now()
	return nil
}

// Append persists msgs in order and then conv. Each message gets a creation
// time strictly after the previous message of the conversation. The first
// ai or human_agent message stamps the first response time.
func (m *Machine) Append(ctx context.Context, q store.Queries, conv *model.Conversation, msgs ...*model.Message) error {
	if len(msgs) > 0 && conv.Status == model.StatusArchived {
		return apperr.Conflict("conversation %s is archived", conv.SessionID)
	}

	for _, msg := range msgs {
		if msg.ConversationID != conv.ID || msg.TenantID != conv.TenantID {
			return fmt.Errorf("message %s does not belong to conversation %s", msg.ID, conv.ID)
		}
		at := m.clock.Now().Truncate(time.Microsecond)
		if conv.LastMessageAt != nil && !at.After(*conv.LastMessageAt) {
			at = conv.LastMessageAt.Add(time.Microsecond)
		}
		msg.CreatedAt = at

		if err := q.AppendMessage(ctx, msg); err != nil {
			return fmt.Errorf("append %s message: %w", msg.SenderType, err)
		}

		last := at
		conv.LastMessageAt = &last
		if conv.FirstResponseTimeSeconds == nil &&
			(msg.SenderType == model.SenderAI || msg.SenderType == model.SenderHumanAgent) {
			secs := elapsedSeconds(conv.CreatedAt, at)
			conv.FirstResponseTimeSeconds = &secs
		}
	}

	if now := m.clock.Now(); now.After(conv.UpdatedAt) {
		conv.UpdatedAt = now
	}
	if err := q.UpdateConversation(ctx, conv); err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	return nil
}

// NewMessage builds an unsaved text message for conv.
func NewMessage(conv *model.Conversation, sender model.SenderType, content string) *model.Message {
	return &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		TenantID:       conv.TenantID,
		SenderType:     sender,
		Content:        content,
		ContentType:    model.ContentText,
	}
}

func elapsedSeconds(from, to time.Time) int {
	d := to.Sub(from)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}
