// Package service provides the business operations of the support desk:
// the customer message orchestrator and the conversation and action services
// used by the transport handlers.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-desk/internal/action"
	"github.com/capitalize-ai/support-desk/internal/apperr"
	"github.com/capitalize-ai/support-desk/internal/clock"
	"github.com/capitalize-ai/support-desk/internal/conversation"
	"github.com/capitalize-ai/support-desk/internal/gateway"
	"github.com/capitalize-ai/support-desk/internal/lock"
	"github.com/capitalize-ai/support-desk/internal/model"
	"github.com/capitalize-ai/support-desk/internal/store"
	"github.com/capitalize-ai/support-desk/pkg/logger"
	"github.com/capitalize-ai/support-desk/pkg/metrics"
)

// EventPublisher publishes conversation events to subscribers.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *model.ConversationEvent) (uint64, error)
}

// Responder produces the AI reply for a turn. *gateway.Gateway implements it.
type Responder interface {
	Respond(ctx context.Context, req gateway.Request) gateway.Response
}

// Dependencies holds the collaborators shared by the services. Store and
// Responder are required; the rest fall back to in-process defaults. Services
// built without a Locker share one process-wide lock table.
type Dependencies struct {
	Store     store.Store
	Responder Responder
	Locker    lock.Locker
	Publisher EventPublisher
	Clock     clock.Clock
	Logger    *logger.Logger
}

var localLocker = lock.NewKeyedMutex()

// core is embedded by every service.
type core struct {
	store      store.Store
	locker     lock.Locker
	publisher  EventPublisher
	clock      clock.Clock
	machine    *conversation.Machine
	dispatcher *action.Dispatcher
	logger     *logger.Logger
}

func newCore(deps Dependencies, name string) core {
	if deps.Locker == nil {
		deps.Locker = localLocker
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	machine := conversation.NewMachine(deps.Clock)
	return core{
		store:      deps.Store,
		locker:     deps.Locker,
		publisher:  deps.Publisher,
		clock:      deps.Clock,
		machine:    machine,
		dispatcher: action.NewDispatcher(deps.Clock, machine),
		logger:     deps.Logger.Named(name),
	}
}

// locked runs fn while holding the conversation's lock.
func (c *core) locked(ctx context.Context, tenantID, sessionID string, fn func(ctx context.Context) error) error {
	unlock, err := c.locker.Lock(ctx, lock.Key(tenantID, sessionID))
	if err != nil {
		return fmt.Errorf("lock conversation: %w", err)
	}
	defer unlock()
	return fn(ctx)
}

// mutate loads the conversation under its lock and runs fn in one
// transaction. fn works on a copy; the committed copy is returned.
func (c *core) mutate(ctx context.Context, tenantID, sessionID string, fn func(q store.Queries, conv *model.Conversation) error) (*model.Conversation, error) {
	var committed *model.Conversation
	err := c.locked(ctx, tenantID, sessionID, func(ctx context.Context) error {
		return c.store.WithTx(ctx, func(q store.Queries) error {
			conv, err := q.GetConversation(ctx, tenantID, sessionID)
			if err != nil {
				return err
			}
			if err := fn(q, conv); err != nil {
				return err
			}
			committed = conv
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// publish sends an event after commit. Failures are logged and counted; the
// committed state is authoritative.
func (c *core) publish(ctx context.Context, conv *model.Conversation, typ model.EventType, reason string, meta map[string]any) {
	if c.publisher == nil {
		return
	}
	event := &model.ConversationEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.SessionID,
		TenantID:       conv.TenantID,
		Type:           typ,
		Reason:         reason,
		Metadata:       meta,
		CreatedAt:      c.clock.Now(),
	}
	if _, err := c.publisher.PublishEvent(ctx, event); err != nil {
		metrics.EventsPublished.WithLabelValues(string(typ), "error").Inc()
		c.logger.Warn("failed to publish conversation event",
			zap.String("session_id", conv.SessionID),
			zap.String("event_type", string(typ)),
			zap.Error(err),
		)
		return
	}
	metrics.EventsPublished.WithLabelValues(string(typ), "ok").Inc()
}

func countMessages(conv *model.Conversation, msgs ...*model.Message) {
	for _, m := range msgs {
		metrics.MessagesTotal.WithLabelValues(conv.TenantID, string(m.SenderType)).Inc()
	}
}

// optional turns ErrNotFound into a nil result.
func optional[T any](v *T, err error) (*T, error) {
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	return v, err
}
