// Package store defines the tenant-scoped persistence port of the support desk
// and an in-memory implementation.
package store

import (
	"context"
	"time"

	"github.com/capitalize-ai/support-desk/internal/model"
)

// Queries is the set of tenant-scoped reads and writes. Every method takes the
// tenant explicitly and never returns rows of another tenant: a row owned by
// a different tenant is reported as apperr.ErrNotFound.
type Queries interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *model.Conversation) error
	GetConversation(ctx context.Context, tenantID, sessionID string) (*model.Conversation, error)
	UpdateConversation(ctx context.Context, conv *model.Conversation) error
	ListConversations(ctx context.Context, tenantID string, filter model.ConversationFilter) ([]model.Conversation, error)
	// DeleteConversation removes the conversation with its messages and actions.
	DeleteConversation(ctx context.Context, tenantID, conversationID string) error

	// Messages. AppendMessage assigns msg.Sequence.
	AppendMessage(ctx context.Context, msg *model.Message) error
	ListMessages(ctx context.Context, tenantID, conversationID string) ([]model.Message, error)
	CountMessages(ctx context.Context, tenantID, conversationID string) (int, error)

	// Support actions
	CreateAction(ctx context.Context, action *model.SupportAction) error
	UpdateAction(ctx context.Context, action *model.SupportAction) error
	GetAction(ctx context.Context, tenantID, actionID string) (*model.SupportAction, error)
	ListActions(ctx context.Context, tenantID, conversationID string) ([]model.SupportAction, error)
	// LatestAction returns the most recent action of the given type, or ErrNotFound.
	LatestAction(ctx context.Context, tenantID, conversationID, actionType string) (*model.SupportAction, error)

	// Customers
	UpsertCustomer(ctx context.Context, customer *model.Customer) (*model.Customer, error)
	GetCustomer(ctx context.Context, tenantID, email string) (*model.Customer, error)
	UpdateCustomerSubscription(ctx context.Context, tenantID, email, status, plan string) (*model.Customer, error)
	// RecordCustomerConversation atomically increments total_conversations.
	RecordCustomerConversation(ctx context.Context, tenantID, email string, at time.Time) error
	// ListCustomers pages the tenant's customers, newest first.
	ListCustomers(ctx context.Context, tenantID string, limit, offset int) ([]model.Customer, error)

	// System prompts
	GetSystemPrompt(ctx context.Context, tenantID, promptID string) (*model.SystemPrompt, error)
	GetDefaultSystemPrompt(ctx context.Context, tenantID string) (*model.SystemPrompt, error)
	// ListSystemPrompts returns the tenant's prompts, newest first.
	ListSystemPrompts(ctx context.Context, tenantID string) ([]model.SystemPrompt, error)
	// CreateSystemPrompt fails with ErrConflict when the tenant already has a
	// prompt of that name.
	CreateSystemPrompt(ctx context.Context, prompt *model.SystemPrompt) error
	UpdateSystemPrompt(ctx context.Context, prompt *model.SystemPrompt) error
	DeleteSystemPrompt(ctx context.Context, tenantID, promptID string) error

	// Analytics counts the tenant's activity and lists its most recent
	// conversations.
	Analytics(ctx context.Context, tenantID string, recent int) (*model.Analytics, error)
}

// Store is a Queries that can run a group of writes atomically.
type Store interface {
	Queries

	// WithTx runs fn in one transaction. If fn returns an error nothing fn
	// wrote is kept. fn must use q, not the Store it was called on.
	WithTx(ctx context.Context, fn func(q Queries) error) error

	// Ping checks that the backing storage is reachable.
	Ping(ctx context.Context) error
}

// Default page size for listings.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// NormalizeFilter applies default paging to f.
func NormalizeFilter(f model.ConversationFilter) model.ConversationFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
