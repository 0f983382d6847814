package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ActionStatus is the execution state of a support action.
type ActionStatus string

const (
	ActionPending    ActionStatus = "pending"
	ActionInProgress ActionStatus = "in_progress"
	ActionCompleted  ActionStatus = "completed"
	ActionFailed     ActionStatus = "failed"
	ActionCancelled  ActionStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s ActionStatus) Terminal() bool {
	return s == ActionCompleted || s == ActionFailed || s == ActionCancelled
}

// CanTransition reports whether s may move to next.
func (s ActionStatus) CanTransition(next ActionStatus) bool {
	switch s {
	case ActionPending:
		return next == ActionInProgress || next == ActionCancelled || next == ActionFailed
	case ActionInProgress:
		return next == ActionCompleted || next == ActionFailed
	}
	return false
}

// Action types recorded in the support action log.
const (
	ActionTypeRefund             = "refund"
	ActionTypeSubscriptionPrefix = "subscription_"
	ActionTypeEscalate           = "escalate_to_human"
)

// SupportAction is the durable record of a side-effecting operation.
type SupportAction struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	TenantID       string `json:"tenant_id"`

	ActionType string         `json:"action_type"`
	ActionData map[string]any `json:"action_data,omitempty"`

	Status           ActionStatus `json:"status"`
	ExecutedByAI     bool         `json:"executed_by_ai"`
	ExecutedByUserID *string      `json:"executed_by_user_id,omitempty"`

	ResultData   map[string]any `json:"result_data,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`

	ExecutedAt *time.Time `json:"executed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Clone returns a deep copy of the action.
func (a *SupportAction) Clone() *SupportAction {
	if a == nil {
		return nil
	}
	out := *a
	out.ActionData = cloneMap(a.ActionData)
	out.ResultData = cloneMap(a.ResultData)
	out.ExecutedByUserID = cloneString(a.ExecutedByUserID)
	out.ExecutedAt = cloneTime(a.ExecutedAt)
	return &out
}

// Customer is the end customer of a tenant.
type Customer struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	Email      string `json:"email"`
	Name       string `json:"name,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	Phone      string `json:"phone,omitempty"`

	SubscriptionStatus string          `json:"subscription_status"`
	SubscriptionPlan   string          `json:"subscription_plan"`
	TotalSpent         decimal.Decimal `json:"total_spent"`

	Metadata map[string]any `json:"metadata,omitempty"`

	TotalConversations int        `json:"total_conversations"`
	LastConversationAt *time.Time `json:"last_conversation_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the customer.
func (c *Customer) Clone() *Customer {
	if c == nil {
		return nil
	}
	out := *c
	out.Metadata = cloneMap(c.Metadata)
	out.LastConversationAt = cloneTime(c.LastConversationAt)
	return &out
}

// Defaults for a customer first seen through a conversation.
const (
	SubscriptionUnknown = "unknown"
	PlanNone            = "none"
)

// ExecuteActionRequest is a human-initiated support action.
type ExecuteActionRequest struct {
	ActionType string         `json:"action_type" validate:"required"`
	Arguments  map[string]any `json:"arguments"`
}
