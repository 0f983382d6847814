// Package model defines data structures for the support desk.
package model

import (
	"time"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusActive    Status = "active"
	StatusEscalated Status = "escalated"
	StatusResolved  Status = "resolved"
	StatusArchived  Status = "archived"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusEscalated, StatusResolved, StatusArchived:
		return true
	}
	return false
}

// Channel is the surface a conversation was started from.
type Channel string

const (
	ChannelWebChat  Channel = "web_chat"
	ChannelAPI      Channel = "api"
	ChannelEmail    Channel = "email"
	ChannelSlack    Channel = "slack"
	ChannelDiscord  Channel = "discord"
	ChannelWhatsApp Channel = "whatsapp"
)

// Priority values.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Conversation represents a support conversation between a customer and the desk.
type Conversation struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	SessionID string `json:"session_id"`

	CustomerEmail      string `json:"customer_email"`
	CustomerName       string `json:"customer_name,omitempty"`
	CustomerExternalID string `json:"customer_external_id,omitempty"`

	Status   Status  `json:"status"`
	Channel  Channel `json:"channel"`
	Priority string  `json:"priority"`

	AssignedToUserID *string    `json:"assigned_to_user_id,omitempty"`
	AssignedAt       *time.Time `json:"assigned_at,omitempty"`

	AIEnabled      bool    `json:"ai_enabled"`
	SystemPromptID *string `json:"system_prompt_id,omitempty"`

	// Analytics
	FirstResponseTimeSeconds *int `json:"first_response_time_seconds,omitempty"`
	ResolutionTimeSeconds    *int `json:"resolution_time_seconds,omitempty"`
	SatisfactionScore        *int `json:"satisfaction_score,omitempty"`

	Metadata      map[string]any `json:"metadata,omitempty"`
	LastMessageAt *time.Time     `json:"last_message_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Clone returns a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.AssignedToUserID = cloneString(c.AssignedToUserID)
	out.AssignedAt = cloneTime(c.AssignedAt)
	out.SystemPromptID = cloneString(c.SystemPromptID)
	out.FirstResponseTimeSeconds = cloneInt(c.FirstResponseTimeSeconds)
	out.ResolutionTimeSeconds = cloneInt(c.ResolutionTimeSeconds)
	out.SatisfactionScore = cloneInt(c.SatisfactionScore)
	out.LastMessageAt = cloneTime(c.LastMessageAt)
	out.Metadata = cloneMap(c.Metadata)
	return &out
}

// StartConversationRequest is the request to start a new conversation.
type StartConversationRequest struct {
	CustomerEmail      string         `json:"customer_email" validate:"required,email"`
	CustomerName       string         `json:"customer_name,omitempty" validate:"max=255"`
	CustomerExternalID string         `json:"customer_id,omitempty" validate:"max=255"`
	Channel            Channel        `json:"channel,omitempty" validate:"omitempty,oneof=web_chat api email slack discord whatsapp"`
	Priority           string         `json:"priority,omitempty" validate:"omitempty,oneof=low normal high urgent"`
	DisableAI          bool           `json:"disable_ai,omitempty"`
	SystemPromptID     string         `json:"system_prompt_id,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// ConversationFilter narrows a conversation listing.
type ConversationFilter struct {
	Status        Status
	CustomerEmail string
	Limit         int
	Offset        int
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	HasMore       bool           `json:"has_more"`
}

// ConversationSummary is a compact view of a conversation.
type ConversationSummary struct {
	SessionID                string     `json:"session_id"`
	CustomerEmail            string     `json:"customer_email"`
	CustomerName             string     `json:"customer_name,omitempty"`
	Status                   Status     `json:"status"`
	AIEnabled                bool       `json:"ai_enabled"`
	MessageCount             int        `json:"message_count"`
	ActionCount              int        `json:"action_count"`
	FirstResponseTimeSeconds *int       `json:"first_response_time_seconds,omitempty"`
	ResolutionTimeSeconds    *int       `json:"resolution_time_seconds,omitempty"`
	SatisfactionScore        *int       `json:"satisfaction_score,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
	LastMessageAt            *time.Time `json:"last_message_at,omitempty"`
}

// SystemPrompt is a tenant-defined instruction block for the AI responder.
type SystemPrompt struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Name        string    `json:"name"`
	Content     string    `json:"content"`
	Description string    `json:"description,omitempty"`
	Department  string    `json:"department"`
	IsActive    bool      `json:"is_active"`
	IsDefault   bool      `json:"is_default"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
