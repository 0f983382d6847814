package model

import "time"

// Analytics is a tenant-wide snapshot of support activity.
type Analytics struct {
	Conversations       ConversationCounts   `json:"conversations"`
	Messages            MessageCounts        `json:"messages"`
	Actions             ActionCounts         `json:"actions"`
	RecentConversations []RecentConversation `json:"recent_conversations"`
}

// ConversationCounts counts conversations by status.
type ConversationCounts struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Escalated int `json:"escalated"`
	Resolved  int `json:"resolved"`
	Archived  int `json:"archived"`
}

// MessageCounts counts messages by sender.
type MessageCounts struct {
	Total    int `json:"total"`
	AI       int `json:"ai_messages"`
	Customer int `json:"customer_messages"`
}

// ActionCounts counts support actions by kind.
type ActionCounts struct {
	Total               int `json:"total"`
	Refunds             int `json:"refunds"`
	SubscriptionChanges int `json:"subscription_changes"`
}

// RecentConversation is a row of the analytics recent-activity list.
type RecentConversation struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	CustomerEmail string    `json:"customer_email"`
	Status        Status    `json:"status"`
	MessageCount  int       `json:"message_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// ListCustomersResponse is a page of customers, newest first.
type ListCustomersResponse struct {
	Customers []Customer `json:"customers"`
	HasMore   bool       `json:"has_more"`
}

// CreateSystemPromptRequest is the request to add a system prompt.
type CreateSystemPromptRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Content     string `json:"content" validate:"required"`
	Description string `json:"description,omitempty"`
	Department  string `json:"department,omitempty" validate:"max=100"`
	IsDefault   bool   `json:"is_default,omitempty"`
}

// UpdateSystemPromptRequest changes the fields that are set.
type UpdateSystemPromptRequest struct {
	Content     *string `json:"content,omitempty" validate:"omitempty,min=1"`
	Description *string `json:"description,omitempty"`
	Department  *string `json:"department,omitempty" validate:"omitempty,max=100"`
	IsActive    *bool   `json:"is_active,omitempty"`
	IsDefault   *bool   `json:"is_default,omitempty"`
}
