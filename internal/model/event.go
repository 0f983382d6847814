package model

import (
	"time"
)

// EventType represents the type of conversation event.
type EventType string

const (
	EventTypeStarted        EventType = "conversation_started"
	EventTypeTurnCompleted  EventType = "turn_completed"
	EventTypeAIFallback     EventType = "ai_fallback"
	EventTypeEscalated      EventType = "escalated"
	EventTypeResolved       EventType = "resolved"
	EventTypeReopened       EventType = "reopened"
	EventTypeArchived       EventType = "archived"
	EventTypeAgentMessage   EventType = "agent_message"
	EventTypeActionExecuted EventType = "action_executed"
)

// ConversationEvent represents an event in a conversation.
type ConversationEvent struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	TenantID       string         `json:"tenant_id"`
	Type           EventType      `json:"type"`
	Reason         string         `json:"reason,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	Sequence       uint64         `json:"sequence,omitempty"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
