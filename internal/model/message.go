package model

import (
	"time"
)

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderCustomer   SenderType = "customer"
	SenderAI         SenderType = "ai"
	SenderHumanAgent SenderType = "human_agent"
	SenderSystem     SenderType = "system"
)

// ContentType is the rendering format of a message body.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentMarkdown ContentType = "markdown"
	ContentHTML     ContentType = "html"
)

// Message represents a single conversation message.
type Message struct {
	// Identity
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	TenantID       string `json:"tenant_id"`
	Sequence       int64  `json:"sequence"`

	// Content
	SenderType  SenderType  `json:"sender_type"`
	SenderID    string      `json:"sender_id,omitempty"`
	SenderName  string      `json:"sender_name,omitempty"`
	Content     string      `json:"content"`
	ContentType ContentType `json:"content_type"`

	// AI metadata (nil for non-AI messages)
	AIModel      *string  `json:"ai_model,omitempty"`
	AIConfidence *int     `json:"ai_confidence,omitempty"`
	AIToolsUsed  []string `json:"ai_tools_used,omitempty"`

	Metadata         map[string]any `json:"metadata,omitempty"`
	ProcessingTimeMs *int64         `json:"processing_time_ms,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	out.AIModel = cloneString(m.AIModel)
	out.AIConfidence = cloneInt(m.AIConfidence)
	if m.AIToolsUsed != nil {
		out.AIToolsUsed = append([]string(nil), m.AIToolsUsed...)
	}
	if m.ProcessingTimeMs != nil {
		v := *m.ProcessingTimeMs
		out.ProcessingTimeMs = &v
	}
	out.Metadata = cloneMap(m.Metadata)
	return out
}

// SendMessageRequest is the request to send a customer message.
type SendMessageRequest struct {
	SessionID string `json:"session_id" validate:"required,uuid"`
	Content   string `json:"content" validate:"required,max=100000"`
}

// AgentMessageRequest is the request for a human agent reply.
type AgentMessageRequest struct {
	Content     string      `json:"content" validate:"required,max=100000"`
	ContentType ContentType `json:"content_type,omitempty" validate:"omitempty,oneof=text markdown html"`
	SenderName  string      `json:"sender_name,omitempty"`
}
