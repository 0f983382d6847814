package model

// ActionOutcome reports one support action executed during a turn or API call.
type ActionOutcome struct {
	ActionID       string         `json:"action_id,omitempty"`
	Tool           string         `json:"tool"`
	ActionType     string         `json:"action_type"`
	Status         ActionStatus   `json:"status"`
	Result         map[string]any `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`
	AlreadyApplied bool           `json:"already_applied,omitempty"`
}

// TurnResult is the outcome of handling one customer message.
type TurnResult struct {
	SessionID         string          `json:"session_id"`
	CustomerMessageID string          `json:"message_id"`
	AIMessageID       string          `json:"ai_message_id,omitempty"`
	AIResponse        string          `json:"ai_response,omitempty"`
	Confidence        *float64        `json:"confidence,omitempty"`
	Error             bool            `json:"error,omitempty"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	Actions           []ActionOutcome `json:"actions,omitempty"`
	Status            Status          `json:"status"`
}

// EscalationResult is the outcome of an escalation request.
type EscalationResult struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	EscalationID      string `json:"escalation_id"`
	EstimatedWaitTime string `json:"estimated_wait_time"`
	AlreadyEscalated  bool   `json:"already_escalated,omitempty"`
}
