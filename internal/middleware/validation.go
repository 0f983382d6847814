package middleware

import (
	"errors"

	"github.com/google/uuid"
)

// ValidateSessionID validates a conversation session ID.
func ValidateSessionID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid session ID format")
	}
	return nil
}

// ValidateActionID validates a support action ID.
func ValidateActionID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid action ID format")
	}
	return nil
}

// ValidatePromptID validates a system prompt ID.
func ValidatePromptID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid prompt ID format")
	}
	return nil
}

// ValidateTenantID validates a tenant ID.
func ValidateTenantID(id string) error {
	if len(id) == 0 {
		return errors.New("tenant ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("tenant ID exceeds maximum length")
	}
	return nil
}
