package ports

import (
	"errors"
	"fmt"
)

// ErrorCategory defines the normalized collaborator failure taxonomy.
type ErrorCategory string

const (
	ErrorTimeout     ErrorCategory = "timeout"
	ErrorBadData     ErrorCategory = "bad_data"
	ErrorOutage      ErrorCategory = "outage"
	ErrorNotFound    ErrorCategory = "not_found"
	ErrorRateLimit   ErrorCategory = "rate_limited"
	ErrorCircuitOpen ErrorCategory = "circuit_open"
	ErrorInternal    ErrorCategory = "internal"
)

// CollaboratorError wraps collaborator failures with normalized categorization.
type CollaboratorError struct {
	Category     ErrorCategory
	Collaborator string
	Message      string
	Underlying   error
	Retryable    bool
}

func (e *CollaboratorError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("collaborator %s [%s]: %s: %v", e.Collaborator, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("collaborator %s [%s]: %s", e.Collaborator, e.Category, e.Message)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Underlying
}

// NewCollaboratorError creates a categorized error. Timeouts, outages and
// rate limits are retryable.
func NewCollaboratorError(category ErrorCategory, collaborator, message string, underlying error) *CollaboratorError {
	retryable := category == ErrorTimeout ||
		category == ErrorOutage ||
		category == ErrorRateLimit
	return &CollaboratorError{
		Category:     category,
		Collaborator: collaborator,
		Message:      message,
		Underlying:   underlying,
		Retryable:    retryable,
	}
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// CategoryOf extracts the error category from an error.
func CategoryOf(err error) ErrorCategory {
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return ErrorInternal
}
