package webhooks

import (
	"errors"
	"fmt"
)

var (
	// ErrSubscriptionNotFound is returned when a subscription does not exist
	// or does not belong to the requesting owner.
	ErrSubscriptionNotFound = errors.New("webhook subscription not found")

	// ErrDeliveryNotFound is returned when a delivery event does not exist.
	ErrDeliveryNotFound = errors.New("webhook delivery not found")
)

// ValidationError describes a request field rejected before persistence.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func newValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
