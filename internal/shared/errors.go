package shared

import (
	"errors"
	"fmt"
)

// Failure categories returned by the ledger workflows. Module errors wrap one of
// these so transports can map them without knowing the module.
var (
	// ErrValidation indicates malformed or missing input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState indicates a transition attempted from the wrong state.
	ErrInvalidState = errors.New("invalid state")
	// ErrForbidden indicates the actor may not perform the transition.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrQuotaExceeded indicates a subscription entitlement is used up.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrSubscriptionExpired indicates the subscription end date has passed.
	ErrSubscriptionExpired = errors.New("subscription expired")
	// ErrSubscriptionNotActive indicates the subscription is not active.
	ErrSubscriptionNotActive = errors.New("subscription not active")
	// ErrInsufficientStock indicates on-hand quantity is lower than required.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// LineError attaches the 1-based request line to a failure.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// AtLine wraps err with its line number. Nil stays nil.
func AtLine(line int, err error) error {
	if err == nil {
		return nil
	}
	return &LineError{Line: line, Err: err}
}

// Code returns the machine readable code for a failure category.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrInvalidState):
		return "INVALID_STATE"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrQuotaExceeded):
		return "QUOTA_EXCEEDED"
	case errors.Is(err, ErrSubscriptionExpired):
		return "SUBSCRIPTION_EXPIRED"
	case errors.Is(err, ErrSubscriptionNotActive):
		return "SUBSCRIPTION_NOT_ACTIVE"
	case errors.Is(err, ErrInsufficientStock):
		return "INSUFFICIENT_STOCK"
	default:
		return ""
	}
}
