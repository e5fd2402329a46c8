package booking

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation error")
	ErrSlotUnavailable   = errors.New("slot unavailable")
	ErrInvalidTransition = errors.New("invalid transition")
)

var (
	ErrTenantNotFound  = fmt.Errorf("tenant %w", ErrNotFound)
	ErrServiceNotFound = fmt.Errorf("service %w", ErrNotFound)
	ErrStaffNotFound   = fmt.Errorf("staff %w", ErrNotFound)
	ErrBookingNotFound = fmt.Errorf("booking %w", ErrNotFound)
)

// errStatusChanged is returned by repositories when a compare-and-swap on status finds
// a different current status. The service turns it into a TransitionError.
var errStatusChanged = errors.New("booking status changed concurrently")

// ValidationError reports malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// TransitionError names the status a booking was in and the one that was asked for.
type TransitionError struct {
	From   BookingStatus
	To     BookingStatus
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
