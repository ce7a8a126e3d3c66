package lifecycle

import (
	"errors"
	"fmt"

	"krushilink/internal/models"
)

var (
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrPreconditionFailed = errors.New("payment precondition failed")
	ErrReminderLimit      = errors.New("payment reminder limit reached")
	ErrReminderTooSoon    = errors.New("payment reminder sent too recently")
	ErrMissingReference   = errors.New("payment reference is required")
)

// TransitionError carries the rejected triple. It matches ErrInvalidTransition.
type TransitionError struct {
	From   models.BookingStatus
	Role   models.Role
	Action Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s cannot %s a %s booking", e.Role, e.Action, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

func preconditionError(b *models.Booking, op string) error {
	return fmt.Errorf("%w: %s requires a completed booking with pending payment (status=%s, payment_status=%s)",
		ErrPreconditionFailed, op, b.Status, b.PaymentStatus)
}
