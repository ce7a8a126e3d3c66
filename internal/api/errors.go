package api

import (
	"errors"
	"net/http"

	"krushilink/internal/database"
	"krushilink/internal/lifecycle"
	"krushilink/internal/service"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case service.IsConflict(err),
		errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrPreconditionFailed),
		errors.Is(err, lifecycle.ErrReminderLimit),
		errors.Is(err, lifecycle.ErrReminderTooSoon):
		return http.StatusPreconditionFailed
	case errors.Is(err, service.ErrPaymentNotVerified):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrNotFound), errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, lifecycle.ErrMissingReference),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// errorCode is the machine-readable code sent next to the message.
func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation_error"
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusPreconditionFailed:
		return "precondition_failed"
	case http.StatusPaymentRequired:
		return "payment_not_verified"
	case http.StatusTooManyRequests:
		return "rate_limited"
	default:
		return "internal"
	}
}
