package service

import (
	"errors"
	"fmt"

	"krushilink/internal/database"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrValidation         = errors.New("validation failed")
	ErrConflict           = errors.New("already exists")
	ErrPersistence        = errors.New("persistence failure")
	ErrPaymentNotVerified = errors.New("payment not verified")
)

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storeError classifies a repository error. Missing rows become ErrNotFound,
// duplicates ErrConflict, everything else (including version conflicts) ErrPersistence.
// The original error stays in the chain.
func storeError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, database.ErrNotFound):
		return fmt.Errorf("%s: %w: %w", what, ErrNotFound, err)
	case errors.Is(err, database.ErrDuplicate):
		return fmt.Errorf("%s: %w: %w", what, ErrConflict, err)
	default:
		return fmt.Errorf("%s: %w: %w", what, ErrPersistence, err)
	}
}

// IsConflict reports a version mismatch; the caller may reload and retry.
func IsConflict(err error) bool {
	return errors.Is(err, database.ErrConcurrentModification)
}
