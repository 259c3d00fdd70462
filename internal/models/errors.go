package models

import (
	"errors"
	"fmt"
)

// Error kinds shared by the planner, executor and lifecycle packages.
// Callers match them with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrNotClaimable      = errors.New("post is already claimed")
	ErrNotClaimed        = errors.New("post is not claimed")
	ErrNotOwner          = errors.New("only the owner can do this")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrExpired           = errors.New("trial post has expired")
	ErrAuthRequired      = errors.New("authentication required")
	ErrNoEligibleDomains = errors.New("no eligible domains")
	ErrPersistence       = errors.New("persistence error")
	ErrConflict          = errors.New("already exists")

	// ErrCapacityExceeded is returned by the store when a guarded insert
	// finds the domain's monthly capacity already used up.
	ErrCapacityExceeded = errors.New("domain monthly capacity exceeded")

	// ErrBulkDeleteUnsupported is returned by the store when the atomic
	// expired-trial delete cannot run on the current database.
	ErrBulkDeleteUnsupported = errors.New("bulk delete not supported")
)

// Validationf returns an ErrValidation carrying a formatted reason
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Persistence wraps a storage failure for the named operation
func Persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// ErrorCode returns a short machine-readable code for a known error kind.
// Unknown errors map to "internal".
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotClaimable):
		return "not_claimable"
	case errors.Is(err, ErrNotClaimed):
		return "not_claimed"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrAuthRequired):
		return "auth_required"
	case errors.Is(err, ErrNoEligibleDomains):
		return "no_eligible_domains"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	default:
		return "internal"
	}
}
