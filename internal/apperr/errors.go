// Package apperr defines the sentinel errors shared across the application.
package apperr

import "errors"

var (
	// ErrValidation covers malformed input: empty rejection reasons,
	// malformed item ids, invalid examiner slugs.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned when an item id does not exist in the case.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when an operation targets an item that is
	// not in DRAFT. Re-approving an already approved item is refused rather
	// than silently ignored, since a no-op could mask tampering.
	ErrInvalidState = errors.New("invalid state")

	// ErrAuth covers PIN mismatches, active lockouts, and a missing
	// confirmation terminal. Operations fail closed on this error.
	ErrAuth = errors.New("authentication failure")

	// ErrIntegrity indicates a reconciliation mismatch. Never auto-corrected;
	// reported for human adjudication.
	ErrIntegrity = errors.New("integrity error")

	// ErrConflict indicates an atomic-write collision (stale read).
	ErrConflict = errors.New("conflict")

	// ErrSelfImport is returned when importing a bundle authored under the
	// importing examiner's own identity.
	ErrSelfImport = errors.New("self import refused")
)
