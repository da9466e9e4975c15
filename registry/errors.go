/*
errors.go - Centralized error types for the engine

PURPOSE:
  All error categories in one place. Callers classify with errors.Is/As or
  the helpers at the bottom; the API layer maps classes to status codes.

ERROR CATEGORIES:
  1. Validation errors - malformed input, rejected before anything persists
  2. Not-found - unknown store id, distinct from conflict
  3. Conflict - optimistic-lock mismatch, carries the server-side version
     (or the current row) so the caller can reconcile
  4. Backend - persistence infrastructure failures
*/
package registry

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrStoreNotFound is returned when a referenced store id doesn't exist.
	ErrStoreNotFound = errors.New("store not found")

	// ErrVersionConflict is returned when optimistic locking detects that
	// another writer committed between the caller's read and this write.
	ErrVersionConflict = errors.New("version conflict")

	// ErrBackendUnavailable wraps infrastructure-level persistence failures.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrUnknownField is returned for field updates outside {balance, dailyBudget}.
	ErrUnknownField = errors.New("unknown field")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError rejects malformed client input. Nothing is persisted and
// no audit event is emitted for these.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError reports a document-level version mismatch. ServerVersion is
// the version currently persisted, which the caller needs to reconcile.
type ConflictError struct {
	ServerVersion int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: server at %d", e.ServerVersion)
}

func (e *ConflictError) Unwrap() error { return ErrVersionConflict }

// RowConflictError reports a row-level conflict in per-row backends. The
// conditional write matched zero rows; Current is the row as it exists now.
type RowConflictError struct {
	Current Store
}

func (e *RowConflictError) Error() string {
	return fmt.Sprintf("row conflict: %s at record version %d", e.Current.ID, e.Current.RecordVersion)
}

func (e *RowConflictError) Unwrap() error { return ErrVersionConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConflict reports whether the caller should re-read and retry or reconcile.
func IsConflict(err error) bool { return errors.Is(err, ErrVersionConflict) }

// IsNotFound reports a missing store, terminal for the call.
func IsNotFound(err error) bool { return errors.Is(err, ErrStoreNotFound) }

// IsValidation reports invalid client input, terminal for the call.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrUnknownField)
}
