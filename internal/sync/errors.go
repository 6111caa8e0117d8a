// Package sync drains the durable operation queue against the server
// while preserving per-job ordering, and reports progress to consumers.
package sync

import (
	"errors"
	"fmt"
)

// ConflictError means the server reported that the local intent is no
// longer valid (job cancelled, reassigned, or completed by someone
// else). Conflicts are never retried automatically: blind replay would
// re-apply already-invalid local state.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("sync conflict: %s", e.Reason)
}

// AuthError aborts the whole sync pass; the user must re-authenticate
// before any further operation can succeed.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// TransientError covers network failures, timeouts and server 5xx
// responses. Transient failures are retried with exponential backoff.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient sync error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsConflict reports whether err is a conflict response
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsAuth reports whether err is an authentication failure
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsTransient reports whether err should be retried with backoff
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
