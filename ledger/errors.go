package ledger

import (
	"errors"
	"fmt"
)

// UnavailableError reports that the ledger could not be reached or did not
// answer in time. The operation may or may not have been applied; callers may
// retry with the same inputs once the outcome is known.
type UnavailableError struct {
	Err error
}

func NewUnavailableError(err error) *UnavailableError {
	return &UnavailableError{Err: err}
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("ledger unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// RejectedError reports that the ledger received the operation and refused it,
// for example because of an insufficient balance or authorization. Retrying
// with the same inputs will fail the same way.
type RejectedError struct {
	Err error
}

func NewRejectedError(err error) *RejectedError {
	return &RejectedError{Err: err}
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("ledger rejected operation: %v", e.Err)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err classifies as a transient ledger failure.
func IsUnavailable(err error) bool {
	var u *UnavailableError
	return errors.As(err, &u)
}

// IsRejected reports whether err classifies as a definitive ledger rejection.
func IsRejected(err error) bool {
	var r *RejectedError
	return errors.As(err, &r)
}
