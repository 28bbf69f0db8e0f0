package registry

import "errors"

// Validation errors. Caller input is wrong and must be corrected before
// resubmitting.
var (
	ErrInvalidBeneficiary = errors.New("invalid beneficiary")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidPeriod      = errors.New("invalid timeout period")
)

// ErrUnauthorized reports that the caller is not the owner or beneficiary the
// operation requires. Never retryable.
var ErrUnauthorized = errors.New("unauthorized")

// State errors. The operation is invalid given the switch's current
// lifecycle state.
var (
	ErrAlreadyActive  = errors.New("switch already active")
	ErrNotActive      = errors.New("switch not active")
	ErrNotClaimable   = errors.New("switch not claimable")
	ErrAlreadyClaimed = errors.New("switch already claimed")
	ErrNotFound       = errors.New("switch not found")
)
