package state

import (
	"time"

	"github.com/heirloomhq/sdk/ledger"
)

type Status string

const (
	StatusUninitialized = Status("uninitialized")
	StatusActive        = Status("active")
	StatusClaimed       = Status("claimed")
	StatusCancelled     = Status("cancelled")
)

// Switch is the custody record for one owner. The zero value is an
// uninitialized switch.
type Switch struct {
	// Owner is the account that created the switch and escrowed the amount.
	// It doubles as the record's key and never changes.
	Owner ledger.Account

	// Beneficiary is the account that may claim the escrowed amount once the
	// owner has been silent for the timeout period.
	Beneficiary ledger.Account

	// Amount is the escrowed value in the ledger's smallest unit. Set at
	// creation, immutable after.
	Amount uint64

	// LastLiveness is when the owner last proved activity. Set at creation
	// and reset by every accepted heartbeat. Monotonic while active.
	LastLiveness time.Time

	// TimeoutPeriod is how long the owner may stay silent before the switch
	// becomes claimable. Set at creation, immutable after.
	TimeoutPeriod time.Duration

	// DataPointer is an opaque content identifier for externally stored data
	// released alongside the value. May be empty.
	DataPointer string

	// Claimed is true once the beneficiary has been paid out. Permanent.
	Claimed bool

	// Active is true from creation until cancellation or claim. Permanent
	// once false.
	Active bool
}

// Status derives the lifecycle status from the record's flags.
func (s Switch) Status() Status {
	switch {
	case s.Owner == "":
		return StatusUninitialized
	case s.Active:
		return StatusActive
	case s.Claimed:
		return StatusClaimed
	default:
		return StatusCancelled
	}
}

// Deadline is the instant the switch becomes claimable if no further heartbeat
// arrives.
func (s Switch) Deadline() time.Time {
	return s.LastLiveness.Add(s.TimeoutPeriod)
}

// Claimable reports whether the beneficiary may claim the switch at the given
// time. It is a pure derivation; authorization is checked at claim time by the
// registry, not here.
func Claimable(s Switch, now time.Time) bool {
	return s.Active && !s.Claimed && !now.Before(s.Deadline())
}

// TimeRemaining is how long until the switch becomes claimable, zero if it
// already is or if the switch is not active. For an active unclaimed switch,
// TimeRemaining is zero exactly when Claimable is true.
func TimeRemaining(s Switch, now time.Time) time.Duration {
	if !s.Active || s.Claimed {
		return 0
	}
	remaining := s.Deadline().Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TimeoutFromDays converts a day count, as collected by presentation layers,
// to a timeout period.
func TimeoutFromDays(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
