// Package registry contains the custody registry, the authoritative mapping
// from owner account to at most one Switch record, and the state machine
// commands over it.
//
// Commands against the same owner's record are serialized; commands against
// different owners' records proceed concurrently. A command that moves value
// (Initialize, Cancel, Claim) only mutates the record after the ledger has
// confirmed the dependent transfer, so an observable record never disagrees
// with the ledger about where the escrowed value is.
package registry

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/heirloomhq/sdk/ledger"
	"github.com/heirloomhq/sdk/state"
)

// AccountValidator checks that an account identifier is well formed for the
// ledger in use. Implementations are provided by ledger adapter packages.
type AccountValidator func(ledger.Account) error

// Snapshotter is given a snapshot of the registry's records whenever a command
// changes them. Snapshots can be restored using NewRegistryFromSnapshot.
type Snapshotter interface {
	Snapshot(r *Registry, s Snapshot)
}

type Config struct {
	// Ledger is used to pull escrow on initialize and to pay out on cancel
	// and claim.
	Ledger ledger.Ledger

	// CustodyAccount is the account that holds escrowed value on behalf of
	// the registry.
	CustodyAccount ledger.Account

	// ValidateAccount checks beneficiary identifiers on initialize and
	// update. Optional; when nil only empty identifiers are rejected.
	ValidateAccount AccountValidator

	// Clock is the registry's time source, used for liveness stamps and for
	// the claimability window. Defaults to time.Now. Claimability reads and
	// claim attempts share this clock so they cannot drift apart.
	Clock func() time.Time

	Snapshotter Snapshotter

	LogWriter io.Writer
}

type Registry struct {
	ledger          ledger.Ledger
	custodyAccount  ledger.Account
	validateAccount AccountValidator
	clock           func() time.Time
	snapshotter     Snapshotter
	logWriter       io.Writer

	// mu guards the entries map only. Each entry has its own lock so that a
	// slow ledger confirmation for one owner never blocks another owner's
	// commands.
	mu      sync.Mutex
	entries map[ledger.Account]*entry
}

type entry struct {
	mu sync.Mutex
	s  state.Switch
}

func NewRegistry(c Config) *Registry {
	r := &Registry{
		ledger:          c.Ledger,
		custodyAccount:  c.CustodyAccount,
		validateAccount: c.ValidateAccount,
		clock:           c.Clock,
		snapshotter:     c.Snapshotter,
		logWriter:       c.LogWriter,
		entries:         map[ledger.Account]*entry{},
	}
	if r.clock == nil {
		r.clock = time.Now
	}
	if r.logWriter == nil {
		r.logWriter = io.Discard
	}
	return r
}

// Snapshot is the registry's records at one point in time, in a form that
// round-trips through JSON. Terminal records are included: nothing is ever
// physically deleted.
type Snapshot struct {
	Switches []state.Switch
}

// NewRegistryFromSnapshot creates a registry holding the records of a
// previously taken snapshot. The same config should be provided that was in
// use when the snapshot was taken.
func NewRegistryFromSnapshot(c Config, s Snapshot) *Registry {
	r := NewRegistry(c)
	for _, sw := range s.Switches {
		r.entries[sw.Owner] = &entry{s: sw}
	}
	return r
}

// Snapshot returns the registry's current records sorted by owner.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()
	s := Snapshot{Switches: make([]state.Switch, 0, len(entries))}
	for _, e := range entries {
		e.mu.Lock()
		s.Switches = append(s.Switches, e.s)
		e.mu.Unlock()
	}
	sort.Slice(s.Switches, func(i, j int) bool {
		return s.Switches[i].Owner < s.Switches[j].Owner
	})
	return s
}

func (r *Registry) snapshot() {
	if r.snapshotter == nil {
		return
	}
	r.snapshotter.Snapshot(r, r.Snapshot())
}

// Now returns the registry's current time. Claimability derived from a record
// read through the registry should use this time source.
func (r *Registry) Now() time.Time {
	return r.clock()
}

// entry returns the existing entry for the owner, or creates one if create is
// set.
func (r *Registry) entry(owner ledger.Account, create bool) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[owner]
	if !ok && create {
		e = &entry{}
		r.entries[owner] = e
	}
	return e
}

type InitializeParams struct {
	Owner         ledger.Account
	Beneficiary   ledger.Account
	Amount        uint64
	TimeoutPeriod time.Duration
}

func (r *Registry) validateBeneficiary(owner, beneficiary ledger.Account) error {
	if beneficiary == "" {
		return fmt.Errorf("beneficiary is empty: %w", ErrInvalidBeneficiary)
	}
	if beneficiary == owner {
		return fmt.Errorf("beneficiary is the owner: %w", ErrInvalidBeneficiary)
	}
	if r.validateAccount != nil {
		if err := r.validateAccount(beneficiary); err != nil {
			return fmt.Errorf("%v: %w", err, ErrInvalidBeneficiary)
		}
	}
	return nil
}

// Initialize creates and activates a switch for the owner, pulling the amount
// from the owner's account into custody using the owner's prior authorization.
// The record becomes active only after the ledger confirms the pull; if the
// pull fails no record change is observable and Initialize may be retried.
func (r *Registry) Initialize(ctx context.Context, p InitializeParams) (state.Switch, error) {
	if p.Owner == "" {
		return state.Switch{}, fmt.Errorf("owner is empty: %w", ErrUnauthorized)
	}
	if err := r.validateBeneficiary(p.Owner, p.Beneficiary); err != nil {
		return state.Switch{}, err
	}
	if p.Amount == 0 {
		return state.Switch{}, fmt.Errorf("amount is zero: %w", ErrInvalidAmount)
	}
	if p.TimeoutPeriod <= 0 {
		return state.Switch{}, fmt.Errorf("timeout period is zero: %w", ErrInvalidPeriod)
	}

	e := r.entry(p.Owner, true)
	e.mu.Lock()
	if e.s.Active {
		e.mu.Unlock()
		return state.Switch{}, fmt.Errorf("initializing switch for %s: %w", p.Owner, ErrAlreadyActive)
	}

	// Pull the escrow before any record change. A failed pull leaves the
	// prior record, terminal or uninitialized, untouched.
	err := r.ledger.Transfer(ctx, p.Owner, r.custodyAccount, p.Amount)
	if err != nil {
		e.mu.Unlock()
		return state.Switch{}, fmt.Errorf("pulling %d into custody for %s: %w", p.Amount, p.Owner, err)
	}

	e.s = state.Switch{
		Owner:         p.Owner,
		Beneficiary:   p.Beneficiary,
		Amount:        p.Amount,
		LastLiveness:  r.clock(),
		TimeoutPeriod: p.TimeoutPeriod,
		Active:        true,
	}
	s := e.s
	e.mu.Unlock()

	fmt.Fprintf(r.logWriter, "switch initialized: owner=%s beneficiary=%s amount=%d timeout=%s\n",
		s.Owner, s.Beneficiary, s.Amount, s.TimeoutPeriod)
	r.snapshot()
	return s, nil
}

// Heartbeat records proof of the owner's activity, resetting the claimability
// clock. The liveness stamp never moves backwards.
func (r *Registry) Heartbeat(ctx context.Context, owner ledger.Account) (state.Switch, error) {
	e := r.entry(owner, false)
	if e == nil {
		return state.Switch{}, fmt.Errorf("heartbeat for %s: %w", owner, ErrNotFound)
	}
	e.mu.Lock()
	if !e.s.Active {
		e.mu.Unlock()
		return state.Switch{}, fmt.Errorf("heartbeat for %s: %w", owner, ErrNotActive)
	}
	if now := r.clock(); now.After(e.s.LastLiveness) {
		e.s.LastLiveness = now
	}
	s := e.s
	e.mu.Unlock()
	r.snapshot()
	return s, nil
}

// Cancel deactivates the owner's switch and returns the escrowed amount to the
// owner. The payout and the deactivation are one unit: if the payout fails the
// switch stays active and Cancel may be retried.
func (r *Registry) Cancel(ctx context.Context, owner ledger.Account) (state.Switch, error) {
	e := r.entry(owner, false)
	if e == nil {
		return state.Switch{}, fmt.Errorf("cancelling switch for %s: %w", owner, ErrNotFound)
	}
	e.mu.Lock()
	if !e.s.Active {
		e.mu.Unlock()
		return state.Switch{}, fmt.Errorf("cancelling switch for %s: %w", owner, ErrNotActive)
	}
	err := r.ledger.Transfer(ctx, r.custodyAccount, owner, e.s.Amount)
	if err != nil {
		e.mu.Unlock()
		return state.Switch{}, fmt.Errorf("releasing %d to %s: %w", e.s.Amount, owner, err)
	}
	e.s.Active = false
	s := e.s
	e.mu.Unlock()

	fmt.Fprintf(r.logWriter, "switch cancelled: owner=%s amount=%d\n", s.Owner, s.Amount)
	r.snapshot()
	return s, nil
}

// Claim pays the escrowed amount out to the beneficiary. It succeeds at most
// once per switch: the payout precedes the flag flip, and the flag flip under
// the record's lock makes any concurrent claim fail with AlreadyClaimed.
func (r *Registry) Claim(ctx context.Context, caller, owner ledger.Account) (state.Switch, error) {
	e := r.entry(owner, false)
	if e == nil {
		return state.Switch{}, fmt.Errorf("claiming switch of %s: %w", owner, ErrNotFound)
	}
	e.mu.Lock()
	if caller == "" || caller != e.s.Beneficiary {
		e.mu.Unlock()
		return state.Switch{}, fmt.Errorf("claiming switch of %s: caller is not the beneficiary: %w", owner, ErrUnauthorized)
	}
	if e.s.Claimed {
		e.mu.Unlock()
		return state.Switch{}, fmt.Errorf("claiming switch of %s: %w", owner, ErrAlreadyClaimed)
	}
	if !e.s.Active {
		e.mu.Unlock()
		return state.Switch{}, fmt.Errorf("claiming switch of %s: %w", owner, ErrNotActive)
	}
	if !state.Claimable(e.s, r.clock()) {
		e.mu.Unlock()
		return state.Switch{}, fmt.Errorf("claiming switch of %s: %w", owner, ErrNotClaimable)
	}
	err := r.ledger.Transfer(ctx, r.custodyAccount, e.s.Beneficiary, e.s.Amount)
	if err != nil {
		e.mu.Unlock()
		return state.Switch{}, fmt.Errorf("paying out %d to %s: %w", e.s.Amount, e.s.Beneficiary, err)
	}
	e.s.Claimed = true
	e.s.Active = false
	s := e.s
	e.mu.Unlock()

	fmt.Fprintf(r.logWriter, "switch claimed: owner=%s beneficiary=%s amount=%d\n", s.Owner, s.Beneficiary, s.Amount)
	r.snapshot()
	return s, nil
}

// UpdateBeneficiary changes who may claim the owner's active switch.
func (r *Registry) UpdateBeneficiary(ctx context.Context, owner, newBeneficiary ledger.Account) (state.Switch, error) {
	if err := r.validateBeneficiary(owner, newBeneficiary); err != nil {
		return state.Switch{}, err
	}
	e := r.entry(owner, false)
	if e == nil {
		return state.Switch{}, fmt.Errorf("updating beneficiary for %s: %w", owner, ErrNotFound)
	}
	e.mu.Lock()
	if !e.s.Active {
		e.mu.Unlock()
		return state.Switch{}, fmt.Errorf("updating beneficiary for %s: %w", owner, ErrNotActive)
	}
	e.s.Beneficiary = newBeneficiary
	s := e.s
	e.mu.Unlock()
	r.snapshot()
	return s, nil
}

// UpdateDataPointer sets the content identifier released alongside the value.
// Repeating the call with the same pointer is a no-op; setting an empty
// pointer clears it.
func (r *Registry) UpdateDataPointer(ctx context.Context, owner ledger.Account, pointer string) (state.Switch, error) {
	e := r.entry(owner, false)
	if e == nil {
		return state.Switch{}, fmt.Errorf("updating data pointer for %s: %w", owner, ErrNotFound)
	}
	e.mu.Lock()
	if !e.s.Active {
		e.mu.Unlock()
		return state.Switch{}, fmt.Errorf("updating data pointer for %s: %w", owner, ErrNotActive)
	}
	e.s.DataPointer = pointer
	s := e.s
	e.mu.Unlock()
	r.snapshot()
	return s, nil
}

// Read returns the owner's record. Only the owner and the beneficiary may
// read it; anyone else gets NotFound, the same as when no record exists.
func (r *Registry) Read(caller, owner ledger.Account) (state.Switch, error) {
	e := r.entry(owner, false)
	if e == nil {
		return state.Switch{}, fmt.Errorf("reading switch of %s: %w", owner, ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.Owner == "" {
		return state.Switch{}, fmt.Errorf("reading switch of %s: %w", owner, ErrNotFound)
	}
	if caller != e.s.Owner && caller != e.s.Beneficiary {
		return state.Switch{}, fmt.Errorf("reading switch of %s: %w", owner, ErrNotFound)
	}
	return e.s, nil
}

// Claimable reports whether the owner's switch is claimable at the registry's
// current time, under the registry's read visibility rules.
func (r *Registry) Claimable(caller, owner ledger.Account) (bool, error) {
	s, err := r.Read(caller, owner)
	if err != nil {
		return false, err
	}
	return state.Claimable(s, r.clock()), nil
}

// TimeRemaining reports how long until the owner's switch becomes claimable,
// zero if it already is, under the registry's read visibility rules.
func (r *Registry) TimeRemaining(caller, owner ledger.Account) (time.Duration, error) {
	s, err := r.Read(caller, owner)
	if err != nil {
		return 0, err
	}
	return state.TimeRemaining(s, r.clock()), nil
}

// IsBeneficiary reports whether caller is the beneficiary of the owner's
// switch. A missing record reports false rather than an error, so callers can
// probe before navigating to a claim.
func (r *Registry) IsBeneficiary(caller, owner ledger.Account) bool {
	s, err := r.Read(caller, owner)
	if err != nil {
		return false
	}
	return caller == s.Beneficiary
}
