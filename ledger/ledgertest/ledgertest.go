// Package ledgertest provides an in-memory implementation of ledger.Ledger
// for tests. Balances and authorizations behave like a fungible token
// contract: transfers out of an account the ledger was not told to treat as
// self-custodied consume the granted authorization.
package ledgertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/heirloomhq/sdk/ledger"
)

var _ ledger.Ledger = &Ledger{}
var _ ledger.DecimalsQuerier = &Ledger{}

type authKey struct {
	owner, spender ledger.Account
}

// Ledger is an in-memory value ledger. The zero value is not usable; create
// with NewLedger.
type Ledger struct {
	mu             sync.Mutex
	balances       map[ledger.Account]uint64
	authorizations map[authKey]uint64
	spenders       map[ledger.Account]bool
	decimals       uint8
	decimalsErr    error

	// nextErrs are consumed one per call, letting tests script transient and
	// definitive failures.
	nextErrs []error

	transfers []Transfer
}

// Transfer records one confirmed transfer for assertions.
type Transfer struct {
	From, To ledger.Account
	Amount   uint64
}

func NewLedger() *Ledger {
	return &Ledger{
		balances:       map[ledger.Account]uint64{},
		authorizations: map[authKey]uint64{},
		spenders:       map[ledger.Account]bool{},
		decimals:       6,
	}
}

// RequireAuthorization marks spender as an account that pulls value it does
// not own: every transfer into it consumes, and therefore requires, an
// authorization from the sender. Custody accounts are registered this way so
// tests exercise the allowance protocol rather than bypassing it.
func (l *Ledger) RequireAuthorization(spender ledger.Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spenders[spender] = true
}

// FundAccount credits the account, creating it if needed.
func (l *Ledger) FundAccount(account ledger.Account, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += amount
}

// FailNext makes the next len(errs) ledger calls fail with the given errors in
// order, before any state change.
func (l *Ledger) FailNext(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextErrs = append(l.nextErrs, errs...)
}

// SetDecimals sets the value returned by Decimals.
func (l *Ledger) SetDecimals(d uint8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decimals = d
	l.decimalsErr = nil
}

// FailDecimals makes every Decimals call fail with err until SetDecimals is
// called.
func (l *Ledger) FailDecimals(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decimalsErr = err
}

// Transfers returns every confirmed transfer in order.
func (l *Ledger) Transfers() []Transfer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Transfer(nil), l.transfers...)
}

func (l *Ledger) popErr() error {
	if len(l.nextErrs) == 0 {
		return nil
	}
	err := l.nextErrs[0]
	l.nextErrs = l.nextErrs[1:]
	return err
}

func (l *Ledger) BalanceOf(ctx context.Context, account ledger.Account) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.popErr(); err != nil {
		return 0, err
	}
	return l.balances[account], nil
}

func (l *Ledger) AuthorizationOf(ctx context.Context, owner, spender ledger.Account) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.popErr(); err != nil {
		return 0, err
	}
	return l.authorizations[authKey{owner, spender}], nil
}

func (l *Ledger) GrantAuthorization(ctx context.Context, owner, spender ledger.Account, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.popErr(); err != nil {
		return err
	}
	l.authorizations[authKey{owner, spender}] = amount
	return nil
}

// Transfer applies the transfer if the sender's balance suffices. Transfers
// into an account registered with RequireAuthorization are pulls: they consume
// the sender's authorization and are rejected when it is insufficient,
// mirroring a token contract revert.
func (l *Ledger) Transfer(ctx context.Context, from, to ledger.Account, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.popErr(); err != nil {
		return err
	}
	if l.balances[from] < amount {
		return ledger.NewRejectedError(fmt.Errorf("balance of %s is %d, below %d", from, l.balances[from], amount))
	}
	if l.spenders[to] {
		k := authKey{from, to}
		auth := l.authorizations[k]
		if auth < amount {
			return ledger.NewRejectedError(fmt.Errorf("authorization from %s to %s is %d, below %d", from, to, auth, amount))
		}
		l.authorizations[k] = auth - amount
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	l.transfers = append(l.transfers, Transfer{From: from, To: to, Amount: amount})
	return nil
}

func (l *Ledger) Decimals(ctx context.Context) (uint8, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.decimalsErr != nil {
		return 0, l.decimalsErr
	}
	return l.decimals, nil
}
