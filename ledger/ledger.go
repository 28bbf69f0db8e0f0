// Package ledger defines the boundary to the external value ledger that holds
// account balances and spending authorizations. Implementations submit
// operations to a real ledger and wait for confirmation; the rest of the SDK
// only sees the four operations below.
package ledger

import "context"

// Account identifies an account on the value ledger. The format is defined by
// the ledger implementation; the rest of the SDK treats it as opaque.
type Account string

// Ledger is the boundary to the external value ledger. All amounts are in the
// ledger's smallest unit. Write operations block until the ledger confirms the
// operation or the context is done, and either fully apply or fully fail.
//
// Implementations classify failures as retryable or not using
// NewUnavailableError and NewRejectedError.
type Ledger interface {
	// BalanceOf returns the balance of the account.
	BalanceOf(ctx context.Context, account Account) (uint64, error)

	// AuthorizationOf returns the amount the owner has authorized the
	// spender to pull from the owner's account.
	AuthorizationOf(ctx context.Context, owner, spender Account) (uint64, error)

	// GrantAuthorization submits an authorization for the spender to pull up
	// to amount from the owner's account, replacing any prior authorization,
	// and waits for confirmation.
	GrantAuthorization(ctx context.Context, owner, spender Account, amount uint64) error

	// Transfer moves amount from one account to another and waits for
	// confirmation. Moving value out of an account the caller does not
	// control requires a sufficient prior authorization.
	Transfer(ctx context.Context, from, to Account, amount uint64) error
}

// DecimalsQuerier reports the number of decimal places the ledger's token uses
// when amounts in the smallest unit are rendered for humans. It is separate
// from Ledger because only presentation-side conversion needs it.
type DecimalsQuerier interface {
	Decimals(ctx context.Context) (uint8, error)
}
