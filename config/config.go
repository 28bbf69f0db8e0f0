// Package config resolves the custody holder and value-ledger identities for
// a named network at session start. Unknown networks and missing identities
// fail fast; nothing ever defaults to a zero or placeholder address.
package config

import (
	"fmt"

	"github.com/heirloomhq/sdk/ledger"
)

// Network is the set of identities a session needs on one network.
type Network struct {
	// Name is a human-readable network name, used in errors and logs.
	Name string

	// Endpoint is the ledger RPC endpoint for the network.
	Endpoint string

	// CustodyAccount is the custody holder: the account escrowed value is
	// pulled into and paid out from.
	CustodyAccount ledger.Account

	// TokenContract is the fungible-value ledger contract.
	TokenContract ledger.Account
}

// Networks maps a chain identifier to the identities configured for it.
type Networks map[uint64]Network

// ForNetwork resolves the configuration for a chain identifier. It fails with
// a descriptive error for unknown chains and for configured chains with a
// missing identity.
func (n Networks) ForNetwork(chainID uint64) (Network, error) {
	c, ok := n[chainID]
	if !ok {
		return Network{}, fmt.Errorf("chain %d is not configured", chainID)
	}
	name := c.Name
	if name == "" {
		name = fmt.Sprintf("chain %d", chainID)
	}
	if c.Endpoint == "" {
		return Network{}, fmt.Errorf("no ledger endpoint configured for %s", name)
	}
	if c.CustodyAccount == "" {
		return Network{}, fmt.Errorf("no custody account configured for %s", name)
	}
	if c.TokenContract == "" {
		return Network{}, fmt.Errorf("no token contract configured for %s", name)
	}
	return c, nil
}
