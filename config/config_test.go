package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworks_ForNetwork(t *testing.T) {
	networks := Networks{
		11155111: {
			Name:           "sepolia",
			Endpoint:       "https://rpc.sepolia.example",
			CustodyAccount: "0x1111111111111111111111111111111111111111",
			TokenContract:  "0x2222222222222222222222222222222222222222",
		},
	}

	n, err := networks.ForNetwork(11155111)
	require.NoError(t, err)
	assert.Equal(t, "sepolia", n.Name)

	_, err = networks.ForNetwork(1)
	assert.EqualError(t, err, "chain 1 is not configured")
}

func TestNetworks_ForNetworkRejectsMissingIdentities(t *testing.T) {
	base := Network{
		Name:           "sepolia",
		Endpoint:       "https://rpc.sepolia.example",
		CustodyAccount: "0x1111111111111111111111111111111111111111",
		TokenContract:  "0x2222222222222222222222222222222222222222",
	}

	// A configured chain must never fall through to a zero or placeholder
	// identity.
	tests := []struct {
		name    string
		mutate  func(*Network)
		wantErr string
	}{
		{"no endpoint", func(n *Network) { n.Endpoint = "" }, "no ledger endpoint configured for sepolia"},
		{"no custody account", func(n *Network) { n.CustodyAccount = "" }, "no custody account configured for sepolia"},
		{"no token contract", func(n *Network) { n.TokenContract = "" }, "no token contract configured for sepolia"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := base
			tt.mutate(&n)
			_, err := Networks{5: n}.ForNetwork(5)
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}
