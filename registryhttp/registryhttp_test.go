package registryhttp

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heirloomhq/sdk/ledger"
	"github.com/heirloomhq/sdk/ledger/ledgertest"
	"github.com/heirloomhq/sdk/registry"
	"github.com/heirloomhq/sdk/state"
)

func TestHandler_switch(t *testing.T) {
	l := ledgertest.NewLedger()
	l.FundAccount("O", 1000)
	now := time.Unix(1_700_000_000, 0)
	r := registry.NewRegistry(registry.Config{
		Ledger:         l,
		CustodyAccount: "CUSTODY",
		Clock:          func() time.Time { return now },
	})
	_, err := r.Initialize(context.Background(), registry.InitializeParams{
		Owner:         "O",
		Beneficiary:   "B",
		Amount:        1000,
		TimeoutPeriod: time.Hour,
	})
	require.NoError(t, err)

	h := New(r)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/switch?owner=O&caller=B", nil))
	require.Equal(t, 200, w.Code)

	v := struct {
		Switch        state.Switch
		Status        state.Status
		Claimable     bool
		TimeRemaining time.Duration
	}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, ledger.Account("O"), v.Switch.Owner)
	assert.Equal(t, state.StatusActive, v.Status)
	assert.False(t, v.Claimable)
	assert.Equal(t, time.Hour, v.TimeRemaining)
}

func TestHandler_switchHiddenFromThirdParties(t *testing.T) {
	l := ledgertest.NewLedger()
	l.FundAccount("O", 1000)
	r := registry.NewRegistry(registry.Config{Ledger: l, CustodyAccount: "CUSTODY"})
	_, err := r.Initialize(context.Background(), registry.InitializeParams{
		Owner:         "O",
		Beneficiary:   "B",
		Amount:        1000,
		TimeoutPeriod: time.Hour,
	})
	require.NoError(t, err)

	h := New(r)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/switch?owner=O&caller=X", nil))
	assert.Equal(t, 404, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/switch?owner=unknown&caller=unknown", nil))
	assert.Equal(t, 404, w.Code)
}

func TestHandler_methodNotAllowed(t *testing.T) {
	l := ledgertest.NewLedger()
	r := registry.NewRegistry(registry.Config{Ledger: l, CustodyAccount: "CUSTODY"})
	h := New(r)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/switch?owner=O&caller=O", nil))
	assert.Equal(t, 405, w.Code)
}
