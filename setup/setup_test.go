package setup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heirloomhq/sdk/ledger"
	"github.com/heirloomhq/sdk/ledger/ledgertest"
	"github.com/heirloomhq/sdk/registry"
)

const (
	owner       = ledger.Account("O")
	beneficiary = ledger.Account("B")
	custody     = ledger.Account("CUSTODY")

	amount  = uint64(1000)
	timeout = 30 * 24 * time.Hour
)

// A well-formed sha2-256 CID, so pointer validation accepts it.
const validPointer = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"

func testOrchestrator(t *testing.T) (*Orchestrator, *registry.Registry, *ledgertest.Ledger) {
	t.Helper()
	l := ledgertest.NewLedger()
	l.RequireAuthorization(custody)
	l.FundAccount(owner, 5000)
	r := registry.NewRegistry(registry.Config{
		Ledger:         l,
		CustodyAccount: custody,
	})
	o := NewOrchestrator(Config{
		Ledger:         l,
		Registry:       r,
		CustodyAccount: custody,
	})
	return o, r, l
}

func params() ActivateParams {
	return ActivateParams{
		Owner:         owner,
		Beneficiary:   beneficiary,
		Amount:        amount,
		TimeoutPeriod: timeout,
	}
}

func TestOrchestrator_activateRunsAllSteps(t *testing.T) {
	o, r, l := testOrchestrator(t)
	ctx := context.Background()

	p := params()
	p.DataPointer = validPointer
	s, err := o.Activate(ctx, p)
	require.NoError(t, err)
	assert.True(t, s.Active)
	assert.Equal(t, validPointer, s.DataPointer)

	// The authorization was granted for exactly the amount and consumed by
	// the custody pull.
	granted, err := l.AuthorizationOf(ctx, owner, custody)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), granted)

	balance, err := l.BalanceOf(ctx, custody)
	require.NoError(t, err)
	assert.Equal(t, amount, balance)

	read, err := r.Read(owner, owner)
	require.NoError(t, err)
	assert.Equal(t, s, read)
}

func TestOrchestrator_activateWithoutPointerStopsAfterActivation(t *testing.T) {
	o, r, _ := testOrchestrator(t)
	ctx := context.Background()

	s, err := o.Activate(ctx, params())
	require.NoError(t, err)
	assert.True(t, s.Active)
	assert.Empty(t, s.DataPointer)

	_, err = r.Read(owner, owner)
	require.NoError(t, err)
}

func TestOrchestrator_activateSkipsGrantWhenAuthorizationSuffices(t *testing.T) {
	o, _, l := testOrchestrator(t)
	ctx := context.Background()

	// A standing authorization already covers the amount.
	err := l.GrantAuthorization(ctx, owner, custody, amount+500)
	require.NoError(t, err)

	_, err = o.Activate(ctx, params())
	require.NoError(t, err)

	// The grant was not redone: the standing authorization was consumed by
	// the pull, not replaced with a fresh grant of the exact amount.
	granted, err := l.AuthorizationOf(ctx, owner, custody)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), granted)
}

func TestOrchestrator_authorizeFailureTagsStepAndIsRetryable(t *testing.T) {
	o, r, l := testOrchestrator(t)
	ctx := context.Background()

	l.FailNext(ledger.NewUnavailableError(errors.New("rpc timeout")))
	_, err := o.Activate(ctx, params())
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepAuthorize, stepErr.Step)
	assert.True(t, ledger.IsUnavailable(err))

	// No registry state changed; the whole sequence may be retried.
	_, err = r.Read(owner, owner)
	assert.ErrorIs(t, err, registry.ErrNotFound)

	_, err = o.Activate(ctx, params())
	require.NoError(t, err)
}

func TestOrchestrator_activateFailureRetriesWithoutReauthorizing(t *testing.T) {
	o, _, l := testOrchestrator(t)
	ctx := context.Background()

	// Step 1 (query) and step 1 (grant) succeed, then the activation pull
	// fails.
	l.FailNext(nil, nil, ledger.NewUnavailableError(errors.New("rpc timeout")))
	_, err := o.Activate(ctx, params())
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepActivate, stepErr.Step)

	// The authorization from the failed attempt still stands.
	granted, err := l.AuthorizationOf(ctx, owner, custody)
	require.NoError(t, err)
	require.Equal(t, amount, granted)

	// The retry sees the standing authorization, skips the grant, and
	// succeeds on activation alone.
	_, err = o.Activate(ctx, params())
	require.NoError(t, err)
	granted, err = l.AuthorizationOf(ctx, owner, custody)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), granted)
}

func TestOrchestrator_alreadyActiveIsSuccess(t *testing.T) {
	o, _, _ := testOrchestrator(t)
	ctx := context.Background()

	first, err := o.Activate(ctx, params())
	require.NoError(t, err)

	// A duplicate activation, as after a lost race, reports the existing
	// active switch rather than AlreadyActive.
	second, err := o.Activate(ctx, params())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestOrchestrator_attachFailureLeavesSwitchActiveAndRetryable(t *testing.T) {
	l := ledgertest.NewLedger()
	l.RequireAuthorization(custody)
	l.FundAccount(owner, 5000)
	r := registry.NewRegistry(registry.Config{Ledger: l, CustodyAccount: custody})
	o := NewOrchestrator(Config{
		Ledger:              l,
		Registry:            r,
		CustodyAccount:      custody,
		ValidateDataPointer: true,
	})
	ctx := context.Background()

	p := params()
	p.DataPointer = "not a cid"
	s, err := o.Activate(ctx, p)
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepAttachPointer, stepErr.Step)

	// Steps 1 and 2 are not rolled back: active without a pointer is a valid
	// end state.
	assert.True(t, s.Active)
	read, err := r.Read(owner, owner)
	require.NoError(t, err)
	assert.True(t, read.Active)
	assert.Empty(t, read.DataPointer)

	// Step 3 retried alone.
	s, err = o.AttachPointer(ctx, owner, validPointer)
	require.NoError(t, err)
	assert.Equal(t, validPointer, s.DataPointer)
}

func TestOrchestrator_attachPointerIsIdempotent(t *testing.T) {
	o, _, _ := testOrchestrator(t)
	ctx := context.Background()

	_, err := o.Activate(ctx, params())
	require.NoError(t, err)

	s1, err := o.AttachPointer(ctx, owner, "ptr")
	require.NoError(t, err)
	s2, err := o.AttachPointer(ctx, owner, "ptr")
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

func TestOrchestrator_rejectedGrantSurfacesCause(t *testing.T) {
	o, _, l := testOrchestrator(t)
	ctx := context.Background()

	l.FailNext(nil, ledger.NewRejectedError(errors.New("approve reverted")))
	_, err := o.Activate(ctx, params())
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepAuthorize, stepErr.Step)
	assert.True(t, ledger.IsRejected(err))
}
