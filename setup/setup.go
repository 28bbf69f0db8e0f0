// Package setup contains the orchestrator that sequences the external
// operations required to activate a switch: authorize funds, activate, and
// optionally attach a data pointer. Each step is idempotent or safely
// retryable on its own, and failures carry which step failed so a caller can
// resume there instead of restarting the sequence.
package setup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"

	"github.com/heirloomhq/sdk/ledger"
	"github.com/heirloomhq/sdk/registry"
	"github.com/heirloomhq/sdk/state"
)

// Step identifies one step of the activation sequence.
type Step string

const (
	StepAuthorize     = Step("authorize")
	StepActivate      = Step("activate")
	StepAttachPointer = Step("attach_pointer")
)

// StepError reports which activation step failed and why. It unwraps to the
// underlying cause, so classification of registry and ledger errors works
// through it.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("activation step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Registry is the subset of the custody registry the orchestrator drives.
type Registry interface {
	Initialize(ctx context.Context, p registry.InitializeParams) (state.Switch, error)
	UpdateDataPointer(ctx context.Context, owner ledger.Account, pointer string) (state.Switch, error)
	Read(caller, owner ledger.Account) (state.Switch, error)
}

type Config struct {
	Ledger   ledger.Ledger
	Registry Registry

	// CustodyAccount is the account the registry pulls escrow into; the
	// authorization step grants to it.
	CustodyAccount ledger.Account

	// ValidateDataPointer, when set, requires a supplied data pointer to be a
	// well-formed content identifier before it is attached. Off by default:
	// the registry treats pointers as opaque.
	ValidateDataPointer bool

	LogWriter io.Writer
}

type Orchestrator struct {
	ledger              ledger.Ledger
	registry            Registry
	custodyAccount      ledger.Account
	validateDataPointer bool
	logWriter           io.Writer
}

func NewOrchestrator(c Config) *Orchestrator {
	o := &Orchestrator{
		ledger:              c.Ledger,
		registry:            c.Registry,
		custodyAccount:      c.CustodyAccount,
		validateDataPointer: c.ValidateDataPointer,
		logWriter:           c.LogWriter,
	}
	if o.logWriter == nil {
		o.logWriter = io.Discard
	}
	return o
}

type ActivateParams struct {
	Owner         ledger.Account
	Beneficiary   ledger.Account
	Amount        uint64
	TimeoutPeriod time.Duration

	// DataPointer, when non-empty, is attached after activation.
	DataPointer string
}

// Activate runs the full activation sequence. The whole sequence may be
// re-invoked after any failure: a sufficient existing authorization is not
// re-granted, and an activation that already succeeded, including one that
// raced this attempt, is treated as success rather than AlreadyActive.
func (o *Orchestrator) Activate(ctx context.Context, p ActivateParams) (state.Switch, error) {
	attempt := uuid.NewString()

	// Step 1: authorize. Skipped when the standing authorization already
	// covers the amount, so a retry after a later step's failure never
	// re-grants.
	granted, err := o.ledger.AuthorizationOf(ctx, p.Owner, o.custodyAccount)
	if err != nil {
		return state.Switch{}, &StepError{Step: StepAuthorize, Err: fmt.Errorf("querying authorization: %w", err)}
	}
	if granted >= p.Amount {
		fmt.Fprintf(o.logWriter, "activation %s: authorization %d already covers %d, skipping grant\n", attempt, granted, p.Amount)
	} else {
		err = o.ledger.GrantAuthorization(ctx, p.Owner, o.custodyAccount, p.Amount)
		if err != nil {
			return state.Switch{}, &StepError{Step: StepAuthorize, Err: fmt.Errorf("granting authorization of %d: %w", p.Amount, err)}
		}
		fmt.Fprintf(o.logWriter, "activation %s: authorized %d to %s\n", attempt, p.Amount, o.custodyAccount)
	}

	// Step 2: activate.
	s, err := o.registry.Initialize(ctx, registry.InitializeParams{
		Owner:         p.Owner,
		Beneficiary:   p.Beneficiary,
		Amount:        p.Amount,
		TimeoutPeriod: p.TimeoutPeriod,
	})
	if errors.Is(err, registry.ErrAlreadyActive) {
		// A concurrent or earlier activation won; the desired end state
		// holds.
		fmt.Fprintf(o.logWriter, "activation %s: switch for %s already active\n", attempt, p.Owner)
		s, err = o.registry.Read(p.Owner, p.Owner)
		if err != nil {
			return state.Switch{}, &StepError{Step: StepActivate, Err: fmt.Errorf("reading already-active switch: %w", err)}
		}
	} else if err != nil {
		return state.Switch{}, &StepError{Step: StepActivate, Err: err}
	} else {
		fmt.Fprintf(o.logWriter, "activation %s: switch for %s active\n", attempt, p.Owner)
	}

	// Step 3: attach pointer. Independent of steps 1 and 2; a failure leaves
	// the switch active without a pointer, and AttachPointer can be retried
	// on its own.
	if p.DataPointer == "" {
		return s, nil
	}
	attached, err := o.AttachPointer(ctx, p.Owner, p.DataPointer)
	if err != nil {
		// The switch is active without its pointer. That is a valid end
		// state; surface the step so the caller retries AttachPointer alone.
		return s, err
	}
	s = attached
	fmt.Fprintf(o.logWriter, "activation %s: data pointer attached\n", attempt)
	return s, nil
}

// AttachPointer attaches a data pointer to the owner's active switch. It is
// idempotent and may be called at any time after activation, including to
// retry a failed step 3 of Activate.
func (o *Orchestrator) AttachPointer(ctx context.Context, owner ledger.Account, pointer string) (state.Switch, error) {
	if o.validateDataPointer {
		if _, err := cid.Decode(pointer); err != nil {
			return state.Switch{}, &StepError{Step: StepAttachPointer, Err: fmt.Errorf("parsing data pointer as content identifier: %w", err)}
		}
	}
	s, err := o.registry.UpdateDataPointer(ctx, owner, pointer)
	if err != nil {
		return state.Switch{}, &StepError{Step: StepAttachPointer, Err: err}
	}
	return s, nil
}
