// Package amount converts between the ledger's smallest unit and the decimal
// strings presented to humans. Conversions are financially significant, so the
// token's declared precision is queried once per formatter and any fallback to
// a configured default is observable rather than silent.
package amount

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/heirloomhq/sdk/ledger"
)

type Config struct {
	// Querier resolves the ledger token's decimal places.
	Querier ledger.DecimalsQuerier

	// FallbackDecimals is used when the querier fails. The fallback is cached
	// like a successful answer and reported by FellBack.
	FallbackDecimals uint8

	LogWriter io.Writer
}

// Formatter converts amounts for one ledger session. It caches the token's
// decimal places after the first query; concurrent first uses share a single
// query.
type Formatter struct {
	querier  ledger.DecimalsQuerier
	fallback uint8
	log      io.Writer

	group singleflight.Group

	mu       sync.Mutex
	cached   bool
	decimals uint8
	fellBack bool
}

func NewFormatter(c Config) *Formatter {
	f := &Formatter{
		querier:  c.Querier,
		fallback: c.FallbackDecimals,
		log:      c.LogWriter,
	}
	if f.log == nil {
		f.log = io.Discard
	}
	return f
}

func (f *Formatter) resolveDecimals(ctx context.Context) uint8 {
	f.mu.Lock()
	if f.cached {
		d := f.decimals
		f.mu.Unlock()
		return d
	}
	f.mu.Unlock()

	v, _, _ := f.group.Do("decimals", func() (interface{}, error) {
		d, err := f.querier.Decimals(ctx)
		fellBack := false
		if err != nil {
			fmt.Fprintf(f.log, "querying token decimals failed, falling back to %d: %v\n", f.fallback, err)
			d = f.fallback
			fellBack = true
		}
		f.mu.Lock()
		f.cached = true
		f.decimals = d
		f.fellBack = fellBack
		f.mu.Unlock()
		return d, nil
	})
	return v.(uint8)
}

// FellBack reports whether the formatter is operating on the configured
// fallback precision because the ledger query failed.
func (f *Formatter) FellBack() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fellBack
}

// Format renders an amount in the ledger's smallest unit as a decimal string.
func (f *Formatter) Format(ctx context.Context, amount uint64) string {
	d := f.resolveDecimals(ctx)
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(d)).String()
}

// Parse converts a decimal string to the ledger's smallest unit. It fails on
// negative values and on values carrying more precision than the token.
func (f *Formatter) Parse(ctx context.Context, s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %q is negative", s)
	}
	scaled := d.Shift(int32(f.resolveDecimals(ctx)))
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("amount %q has more precision than the token's %d decimals", s, f.resolveDecimals(ctx))
	}
	i := scaled.BigInt()
	if !i.IsUint64() {
		return 0, fmt.Errorf("amount %q does not fit the ledger's smallest unit", s)
	}
	return i.Uint64(), nil
}
