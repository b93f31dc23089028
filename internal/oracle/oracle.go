// Package oracle defines the price-feed port used to convert USD-denominated
// offer prices into payment-currency amounts, with a fixed in-memory
// implementation for development and testing and a Redis-backed reader for
// externally published feeds.
package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Decimals is the fixed-point exponent of every rate this oracle family
// reports: a rate R means 1 unit of the currency = R / 10^8 USD.
const Decimals int32 = 8

// PriceOracle supplies the current USD exchange rate of a payment currency.
// Rates are fixed-point integers scaled by 10^Decimals. Each settlement
// performs exactly one Rate call; implementations must not serve stale
// cached values on its behalf.
type PriceOracle interface {
	Rate(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// FixedOracle serves rates from an in-memory table. Used for development
// and testing.
type FixedOracle struct {
	mu    sync.RWMutex
	rates map[string]decimal.Decimal
}

// NewFixedOracle creates an oracle pre-seeded with the given rates.
func NewFixedOracle(rates map[string]decimal.Decimal) *FixedOracle {
	o := &FixedOracle{rates: make(map[string]decimal.Decimal, len(rates))}
	for sym, r := range rates {
		o.rates[sym] = r
	}
	return o
}

// SetRate replaces the rate for a symbol.
func (o *FixedOracle) SetRate(symbol string, rate decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rates[symbol] = rate
}

func (o *FixedOracle) Rate(_ context.Context, symbol string) (decimal.Decimal, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	rate, ok := o.rates[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("oracle: no rate published for %s", symbol)
	}
	return rate, nil
}
