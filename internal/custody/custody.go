// Package custody defines the adapter ports through which the settlement
// core moves asset and currency ownership, plus an in-memory Bank used as
// the reference adapter for development and testing.
//
// The engine never mutates balances directly: every movement of value goes
// through these interfaces, so a chain-backed or broker-backed adapter can
// replace the Bank without touching the settlement logic.
package custody

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/fairmarket/settlement-engine/internal/model"
)

// AssetAdapter moves ownership of listed assets between parties.
type AssetAdapter interface {
	// BalanceOf returns how many units of the referenced item the holder owns.
	BalanceOf(ctx context.Context, holder string, ref model.AssetRef) (decimal.Decimal, error)

	// IsAuthorized reports whether holder has granted operator transfer
	// authority over the collection.
	IsAuthorized(ctx context.Context, holder, operator, collection string) (bool, error)

	// Transfer moves amount units of the referenced item from one holder to
	// another. Fails without side effects if the sender's balance is short.
	Transfer(ctx context.Context, from, to string, ref model.AssetRef, amount decimal.Decimal) error
}

// CurrencyAdapter moves payment currency between parties.
type CurrencyAdapter interface {
	// BalanceOf returns the holder's balance of the given currency.
	BalanceOf(ctx context.Context, holder, symbol string) (decimal.Decimal, error)

	// AllowanceOf returns how much of holder's currency the spender may pull.
	AllowanceOf(ctx context.Context, holder, spender, symbol string) (decimal.Decimal, error)

	// Transfer moves funds directly from one holder to another.
	Transfer(ctx context.Context, from, to, symbol string, amount decimal.Decimal) error

	// TransferFrom moves funds out of `from` on the strength of the
	// allowance previously granted to spender, consuming it.
	TransferFrom(ctx context.Context, spender, from, to, symbol string, amount decimal.Decimal) error
}
