package settle

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fairmarket/settlement-engine/internal/custody"
)

// Currency is the capability set a payment currency must provide: a tag for
// oracle lookups and events, its unit scale, a sufficiency check, and an
// atomic pay-out of the fee split. The engine holds one algorithm and is
// polymorphic over this interface; new currencies are new implementations,
// not new branches.
type Currency interface {
	// Tag is the currency's symbol, used for oracle lookups and events.
	Tag() string

	// UnitScale is the number of smallest units per whole currency unit
	// (10^18 for 18-decimal currencies).
	UnitScale() decimal.Decimal

	// EnsureFunds verifies the buyer can cover the required payment:
	// the attached tender for native currency, the allowance granted to
	// the custody operator for tokens.
	EnsureFunds(ctx context.Context, buyer string, tendered, required decimal.Decimal) error

	// Pay moves payout to the seller and fee to the recipient, refunding
	// excess tender where the currency supports it. Returns the refunded
	// change. Implementations must leave no partial transfer behind on
	// error: any leg already applied is compensated before returning.
	Pay(ctx context.Context, buyer, seller, recipient string, tendered, required, payout, fee decimal.Decimal) (decimal.Decimal, error)
}

// NativeCurrency settles in the platform's base coin. The buyer attaches a
// tender with the purchase; it is escrowed, split between seller and fee
// recipient, and the excess refunded.
type NativeCurrency struct {
	tag    string
	scale  decimal.Decimal
	funds  custody.CurrencyAdapter
	escrow string // the marketplace's own account
}

// NewNativeCurrency creates the native payment variant.
func NewNativeCurrency(tag string, scale decimal.Decimal, funds custody.CurrencyAdapter, escrow string) *NativeCurrency {
	return &NativeCurrency{tag: tag, scale: scale, funds: funds, escrow: escrow}
}

func (c *NativeCurrency) Tag() string                { return c.tag }
func (c *NativeCurrency) UnitScale() decimal.Decimal { return c.scale }

func (c *NativeCurrency) EnsureFunds(_ context.Context, _ string, tendered, required decimal.Decimal) error {
	if tendered.LessThan(required) {
		return fmt.Errorf("%w: not enough %s sent", ErrInsufficientPayment, c.tag)
	}
	return nil
}

func (c *NativeCurrency) Pay(ctx context.Context, buyer, seller, recipient string, tendered, required, payout, fee decimal.Decimal) (decimal.Decimal, error) {
	change := tendered.Sub(required)

	if err := c.funds.Transfer(ctx, buyer, c.escrow, c.tag, tendered); err != nil {
		return decimal.Zero, fmt.Errorf("escrow tender: %w", err)
	}
	if err := c.funds.Transfer(ctx, c.escrow, seller, c.tag, payout); err != nil {
		c.funds.Transfer(ctx, c.escrow, buyer, c.tag, tendered)
		return decimal.Zero, fmt.Errorf("pay seller: %w", err)
	}
	if err := c.funds.Transfer(ctx, c.escrow, recipient, c.tag, fee); err != nil {
		c.funds.Transfer(ctx, seller, c.escrow, c.tag, payout)
		c.funds.Transfer(ctx, c.escrow, buyer, c.tag, tendered)
		return decimal.Zero, fmt.Errorf("pay fee recipient: %w", err)
	}
	if change.IsPositive() {
		if err := c.funds.Transfer(ctx, c.escrow, buyer, c.tag, change); err != nil {
			c.funds.Transfer(ctx, recipient, c.escrow, c.tag, fee)
			c.funds.Transfer(ctx, seller, c.escrow, c.tag, payout)
			c.funds.Transfer(ctx, c.escrow, buyer, c.tag, tendered)
			return decimal.Zero, fmt.Errorf("refund change: %w", err)
		}
	}
	return change, nil
}

// TokenCurrency settles in a fungible token the buyer has pre-approved the
// custody operator to spend. Exactly the required amount is pulled, so
// there is never change to refund.
type TokenCurrency struct {
	tag      string
	scale    decimal.Decimal
	funds    custody.CurrencyAdapter
	operator string // spender the buyer's allowance is granted to
}

// NewTokenCurrency creates an allowance-based token payment variant.
func NewTokenCurrency(tag string, scale decimal.Decimal, funds custody.CurrencyAdapter, operator string) *TokenCurrency {
	return &TokenCurrency{tag: tag, scale: scale, funds: funds, operator: operator}
}

func (c *TokenCurrency) Tag() string                { return c.tag }
func (c *TokenCurrency) UnitScale() decimal.Decimal { return c.scale }

func (c *TokenCurrency) EnsureFunds(ctx context.Context, buyer string, _, required decimal.Decimal) error {
	allowed, err := c.funds.AllowanceOf(ctx, buyer, c.operator, c.tag)
	if err != nil {
		return fmt.Errorf("read allowance: %w", err)
	}
	if allowed.LessThan(required) {
		return fmt.Errorf("%w: not enough %s allowance to buy the tokens", ErrInsufficientPayment, c.tag)
	}
	return nil
}

func (c *TokenCurrency) Pay(ctx context.Context, buyer, seller, recipient string, _, _, payout, fee decimal.Decimal) (decimal.Decimal, error) {
	if err := c.funds.TransferFrom(ctx, c.operator, buyer, seller, c.tag, payout); err != nil {
		return decimal.Zero, fmt.Errorf("pay seller: %w", err)
	}
	if err := c.funds.TransferFrom(ctx, c.operator, buyer, recipient, c.tag, fee); err != nil {
		c.funds.Transfer(ctx, seller, buyer, c.tag, payout)
		return decimal.Zero, fmt.Errorf("pay fee recipient: %w", err)
	}
	return decimal.Zero, nil
}
