package custody

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/fairmarket/settlement-engine/internal/model"
)

// Bank implements AssetAdapter and CurrencyAdapter with in-memory maps.
// Used for development and testing. Not suitable for production custody
// (no persistence).
type Bank struct {
	mu sync.Mutex

	// assets[collection][item][holder] = quantity
	assets map[string]map[string]map[string]decimal.Decimal
	// approvals[collection][holder][operator] = granted
	approvals map[string]map[string]map[string]bool

	// funds[symbol][holder] = balance
	funds map[string]map[string]decimal.Decimal
	// allowances[symbol][holder][spender] = remaining
	allowances map[string]map[string]map[string]decimal.Decimal
}

// NewBank creates an empty in-memory bank.
func NewBank() *Bank {
	return &Bank{
		assets:     make(map[string]map[string]map[string]decimal.Decimal),
		approvals:  make(map[string]map[string]map[string]bool),
		funds:      make(map[string]map[string]decimal.Decimal),
		allowances: make(map[string]map[string]map[string]decimal.Decimal),
	}
}

// --- Seeding (dev/test only) ---

// MintAsset credits the holder with amount units of the referenced item.
func (b *Bank) MintAsset(holder string, ref model.AssetRef, amount decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creditAsset(holder, ref, amount)
}

// MintFunds credits the holder's currency balance.
func (b *Bank) MintFunds(holder, symbol string, amount decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creditFunds(holder, symbol, amount)
}

// SetAssetApproval grants or revokes operator transfer authority over all of
// holder's items in the collection.
func (b *Bank) SetAssetApproval(holder, operator, collection string, granted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	byHolder, ok := b.approvals[collection]
	if !ok {
		byHolder = make(map[string]map[string]bool)
		b.approvals[collection] = byHolder
	}
	ops, ok := byHolder[holder]
	if !ok {
		ops = make(map[string]bool)
		byHolder[holder] = ops
	}
	ops[operator] = granted
}

// Approve sets the spender's allowance over holder's currency balance.
func (b *Bank) Approve(holder, spender, symbol string, amount decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	byHolder, ok := b.allowances[symbol]
	if !ok {
		byHolder = make(map[string]map[string]decimal.Decimal)
		b.allowances[symbol] = byHolder
	}
	spenders, ok := byHolder[holder]
	if !ok {
		spenders = make(map[string]decimal.Decimal)
		byHolder[holder] = spenders
	}
	spenders[spender] = amount
}

// --- AssetAdapter ---

func (b *Bank) BalanceOf(_ context.Context, holder string, ref model.AssetRef) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.assets[ref.Collection][ref.Item][holder], nil
}

func (b *Bank) IsAuthorized(_ context.Context, holder, operator, collection string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.approvals[collection][holder][operator], nil
}

func (b *Bank) Transfer(_ context.Context, from, to string, ref model.AssetRef, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("custody: asset transfer amount must be positive, got %s", amount)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	held := b.assets[ref.Collection][ref.Item][from]
	if held.LessThan(amount) {
		return fmt.Errorf("custody: %s holds %s of %s/%s, cannot transfer %s",
			from, held, ref.Collection, ref.Item, amount)
	}
	b.assets[ref.Collection][ref.Item][from] = held.Sub(amount)
	b.creditAsset(to, ref, amount)
	return nil
}

// --- CurrencyAdapter ---

func (b *Bank) currencyBalance(holder, symbol string) decimal.Decimal {
	return b.funds[symbol][holder]
}

// Currency returns the Bank's CurrencyAdapter view. The asset and currency
// BalanceOf signatures differ, so the currency side lives on a view type.
func (b *Bank) Currency() CurrencyAdapter {
	return (*bankCurrency)(b)
}

type bankCurrency Bank

func (b *bankCurrency) BalanceOf(_ context.Context, holder, symbol string) (decimal.Decimal, error) {
	bk := (*Bank)(b)
	bk.mu.Lock()
	defer bk.mu.Unlock()
	return bk.currencyBalance(holder, symbol), nil
}

func (b *bankCurrency) AllowanceOf(_ context.Context, holder, spender, symbol string) (decimal.Decimal, error) {
	bk := (*Bank)(b)
	bk.mu.Lock()
	defer bk.mu.Unlock()
	return bk.allowances[symbol][holder][spender], nil
}

func (b *bankCurrency) Transfer(_ context.Context, from, to, symbol string, amount decimal.Decimal) error {
	bk := (*Bank)(b)
	bk.mu.Lock()
	defer bk.mu.Unlock()
	return bk.moveFunds(from, to, symbol, amount)
}

func (b *bankCurrency) TransferFrom(_ context.Context, spender, from, to, symbol string, amount decimal.Decimal) error {
	bk := (*Bank)(b)
	bk.mu.Lock()
	defer bk.mu.Unlock()

	allowed := bk.allowances[symbol][from][spender]
	if allowed.LessThan(amount) {
		return fmt.Errorf("custody: allowance of %s for %s is %s, cannot pull %s",
			symbol, spender, allowed, amount)
	}
	if err := bk.moveFunds(from, to, symbol, amount); err != nil {
		return err
	}
	bk.allowances[symbol][from][spender] = allowed.Sub(amount)
	return nil
}

// --- internals (callers hold b.mu) ---

func (b *Bank) creditAsset(holder string, ref model.AssetRef, amount decimal.Decimal) {
	byItem, ok := b.assets[ref.Collection]
	if !ok {
		byItem = make(map[string]map[string]decimal.Decimal)
		b.assets[ref.Collection] = byItem
	}
	byHolder, ok := byItem[ref.Item]
	if !ok {
		byHolder = make(map[string]decimal.Decimal)
		byItem[ref.Item] = byHolder
	}
	byHolder[holder] = byHolder[holder].Add(amount)
}

func (b *Bank) creditFunds(holder, symbol string, amount decimal.Decimal) {
	byHolder, ok := b.funds[symbol]
	if !ok {
		byHolder = make(map[string]decimal.Decimal)
		b.funds[symbol] = byHolder
	}
	byHolder[holder] = byHolder[holder].Add(amount)
}

func (b *Bank) moveFunds(from, to, symbol string, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	if amount.IsNegative() {
		return fmt.Errorf("custody: transfer amount must not be negative, got %s", amount)
	}
	held := b.currencyBalance(from, symbol)
	if held.LessThan(amount) {
		return fmt.Errorf("custody: %s holds %s %s, cannot transfer %s", from, held, symbol, amount)
	}
	b.funds[symbol][from] = held.Sub(amount)
	b.creditFunds(to, symbol, amount)
	return nil
}
