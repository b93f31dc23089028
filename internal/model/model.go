// Package model defines the core domain types shared across the settlement
// engine. All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetRef identifies what is being sold: an item within a collection.
type AssetRef struct {
	Collection string `json:"collection" db:"collection"`
	Item       string `json:"item" db:"item"`
}

// Offer is a seller's standing listing of an asset quantity at a USD price,
// valid until its deadline or cancellation. Identifying fields are immutable
// after creation; only Active changes, and its true → false transition is
// terminal. Offers are never deleted — inactive offers remain for audit.
type Offer struct {
	ID        uint64          `json:"id" db:"id"` // sequential, 1-based, never reused
	Owner     string          `json:"owner" db:"owner"`
	Asset     AssetRef        `json:"asset"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	USDPrice  decimal.Decimal `json:"usd_price" db:"usd_price"` // fixed-point, scaled by the oracle's decimals
	Deadline  time.Time       `json:"deadline" db:"deadline"`
	Active    bool            `json:"active" db:"active"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Settlement is an immutable record of a completed purchase.
// Once created, these are never modified or deleted.
type Settlement struct {
	ID        string          `json:"id" db:"id"`
	OfferID   uint64          `json:"offer_id" db:"offer_id"`
	Buyer     string          `json:"buyer" db:"buyer"`
	Currency  string          `json:"currency" db:"currency"`
	Required  decimal.Decimal `json:"required" db:"required"` // total payment in currency units
	Fee       decimal.Decimal `json:"fee" db:"fee"`
	Payout    decimal.Decimal `json:"payout" db:"payout"` // required - fee, paid to the seller
	Change    decimal.Decimal `json:"change" db:"change"` // refunded excess tender (native only)
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
