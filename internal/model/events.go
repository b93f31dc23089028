package model

// Event is a flat JSON message describing an observable state transition,
// consumed by external indexers over the WebSocket feed.
type Event struct {
	Type       string `json:"type"` // "offer_created", "offer_cancelled", "purchase"
	OfferID    uint64 `json:"offer_id"`
	Owner      string `json:"owner,omitempty"`
	Collection string `json:"collection,omitempty"`
	Item       string `json:"item,omitempty"`
	Amount     string `json:"amount,omitempty"`
	USDPrice   string `json:"usd_price,omitempty"`
	Deadline   string `json:"deadline,omitempty"` // RFC3339
	Active     bool   `json:"active,omitempty"`
	Buyer      string `json:"buyer,omitempty"`
	Currency   string `json:"currency,omitempty"`
}

// Event type tags.
const (
	EventOfferCreated   = "offer_created"
	EventOfferCancelled = "offer_cancelled"
	EventPurchase       = "purchase"
)

// Sink receives events. Emit must not block the caller; implementations
// drop rather than stall settlement.
type Sink interface {
	Emit(Event)
}
