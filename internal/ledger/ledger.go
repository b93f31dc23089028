// Package ledger owns the authoritative set of offers: id allocation,
// creation preconditions, owner-gated cancellation, and audit reads.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fairmarket/settlement-engine/internal/custody"
	"github.com/fairmarket/settlement-engine/internal/metrics"
	"github.com/fairmarket/settlement-engine/internal/model"
	"github.com/fairmarket/settlement-engine/internal/store"
)

var (
	// ErrOfferNotFound is returned when no offer exists for the given id.
	ErrOfferNotFound = errors.New("ledger: offer id does not exist")

	// ErrNotOfferOwner is returned when a caller other than the offer's
	// creator attempts to cancel it.
	ErrNotOfferOwner = errors.New("ledger: caller is not the creator of this offer")

	// ErrApprovalRequired is returned when the seller has not granted the
	// custody operator transfer authority over the offered collection.
	ErrApprovalRequired = errors.New("ledger: approval is required to spend the tokens to be offered")

	// ErrInsufficientBalance is returned when a listing exceeds the
	// seller's current holdings.
	ErrInsufficientBalance = errors.New("ledger: seller balance insufficient to place the offer")

	// ErrInvalidOffer is returned when amount or price is not positive.
	ErrInvalidOffer = errors.New("ledger: amount and price must be positive")
)

// Ledger validates and stores offers. All mutating operations serialize on
// one mutex; the settlement engine shares it via Lock/Unlock so a purchase
// and a cancel can never interleave (single-instance). For horizontal
// scaling, replace with database-level optimistic concurrency.
type Ledger struct {
	mu       sync.Mutex
	store    store.Store
	assets   custody.AssetAdapter
	operator string // identity sellers must approve for asset transfers
	events   model.Sink
	now      func() time.Time
}

// New creates an offer ledger. events may be nil if no one listens.
func New(st store.Store, assets custody.AssetAdapter, operator string, events model.Sink) *Ledger {
	return &Ledger{
		store:    st,
		assets:   assets,
		operator: operator,
		events:   events,
		now:      time.Now,
	}
}

// Create validates and stores a new offer, returning its assigned id.
// The seller must have approved the custody operator for the collection and
// must hold at least amount units of the item.
func (l *Ledger) Create(ctx context.Context, seller string, asset model.AssetRef, amount, usdPrice decimal.Decimal, ttl time.Duration) (uint64, error) {
	if !amount.IsPositive() || !usdPrice.IsPositive() {
		return 0, ErrInvalidOffer
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	authorized, err := l.assets.IsAuthorized(ctx, seller, l.operator, asset.Collection)
	if err != nil {
		return 0, fmt.Errorf("check authorization: %w", err)
	}
	if !authorized {
		return 0, ErrApprovalRequired
	}

	held, err := l.assets.BalanceOf(ctx, seller, asset)
	if err != nil {
		return 0, fmt.Errorf("check balance: %w", err)
	}
	if held.LessThan(amount) {
		return 0, ErrInsufficientBalance
	}

	now := l.now().UTC()
	offer := &model.Offer{
		Owner:     seller,
		Asset:     asset,
		Amount:    amount,
		USDPrice:  usdPrice,
		Deadline:  now.Add(ttl),
		Active:    true,
		CreatedAt: now,
	}
	if err := l.store.InsertOffer(ctx, offer); err != nil {
		return 0, fmt.Errorf("insert offer: %w", err)
	}

	slog.Info("offer created",
		"id", offer.ID,
		"owner", seller,
		"collection", asset.Collection,
		"item", asset.Item,
		"amount", amount.String(),
		"usd_price", usdPrice.String(),
		"deadline", offer.Deadline,
	)

	metrics.OffersCreated.Inc()

	l.emit(model.Event{
		Type:       model.EventOfferCreated,
		OfferID:    offer.ID,
		Owner:      seller,
		Collection: asset.Collection,
		Item:       asset.Item,
		Amount:     amount.String(),
		USDPrice:   usdPrice.String(),
		Deadline:   offer.Deadline.Format(time.RFC3339),
		Active:     true,
	})

	return offer.ID, nil
}

// Cancel deactivates an offer. Only the offer's owner may cancel; cancelling
// an offer that is already inactive is a no-op for the owner.
func (l *Ledger) Cancel(ctx context.Context, id uint64, caller string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	offer, err := l.get(ctx, id)
	if err != nil {
		return err
	}
	if offer.Owner != caller {
		return ErrNotOfferOwner
	}
	if !offer.Active {
		return nil
	}

	if err := l.store.SetOfferActive(ctx, id, false); err != nil {
		return fmt.Errorf("deactivate offer %d: %w", id, err)
	}

	slog.Info("offer cancelled", "id", id, "owner", caller)
	metrics.OffersCancelled.Inc()

	l.emit(model.Event{
		Type:    model.EventOfferCancelled,
		OfferID: id,
		Owner:   caller,
	})
	return nil
}

// Operator returns the custody operator identity sellers approve.
func (l *Ledger) Operator() string {
	return l.operator
}

// Get returns the stored offer, inactive ones included (for audit).
func (l *Ledger) Get(ctx context.Context, id uint64) (*model.Offer, error) {
	return l.get(ctx, id)
}

// List returns all offers, newest first.
func (l *Ledger) List(ctx context.Context) ([]model.Offer, error) {
	return l.store.ListOffers(ctx)
}

// Lock serializes the caller with every mutating ledger operation. The
// settlement engine holds it across its whole validate-and-consume window,
// so a cancel observed as pending mid-purchase is applied strictly before
// or strictly after the purchase, never inside it.
func (l *Ledger) Lock() { l.mu.Lock() }

// Unlock releases the lock taken by Lock.
func (l *Ledger) Unlock() { l.mu.Unlock() }

// MarkConsumed flips an offer inactive after a successful purchase. The
// caller must hold the ledger lock; the purchase event is emitted by the
// engine.
func (l *Ledger) MarkConsumed(ctx context.Context, id uint64) error {
	return l.setActive(ctx, id, false)
}

// Reactivate undoes MarkConsumed when a purchase fails mid-execution and
// every transfer from the same invocation has been rolled back. The caller
// must hold the ledger lock and must never call this outside that rollback
// path.
func (l *Ledger) Reactivate(ctx context.Context, id uint64) error {
	return l.setActive(ctx, id, true)
}

func (l *Ledger) setActive(ctx context.Context, id uint64, active bool) error {
	if err := l.store.SetOfferActive(ctx, id, active); err != nil {
		if errors.Is(err, store.ErrOfferMissing) {
			return ErrOfferNotFound
		}
		return err
	}
	return nil
}

func (l *Ledger) get(ctx context.Context, id uint64) (*model.Offer, error) {
	offer, err := l.store.GetOffer(ctx, id)
	if errors.Is(err, store.ErrOfferMissing) {
		return nil, ErrOfferNotFound
	}
	if err != nil {
		return nil, err
	}
	return offer, nil
}

func (l *Ledger) emit(ev model.Event) {
	if l.events != nil {
		l.events.Emit(ev)
	}
}
