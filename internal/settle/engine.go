// Package settle orchestrates purchases: it validates an offer, converts its
// USD price into the requested currency via the price oracle, verifies the
// buyer's payment, computes the fee split, and executes the exchange through
// the custody adapters — all as one atomic unit of work.
package settle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fairmarket/settlement-engine/internal/custody"
	"github.com/fairmarket/settlement-engine/internal/ledger"
	"github.com/fairmarket/settlement-engine/internal/metrics"
	"github.com/fairmarket/settlement-engine/internal/model"
	"github.com/fairmarket/settlement-engine/internal/oracle"
	"github.com/fairmarket/settlement-engine/internal/store"
)

var (
	// ErrOfferInactive is returned when the offer has been cancelled or
	// already consumed.
	ErrOfferInactive = errors.New("settle: this offer has been cancelled")

	// ErrOfferExpired is returned when the offer's deadline has passed.
	ErrOfferExpired = errors.New("settle: the deadline has been reached")

	// ErrSelfTrade is returned when the buyer is the offer's owner.
	ErrSelfTrade = errors.New("settle: the seller cannot also be the buyer")

	// ErrApprovalRevoked is returned when the seller has withdrawn the
	// custody operator's transfer authority since listing.
	ErrApprovalRevoked = errors.New("settle: the seller has removed approval to spend the tokens")

	// ErrInsufficientPayment is returned on underpayment (native tender) or
	// under-approval (token allowance).
	ErrInsufficientPayment = errors.New("settle: insufficient payment")

	// ErrBadPriceFeed is returned when the oracle fails or reports a
	// non-positive rate.
	ErrBadPriceFeed = errors.New("settle: invalid price feed reading")

	// ErrUnsupportedCurrency is returned for currency tags the engine has
	// no variant for.
	ErrUnsupportedCurrency = errors.New("settle: unsupported payment currency")
)

// Engine executes purchases. Execution serializes on the ledger's lock, the
// same lock Create and Cancel take, so each purchase is atomic with respect
// to every other call touching the same offer or the same balances
// (single-instance; one global lock is enough at this scale). A cancel
// issued mid-purchase applies strictly before or strictly after it.
type Engine struct {
	ledger     *ledger.Ledger
	store      store.Store
	feed       oracle.PriceOracle
	assets     custody.AssetAdapter
	params     *Params
	currencies map[string]Currency
	events     model.Sink
	now        func() time.Time
}

// NewEngine creates a settlement engine over the given collaborators.
// events may be nil if no one listens.
func NewEngine(l *ledger.Ledger, st store.Store, feed oracle.PriceOracle, assets custody.AssetAdapter, params *Params, currencies []Currency, events model.Sink) *Engine {
	byTag := make(map[string]Currency, len(currencies))
	for _, c := range currencies {
		byTag[c.Tag()] = c
	}
	return &Engine{
		ledger:     l,
		store:      st,
		feed:       feed,
		assets:     assets,
		params:     params,
		currencies: byTag,
		events:     events,
		now:        time.Now,
	}
}

// Quote returns the payment currently required to buy the offer in the
// given currency, using a fresh oracle read.
func (e *Engine) Quote(ctx context.Context, offerID uint64, currencyTag string) (decimal.Decimal, error) {
	offer, err := e.ledger.Get(ctx, offerID)
	if err != nil {
		return decimal.Zero, err
	}
	cur, ok := e.currencies[currencyTag]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currencyTag)
	}
	return e.requiredPayment(ctx, offer, cur)
}

// Purchase buys an offer with the given currency. tendered is the attached
// payment for native-currency purchases and is ignored for token purchases,
// where the buyer's pre-granted allowance is spent instead.
//
// The validation order is fixed: existence, active, deadline, self-trade,
// seller approval, price feed, payment sufficiency. Execution is
// all-or-nothing: the offer is consumed and every transfer applied, or no
// state changes persist.
func (e *Engine) Purchase(ctx context.Context, offerID uint64, currencyTag, buyer string, tendered decimal.Decimal) (*model.Settlement, error) {
	e.ledger.Lock()
	defer e.ledger.Unlock()

	rec, err := e.purchase(ctx, offerID, currencyTag, buyer, tendered)
	if err != nil {
		metrics.PurchaseRejections.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}
	return rec, nil
}

func (e *Engine) purchase(ctx context.Context, offerID uint64, currencyTag, buyer string, tendered decimal.Decimal) (*model.Settlement, error) {
	start := time.Now()

	offer, err := e.ledger.Get(ctx, offerID)
	if err != nil {
		return nil, err
	}
	cur, ok := e.currencies[currencyTag]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currencyTag)
	}
	if !offer.Active {
		return nil, ErrOfferInactive
	}
	if e.now().After(offer.Deadline) {
		return nil, ErrOfferExpired
	}
	if buyer == offer.Owner {
		return nil, ErrSelfTrade
	}

	authorized, err := e.assets.IsAuthorized(ctx, offer.Owner, e.ledger.Operator(), offer.Asset.Collection)
	if err != nil {
		return nil, fmt.Errorf("check authorization: %w", err)
	}
	if !authorized {
		return nil, ErrApprovalRevoked
	}

	required, err := e.requiredPayment(ctx, offer, cur)
	if err != nil {
		return nil, err
	}

	if err := cur.EnsureFunds(ctx, buyer, tendered, required); err != nil {
		return nil, err
	}

	recipient, feeBps := e.params.Snapshot()
	fee := floorDiv(required.Mul(decimal.NewFromInt(feeBps)), decimal.NewFromInt(MaxFeeBasisPoints))
	payout := required.Sub(fee)

	// Consume the offer before moving value so nothing can observe it
	// purchasable mid-execution; restored if any transfer fails.
	if err := e.ledger.MarkConsumed(ctx, offer.ID); err != nil {
		return nil, fmt.Errorf("consume offer %d: %w", offer.ID, err)
	}

	if err := e.assets.Transfer(ctx, offer.Owner, buyer, offer.Asset, offer.Amount); err != nil {
		e.ledger.Reactivate(ctx, offer.ID)
		return nil, fmt.Errorf("transfer asset: %w", err)
	}

	change, err := cur.Pay(ctx, buyer, offer.Owner, recipient, tendered, required, payout, fee)
	if err != nil {
		e.assets.Transfer(ctx, buyer, offer.Owner, offer.Asset, offer.Amount)
		e.ledger.Reactivate(ctx, offer.ID)
		return nil, err
	}

	rec := &model.Settlement{
		ID:        uuid.New().String(),
		OfferID:   offer.ID,
		Buyer:     buyer,
		Currency:  cur.Tag(),
		Required:  required,
		Fee:       fee,
		Payout:    payout,
		Change:    change,
		CreatedAt: e.now().UTC(),
	}
	if err := e.store.InsertSettlement(ctx, rec); err != nil {
		// The exchange itself is final; a lost audit row must not unwind it.
		slog.Error("record settlement", "offer_id", offer.ID, "err", err)
	}

	slog.Info("purchase settled",
		"settlement_id", rec.ID,
		"offer_id", offer.ID,
		"buyer", buyer,
		"currency", cur.Tag(),
		"required", required.String(),
		"fee", fee.String(),
		"payout", payout.String(),
		"change", change.String(),
	)

	metrics.PurchasesTotal.WithLabelValues(cur.Tag()).Inc()
	metrics.SettlementLatency.WithLabelValues(cur.Tag()).Observe(time.Since(start).Seconds())

	if e.events != nil {
		e.events.Emit(model.Event{
			Type:     model.EventPurchase,
			OfferID:  offer.ID,
			Buyer:    buyer,
			Currency: cur.Tag(),
		})
	}

	return rec, nil
}

// requiredPayment converts the offer's USD price into currency units:
//
//	required = floor(usdPrice × unitScale / rate)
//
// Truncation toward zero is intentional; the fee split divides this floored
// amount, so both shares stay integral.
func (e *Engine) requiredPayment(ctx context.Context, offer *model.Offer, cur Currency) (decimal.Decimal, error) {
	rate, err := e.feed.Rate(ctx, cur.Tag())
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrBadPriceFeed, err)
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: rate %s for %s", ErrBadPriceFeed, rate, cur.Tag())
	}
	return floorDiv(offer.USDPrice.Mul(cur.UnitScale()), rate), nil
}

// floorDiv divides integral decimals exactly, truncating toward zero.
// QuoRem avoids Div's fixed division precision, which could round a huge
// quotient the wrong way.
func floorDiv(a, b decimal.Decimal) decimal.Decimal {
	q, _ := a.QuoRem(b, 0)
	return q
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrOfferNotFound):
		return "not_found"
	case errors.Is(err, ErrOfferInactive):
		return "inactive"
	case errors.Is(err, ErrOfferExpired):
		return "expired"
	case errors.Is(err, ErrSelfTrade):
		return "self_trade"
	case errors.Is(err, ErrApprovalRevoked):
		return "approval_revoked"
	case errors.Is(err, ErrInsufficientPayment):
		return "insufficient_payment"
	case errors.Is(err, ErrBadPriceFeed):
		return "bad_price_feed"
	case errors.Is(err, ErrUnsupportedCurrency):
		return "unsupported_currency"
	default:
		return "other"
	}
}
