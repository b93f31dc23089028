package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fairmarket/settlement-engine/internal/custody"
	"github.com/fairmarket/settlement-engine/internal/ledger"
	"github.com/fairmarket/settlement-engine/internal/model"
	"github.com/fairmarket/settlement-engine/internal/store"
)

const (
	seller   = "alice"
	operator = "marketplace"
)

var artwork = model.AssetRef{Collection: "gallery", Item: "65678"}

func d(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// recorder captures emitted events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Emit(ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) last(t *testing.T) model.Event {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		t.Fatal("expected at least one event")
	}
	return r.events[len(r.events)-1]
}

func newTestLedger(t *testing.T) (*ledger.Ledger, *custody.Bank, *recorder) {
	t.Helper()
	bank := custody.NewBank()
	bank.MintAsset(seller, artwork, d(30))
	bank.SetAssetApproval(seller, operator, artwork.Collection, true)

	rec := &recorder{}
	return ledger.New(store.NewMemoryStore(), bank, operator, rec), bank, rec
}

func TestCreate_RoundTrip(t *testing.T) {
	ctx := context.Background()
	l, _, rec := newTestLedger(t)

	before := time.Now().UTC()
	id, err := l.Create(ctx, seller, artwork, d(10), decimal.New(1000, 8), 120*time.Second)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if id != 1 {
		t.Errorf("expected first id to be 1, got %d", id)
	}

	offer, err := l.Get(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if offer.Owner != seller {
		t.Errorf("owner = %s", offer.Owner)
	}
	if offer.Asset != artwork {
		t.Errorf("asset = %+v", offer.Asset)
	}
	if !offer.Amount.Equal(d(10)) {
		t.Errorf("amount = %s", offer.Amount)
	}
	if !offer.USDPrice.Equal(decimal.New(1000, 8)) {
		t.Errorf("usd price = %s", offer.USDPrice)
	}
	if !offer.Active {
		t.Error("new offer should be active")
	}

	// Deadline within a small tolerance of now + ttl.
	want := before.Add(120 * time.Second)
	if diff := offer.Deadline.Sub(want); diff < 0 || diff > 2*time.Second {
		t.Errorf("deadline %s not close to %s", offer.Deadline, want)
	}

	ev := rec.last(t)
	if ev.Type != model.EventOfferCreated || ev.OfferID != id || !ev.Active {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestCreate_SequentialIDs(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)

	for want := uint64(1); want <= 3; want++ {
		id, err := l.Create(ctx, seller, artwork, d(2), decimal.New(5000, 8), time.Minute)
		if err != nil {
			t.Fatalf("create %d failed: %v", want, err)
		}
		if id != want {
			t.Errorf("expected id %d, got %d", want, id)
		}
	}
}

func TestCreate_ApprovalRequired(t *testing.T) {
	ctx := context.Background()
	l, bank, _ := newTestLedger(t)
	bank.SetAssetApproval(seller, operator, artwork.Collection, false)

	_, err := l.Create(ctx, seller, artwork, d(10), decimal.New(1000, 8), time.Minute)
	if !errors.Is(err, ledger.ErrApprovalRequired) {
		t.Fatalf("expected ErrApprovalRequired, got %v", err)
	}
}

func TestCreate_InsufficientBalance(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)

	// Seller holds 30.
	_, err := l.Create(ctx, seller, artwork, d(40), decimal.New(1000, 8), time.Minute)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestCreate_RejectsNonPositive(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)

	if _, err := l.Create(ctx, seller, artwork, d(0), decimal.New(1000, 8), time.Minute); !errors.Is(err, ledger.ErrInvalidOffer) {
		t.Errorf("zero amount: expected ErrInvalidOffer, got %v", err)
	}
	if _, err := l.Create(ctx, seller, artwork, d(10), d(0), time.Minute); !errors.Is(err, ledger.ErrInvalidOffer) {
		t.Errorf("zero price: expected ErrInvalidOffer, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	l, _, rec := newTestLedger(t)

	id, _ := l.Create(ctx, seller, artwork, d(10), decimal.New(1000, 8), time.Minute)

	if err := l.Cancel(ctx, id, seller); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	offer, _ := l.Get(ctx, id)
	if offer.Active {
		t.Error("offer should be inactive after cancel")
	}

	ev := rec.last(t)
	if ev.Type != model.EventOfferCancelled || ev.OfferID != id || ev.Owner != seller {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestCancel_OnlyOwner(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)

	id, _ := l.Create(ctx, seller, artwork, d(10), decimal.New(1000, 8), time.Minute)

	if err := l.Cancel(ctx, id, "mallory"); !errors.Is(err, ledger.ErrNotOfferOwner) {
		t.Fatalf("expected ErrNotOfferOwner, got %v", err)
	}

	offer, _ := l.Get(ctx, id)
	if !offer.Active {
		t.Error("offer should remain active after rejected cancel")
	}
}

func TestCancel_UnknownID(t *testing.T) {
	l, _, _ := newTestLedger(t)

	if err := l.Cancel(context.Background(), 1, seller); !errors.Is(err, ledger.ErrOfferNotFound) {
		t.Fatalf("expected ErrOfferNotFound, got %v", err)
	}
}

func TestCancel_TwiceIsNoop(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)

	id, _ := l.Create(ctx, seller, artwork, d(10), decimal.New(1000, 8), time.Minute)

	if err := l.Cancel(ctx, id, seller); err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}
	// Owner re-cancel is idempotent; strangers are still rejected.
	if err := l.Cancel(ctx, id, seller); err != nil {
		t.Fatalf("owner re-cancel should be a no-op, got %v", err)
	}
	if err := l.Cancel(ctx, id, "mallory"); !errors.Is(err, ledger.ErrNotOfferOwner) {
		t.Fatalf("expected ErrNotOfferOwner, got %v", err)
	}
}

func TestGet_UnknownID(t *testing.T) {
	l, _, _ := newTestLedger(t)

	if _, err := l.Get(context.Background(), 99); !errors.Is(err, ledger.ErrOfferNotFound) {
		t.Fatalf("expected ErrOfferNotFound, got %v", err)
	}
}

func TestList_NewestFirst(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)

	for i := 0; i < 3; i++ {
		l.Create(ctx, seller, artwork, d(2), decimal.New(5000, 8), time.Minute)
	}

	offers, err := l.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(offers) != 3 {
		t.Fatalf("expected 3 offers, got %d", len(offers))
	}
	if offers[0].ID != 3 || offers[2].ID != 1 {
		t.Errorf("expected newest-first ordering, got %d..%d", offers[0].ID, offers[2].ID)
	}
}
