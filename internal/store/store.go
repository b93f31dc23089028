// Package store defines the persistence interface for the settlement engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/fairmarket/settlement-engine/internal/model"
)

// ErrOfferMissing is returned by offer reads when no record exists for the
// requested id. Callers translate it into their own taxonomy.
var ErrOfferMissing = errors.New("store: offer not found")

// ErrSettlementMissing is returned when no settlement record exists.
var ErrSettlementMissing = errors.New("store: settlement not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Offers ---

	// InsertOffer persists a new offer, assigning the next sequential id
	// (1-based, never reused) into offer.ID.
	InsertOffer(ctx context.Context, offer *model.Offer) error

	// GetOffer retrieves an offer by id, inactive offers included.
	GetOffer(ctx context.Context, id uint64) (*model.Offer, error)

	// ListOffers returns all offers, newest first.
	ListOffers(ctx context.Context) ([]model.Offer, error)

	// SetOfferActive flips the offer's active flag.
	SetOfferActive(ctx context.Context, id uint64, active bool) error

	// --- Immutable settlement records ---

	// InsertSettlement appends an immutable purchase record.
	InsertSettlement(ctx context.Context, s *model.Settlement) error

	// GetSettlement retrieves one settlement record by id.
	GetSettlement(ctx context.Context, id string) (*model.Settlement, error)

	// ListSettlementsByOffer returns all settlements against an offer.
	ListSettlementsByOffer(ctx context.Context, offerID uint64) ([]model.Settlement, error)
}
