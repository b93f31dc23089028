package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairmarket/settlement-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertOffer(ctx context.Context, o *model.Offer) error {
	if err := s.primary.InsertOffer(ctx, o); err != nil {
		return err
	}
	s.cacheOffer(ctx, o)
	return nil
}

func (s *CachedStore) SetOfferActive(ctx context.Context, id uint64, active bool) error {
	if err := s.primary.SetOfferActive(ctx, id, active); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate.
	s.rdb.Del(ctx, offerKey(id))
	return nil
}

func (s *CachedStore) InsertSettlement(ctx context.Context, rec *model.Settlement) error {
	return s.primary.InsertSettlement(ctx, rec)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetOffer(ctx context.Context, id uint64) (*model.Offer, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, offerKey(id)).Bytes()
	if err == nil {
		var o model.Offer
		if json.Unmarshal(data, &o) == nil {
			return &o, nil
		}
	}

	// Cache miss: read from primary.
	o, err := s.primary.GetOffer(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheOffer(ctx, o)
	return o, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListOffers(ctx context.Context) ([]model.Offer, error) {
	return s.primary.ListOffers(ctx)
}

func (s *CachedStore) GetSettlement(ctx context.Context, id string) (*model.Settlement, error) {
	return s.primary.GetSettlement(ctx, id)
}

func (s *CachedStore) ListSettlementsByOffer(ctx context.Context, offerID uint64) ([]model.Settlement, error) {
	return s.primary.ListSettlementsByOffer(ctx, offerID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheOffer(ctx context.Context, o *model.Offer) {
	if data, err := json.Marshal(o); err == nil {
		s.rdb.Set(ctx, offerKey(o.ID), data, s.ttl)
	}
}

func offerKey(id uint64) string { return fmt.Sprintf("offer:%d", id) }
