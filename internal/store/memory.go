package store

import (
	"context"
	"sort"
	"sync"

	"github.com/fairmarket/settlement-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	nextID      uint64
	offers      map[uint64]*model.Offer
	settlements []model.Settlement
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID: 1,
		offers: make(map[uint64]*model.Offer),
	}
}

func (s *MemoryStore) InsertOffer(_ context.Context, o *model.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o.ID = s.nextID
	s.nextID++

	// Store a copy to avoid external mutation.
	copy := *o
	s.offers[o.ID] = &copy
	return nil
}

func (s *MemoryStore) GetOffer(_ context.Context, id uint64) (*model.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.offers[id]
	if !ok {
		return nil, ErrOfferMissing
	}
	copy := *o
	return &copy, nil
}

func (s *MemoryStore) ListOffers(_ context.Context) ([]model.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	offers := make([]model.Offer, 0, len(s.offers))
	for _, o := range s.offers {
		offers = append(offers, *o)
	}
	sort.Slice(offers, func(i, j int) bool { return offers[i].ID > offers[j].ID })
	return offers, nil
}

func (s *MemoryStore) SetOfferActive(_ context.Context, id uint64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.offers[id]
	if !ok {
		return ErrOfferMissing
	}
	o.Active = active
	return nil
}

func (s *MemoryStore) InsertSettlement(_ context.Context, rec *model.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settlements = append(s.settlements, *rec)
	return nil
}

func (s *MemoryStore) GetSettlement(_ context.Context, id string) (*model.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.settlements {
		if rec.ID == id {
			copy := rec
			return &copy, nil
		}
	}
	return nil, ErrSettlementMissing
}

func (s *MemoryStore) ListSettlementsByOffer(_ context.Context, offerID uint64) ([]model.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Settlement
	for _, rec := range s.settlements {
		if rec.OfferID == offerID {
			result = append(result, rec)
		}
	}
	return result, nil
}
