package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"fenixbot/internal/domain"
	storepkg "fenixbot/internal/store"
)

type Store struct {
	mu sync.RWMutex

	now func() time.Time

	requests     map[string]domain.SellRequest
	requestOrder []string
	offerIndex   map[string]string

	tradeHandles map[string]string

	listings          map[string]domain.Listing
	listingsByRequest map[string]string
}

func NewStore() *Store {
	return &Store{
		now:               func() time.Time { return time.Now().UTC() },
		requests:          make(map[string]domain.SellRequest),
		requestOrder:      make([]string, 0, 64),
		offerIndex:        make(map[string]string),
		tradeHandles:      make(map[string]string),
		listings:          make(map[string]domain.Listing),
		listingsByRequest: make(map[string]string),
	}
}

// SetClock replaces the time source used for updated_at stamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) SetTradeHandle(userID, handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tradeHandles[userID] = handle
}

func (s *Store) CreateSellRequest(_ context.Context, req domain.SellRequest) (domain.SellRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := s.now()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	if req.UpdatedAt.IsZero() {
		req.UpdatedAt = req.CreatedAt
	}
	if req.Status == "" {
		req.Status = domain.SellStatusPending
	}
	s.requests[req.ID] = req
	s.requestOrder = append(s.requestOrder, req.ID)
	if req.TradeOfferID != "" {
		s.offerIndex[req.TradeOfferID] = req.ID
	}
	return req, nil
}

func (s *Store) GetSellRequest(_ context.Context, id string) (domain.SellRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return domain.SellRequest{}, storepkg.ErrNotFound
	}
	return req, nil
}

func (s *Store) FindByOfferID(_ context.Context, offerID string) (domain.SellRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.offerIndex[offerID]
	if !ok {
		return domain.SellRequest{}, storepkg.ErrNotFound
	}
	req, ok := s.requests[id]
	if !ok {
		return domain.SellRequest{}, storepkg.ErrNotFound
	}
	return req, nil
}

func (s *Store) ListByStatus(_ context.Context, status domain.SellStatus, limit int) ([]domain.SellRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SellRequest, 0)
	for _, id := range s.requestOrder {
		req, ok := s.requests[id]
		if !ok || req.Status != status {
			continue
		}
		out = append(out, req)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListStale(_ context.Context, status domain.SellStatus, cutoff time.Time, limit int) ([]domain.SellRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SellRequest, 0)
	for _, id := range s.requestOrder {
		req, ok := s.requests[id]
		if !ok || req.Status != status || req.UpdatedAt.After(cutoff) {
			continue
		}
		out = append(out, req)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkOfferSent(_ context.Context, id, offerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, err := s.expect(id, domain.SellStatusPending)
	if err != nil {
		return err
	}
	req.TradeOfferID = offerID
	req.Status = domain.SellStatusOfferSent
	req.UpdatedAt = s.now()
	s.requests[id] = req
	s.offerIndex[offerID] = id
	return nil
}

func (s *Store) MarkAccepted(_ context.Context, id string, item domain.ItemDetails) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, err := s.expect(id, domain.SellStatusOfferSent)
	if err != nil {
		return err
	}
	req.Status = domain.SellStatusAccepted
	req.Item = &item
	req.UpdatedAt = s.now()
	s.requests[id] = req
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id string, from domain.SellStatus, note string) error {
	if !domain.CanTransition(from, domain.SellStatusFailed) {
		return storepkg.ErrConflict
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	req, err := s.expect(id, from)
	if err != nil {
		return err
	}
	req.Status = domain.SellStatusFailed
	req.Note = note
	req.UpdatedAt = s.now()
	s.requests[id] = req
	return nil
}

func (s *Store) MarkListed(_ context.Context, id, listingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, err := s.expect(id, domain.SellStatusAccepted)
	if err != nil {
		return err
	}
	req.Status = domain.SellStatusListed
	req.ListingID = listingID
	req.UpdatedAt = s.now()
	s.requests[id] = req
	return nil
}

func (s *Store) DeleteAbandoned(_ context.Context, id string, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, err := s.expect(id, domain.SellStatusOfferSent)
	if err != nil {
		return err
	}
	if req.UpdatedAt.After(cutoff) {
		return storepkg.ErrConflict
	}
	delete(s.requests, id)
	delete(s.offerIndex, req.TradeOfferID)
	for i, rid := range s.requestOrder {
		if rid == id {
			s.requestOrder = append(s.requestOrder[:i], s.requestOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) TradeHandle(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tradeHandles[userID], nil
}

func (s *Store) CreateListing(_ context.Context, listing domain.Listing) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.listingsByRequest[listing.RequestID]; ok {
		return id, nil
	}
	if listing.ID == "" {
		listing.ID = uuid.NewString()
	}
	if listing.CreatedAt.IsZero() {
		listing.CreatedAt = s.now()
	}
	if listing.Status == "" {
		listing.Status = "active"
	}
	s.listings[listing.ID] = listing
	s.listingsByRequest[listing.RequestID] = listing.ID
	return listing.ID, nil
}

// Listings returns all stored listings.
func (s *Store) Listings() []domain.Listing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Listing, 0, len(s.listings))
	for _, l := range s.listings {
		out = append(out, l)
	}
	return out
}

// expect must be called with s.mu held.
func (s *Store) expect(id string, status domain.SellStatus) (domain.SellRequest, error) {
	req, ok := s.requests[id]
	if !ok {
		return domain.SellRequest{}, storepkg.ErrNotFound
	}
	if req.Status != status {
		return domain.SellRequest{}, storepkg.ErrConflict
	}
	return req, nil
}

var (
	_ storepkg.Store         = (*Store)(nil)
	_ storepkg.ListingWriter = (*Store)(nil)
)
