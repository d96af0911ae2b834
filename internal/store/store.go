package store

import (
	"context"
	"errors"
	"time"

	"fenixbot/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional update finds the row in a
	// different status than the expected pre-state.
	ErrConflict = errors.New("status conflict")
)

// Store is the pending sell request table. All status changes are
// compare-and-set on the request id and expected pre-state.
type Store interface {
	CreateSellRequest(ctx context.Context, req domain.SellRequest) (domain.SellRequest, error)
	GetSellRequest(ctx context.Context, id string) (domain.SellRequest, error)
	FindByOfferID(ctx context.Context, offerID string) (domain.SellRequest, error)
	ListByStatus(ctx context.Context, status domain.SellStatus, limit int) ([]domain.SellRequest, error)
	ListStale(ctx context.Context, status domain.SellStatus, cutoff time.Time, limit int) ([]domain.SellRequest, error)

	MarkOfferSent(ctx context.Context, id, offerID string) error
	MarkAccepted(ctx context.Context, id string, item domain.ItemDetails) error
	MarkFailed(ctx context.Context, id string, from domain.SellStatus, note string) error
	MarkListed(ctx context.Context, id, listingID string) error
	// DeleteAbandoned removes an offer_sent row whose updated_at is at or
	// before cutoff.
	DeleteAbandoned(ctx context.Context, id string, cutoff time.Time) error

	// TradeHandle returns the user's counterparty trade handle, or "" when
	// the user has none.
	TradeHandle(ctx context.Context, userID string) (string, error)
}

// ListingWriter persists marketplace listings. Writes are idempotent per
// request id.
type ListingWriter interface {
	CreateListing(ctx context.Context, listing domain.Listing) (string, error)
}
