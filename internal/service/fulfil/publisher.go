package fulfil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fenixbot/internal/domain"
	"fenixbot/internal/store"
)

var errNoVerifiedItem = errors.New("accepted request has no verified item details")

// Publisher turns verified accepted requests into marketplace listings.
type Publisher struct {
	store    store.Store
	listings store.ListingWriter
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
	batch    int
}

func NewPublisher(st store.Store, listings store.ListingWriter, recorder Recorder, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		store:    st,
		listings: listings,
		recorder: recorderOrNop(recorder),
		logger:   logger.Named("publisher"),
		now:      func() time.Time { return time.Now().UTC() },
		batch:    200,
	}
}

// Publish writes the listing for req and marks it listed. On failure the
// request stays accepted and a later pass retries. The listing writer is
// idempotent per request id so a retry never creates a second listing.
func (p *Publisher) Publish(ctx context.Context, req domain.SellRequest) error {
	if req.Status != domain.SellStatusAccepted {
		return nil
	}
	listingID := req.ListingID
	if listingID == "" {
		if req.Item == nil {
			return errNoVerifiedItem
		}
		id, err := p.listings.CreateListing(ctx, domain.Listing{
			RequestID: req.ID,
			SellerID:  req.UserID,
			BotID:     req.BotID,
			Price:     req.Price,
			Item:      *req.Item,
			Status:    "active",
			CreatedAt: p.now(),
		})
		if err != nil {
			return fmt.Errorf("create listing for %s: %w", req.ID, err)
		}
		listingID = id
	}
	if err := p.store.MarkListed(ctx, req.ID, listingID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil
		}
		return fmt.Errorf("mark listed %s: %w", req.ID, err)
	}
	p.recorder.Transition(domain.SellStatusListed)
	p.logger.Info("request listed",
		zap.String("request_id", req.ID),
		zap.String("listing_id", listingID),
		zap.String("price", req.Price.StringFixed(2)))
	return nil
}

// PublishPending retries publication for every request left in accepted.
func (p *Publisher) PublishPending(ctx context.Context) {
	reqs, err := p.store.ListByStatus(ctx, domain.SellStatusAccepted, p.batch)
	if err != nil {
		p.logger.Error("list accepted requests", zap.Error(err))
		return
	}
	for _, req := range reqs {
		if err := p.Publish(ctx, req); err != nil {
			p.logger.Warn("publication deferred", zap.String("request_id", req.ID), zap.Error(err))
		}
	}
}
