package fulfil

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"fenixbot/internal/domain"
	"fenixbot/internal/service/offer"
	"fenixbot/internal/store"
)

// Sweeper discards offer_sent requests nobody acted on before the deadline.
type Sweeper struct {
	store    store.Store
	offers   OfferBinder
	events   EventSink
	deadline time.Duration
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
	batch    int
}

func NewSweeper(st store.Store, offers OfferBinder, events EventSink, deadline time.Duration, recorder Recorder, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:    st,
		offers:   offers,
		events:   events,
		deadline: deadline,
		recorder: recorderOrNop(recorder),
		logger:   logger.Named("sweeper"),
		now:      func() time.Time { return time.Now().UTC() },
		batch:    500,
	}
}

// SetClock replaces the sweeper's time source.
func (s *Sweeper) SetClock(now func() time.Time) { s.now = now }

// Tick sweeps every offer_sent request whose updated_at is at or before
// now minus the deadline.
func (s *Sweeper) Tick(ctx context.Context) {
	cutoff := s.now().Add(-s.deadline)
	reqs, err := s.store.ListStale(ctx, domain.SellStatusOfferSent, cutoff, s.batch)
	if err != nil {
		s.logger.Error("list stale requests", zap.Error(err))
		return
	}
	if len(reqs) == 0 {
		return
	}
	groups, order := groupByBot(reqs)

	var wg sync.WaitGroup
	for _, botID := range order {
		botID, list := botID, groups[botID]
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = guard(s.logger, "sweep "+botID, func() error {
				s.sweepBot(ctx, botID, list, cutoff)
				return nil
			})
		}()
	}
	wg.Wait()
}

func (s *Sweeper) sweepBot(ctx context.Context, botID string, reqs []domain.SellRequest, cutoff time.Time) {
	logger := s.logger.With(zap.String("bot_id", botID))
	client, err := s.offers.Bind(ctx, botID)
	if err != nil {
		logger.Info("bot unreachable, deleting without cancel", zap.Error(err))
	}
	for _, req := range reqs {
		if ctx.Err() != nil {
			return
		}
		if client != nil && s.settledExternally(ctx, client, req, logger) {
			continue
		}
		if err := s.store.DeleteAbandoned(ctx, req.ID, cutoff); err != nil {
			if !errors.Is(err, store.ErrConflict) && !errors.Is(err, store.ErrNotFound) {
				logger.Error("delete abandoned request", zap.String("request_id", req.ID), zap.Error(err))
			}
			continue
		}
		s.recorder.Swept(botID)
		logger.Info("abandoned offer removed", zap.String("request_id", req.ID), zap.String("offer_id", req.TradeOfferID))
	}
}

// settledExternally cancels the offer when it is still active. When the
// counterparty already accepted, the row is handed to reconciliation instead
// of being deleted so a transferred item is never dropped.
func (s *Sweeper) settledExternally(ctx context.Context, client *offer.Client, req domain.SellRequest, logger *zap.Logger) bool {
	state, err := client.FetchOfferState(ctx, req.TradeOfferID)
	if err != nil {
		logger.Warn("offer state unavailable, deleting anyway", zap.String("offer_id", req.TradeOfferID), zap.Error(err))
		return false
	}
	switch state {
	case domain.OfferStateActive:
		if err := client.CancelOffer(ctx, req.TradeOfferID); err != nil {
			logger.Warn("cancel abandoned offer", zap.String("offer_id", req.TradeOfferID), zap.Error(err))
		}
		return false
	case domain.OfferStateAccepted:
		if s.events == nil {
			return false
		}
		ev := domain.OfferEvent{BotID: req.BotID, OfferID: req.TradeOfferID, State: state, ObservedAt: s.now()}
		if err := s.events.Publish(ctx, ev); err != nil {
			logger.Warn("hand accepted offer to reconciliation", zap.String("offer_id", req.TradeOfferID), zap.Error(err))
			return false
		}
		logger.Info("stale offer was accepted, reconciling instead of deleting", zap.String("offer_id", req.TradeOfferID))
		return true
	default:
		return false
	}
}
