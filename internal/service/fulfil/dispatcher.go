package fulfil

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"fenixbot/internal/domain"
	"fenixbot/internal/service/offer"
	"fenixbot/internal/service/session"
	"fenixbot/internal/store"
)

const noteNoTradeHandle = "no_trade_handle"

// Dispatcher turns pending requests into outbound trade offers.
type Dispatcher struct {
	store     store.Store
	offers    OfferBinder
	publisher *Publisher
	recorder  Recorder
	logger    *zap.Logger
	batch     int
}

func NewDispatcher(st store.Store, offers OfferBinder, publisher *Publisher, recorder Recorder, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		store:     st,
		offers:    offers,
		publisher: publisher,
		recorder:  recorderOrNop(recorder),
		logger:    logger.Named("dispatch"),
		batch:     500,
	}
}

// Tick runs one dispatch cycle. Bots are handled concurrently, the requests
// of one bot sequentially. After dispatch, accepted requests whose listing
// write failed earlier get another publication attempt.
func (d *Dispatcher) Tick(ctx context.Context) {
	reqs, err := d.store.ListByStatus(ctx, domain.SellStatusPending, d.batch)
	if err != nil {
		d.logger.Error("list pending requests", zap.Error(err))
		return
	}
	groups, order := groupByBot(reqs)

	var wg sync.WaitGroup
	for _, botID := range order {
		botID, list := botID, groups[botID]
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := guard(d.logger, "dispatch "+botID, func() error {
				d.dispatchBot(ctx, botID, list)
				return nil
			})
			if err != nil {
				d.recorder.DispatchError(botID)
			}
		}()
	}
	wg.Wait()

	if d.publisher != nil {
		d.publisher.PublishPending(ctx)
	}
}

func (d *Dispatcher) dispatchBot(ctx context.Context, botID string, reqs []domain.SellRequest) {
	logger := d.logger.With(zap.String("bot_id", botID))
	var (
		client  *offer.Client
		bindErr error
	)
	for _, req := range reqs {
		if ctx.Err() != nil {
			return
		}
		handle, err := d.store.TradeHandle(ctx, req.UserID)
		if err != nil {
			logger.Warn("trade handle lookup failed", zap.String("request_id", req.ID), zap.Error(err))
			continue
		}
		if handle == "" {
			d.fail(ctx, req, noteNoTradeHandle)
			continue
		}
		if bindErr != nil {
			continue
		}
		if client == nil {
			client, bindErr = d.offers.Bind(ctx, botID)
			if bindErr != nil {
				logBindError(logger, bindErr)
				continue
			}
		}

		offerID, err := client.CreateOffer(ctx, handle, req.AssetID)
		if err != nil {
			d.recorder.DispatchError(botID)
			logger.Warn("offer not sent, retrying next cycle", zap.String("request_id", req.ID), zap.Error(err))
			if errors.Is(err, session.ErrStaleSession) {
				bindErr = err
			}
			continue
		}
		if err := d.store.MarkOfferSent(ctx, req.ID, offerID); err != nil {
			logger.Error("offer sent but request not updated, canceling offer",
				zap.String("request_id", req.ID),
				zap.String("offer_id", offerID),
				zap.Error(err))
			if cerr := client.CancelOffer(ctx, offerID); cerr != nil {
				logger.Warn("cancel orphaned offer", zap.String("offer_id", offerID), zap.Error(cerr))
			}
			continue
		}
		d.recorder.Transition(domain.SellStatusOfferSent)
		logger.Info("offer sent", zap.String("request_id", req.ID), zap.String("offer_id", offerID))
	}
}

func (d *Dispatcher) fail(ctx context.Context, req domain.SellRequest, note string) {
	err := d.store.MarkFailed(ctx, req.ID, domain.SellStatusPending, note)
	if err != nil {
		if !errors.Is(err, store.ErrConflict) && !errors.Is(err, store.ErrNotFound) {
			d.logger.Error("mark failed", zap.String("request_id", req.ID), zap.Error(err))
		}
		return
	}
	d.recorder.Transition(domain.SellStatusFailed)
	d.logger.Info("request failed", zap.String("request_id", req.ID), zap.String("note", note))
}

func logBindError(logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, session.ErrBotDisabled):
		logger.Error("bot disabled, requests stay pending", zap.Error(err))
	default:
		logger.Info("no live session, skipping cycle", zap.Error(err))
	}
}
