package fulfil

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"fenixbot/internal/domain"
	"fenixbot/internal/service/offer"
	"fenixbot/internal/service/verify"
	"fenixbot/internal/store"
)

const (
	noteCountered      = "offer_countered"
	noteInspectFailed  = "inspect_failed"
	notePrefixExternal = "offer_"
)

// Reconciler applies an observed offer outcome to its sell request. It is
// safe to call repeatedly with the same event: anything but an offer_sent
// request is left alone.
//
// A returned error means the event could not be processed yet and should be
// retried. Verification failures are not errors; they fail the request.
type Reconciler struct {
	store     store.Store
	offers    OfferBinder
	matcher   *verify.Matcher
	publisher *Publisher
	recorder  Recorder
	logger    *zap.Logger
}

func NewReconciler(st store.Store, offers OfferBinder, matcher *verify.Matcher, publisher *Publisher, recorder Recorder, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:     st,
		offers:    offers,
		matcher:   matcher,
		publisher: publisher,
		recorder:  recorderOrNop(recorder),
		logger:    logger.Named("reconcile"),
	}
}

func (r *Reconciler) Handle(ctx context.Context, ev domain.OfferEvent) error {
	req, err := r.store.FindByOfferID(ctx, ev.OfferID)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Debug("event for unknown offer ignored", zap.String("offer_id", ev.OfferID))
		r.recorder.EventHandled(ev.State, "ignored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("find request for offer %s: %w", ev.OfferID, err)
	}
	if req.Status != domain.SellStatusOfferSent {
		r.recorder.EventHandled(ev.State, "duplicate")
		return nil
	}
	if ev.BotID != "" && ev.BotID != req.BotID {
		r.logger.Warn("event bot does not own request",
			zap.String("offer_id", ev.OfferID),
			zap.String("event_bot_id", ev.BotID),
			zap.String("bot_id", req.BotID))
	}

	switch ev.State {
	case domain.OfferStateActive:
		r.recorder.EventHandled(ev.State, "noop")
		return nil
	case domain.OfferStateAccepted:
		return r.accept(ctx, req)
	case domain.OfferStateCountered:
		r.cancelCounter(ctx, req)
		r.recorder.EventHandled(ev.State, "failed")
		return r.fail(ctx, req, noteCountered)
	case domain.OfferStateDeclined, domain.OfferStateCanceled, domain.OfferStateInvalidItems:
		r.recorder.EventHandled(ev.State, "failed")
		return r.fail(ctx, req, notePrefixExternal+string(ev.State))
	default:
		r.logger.Warn("unknown offer state", zap.String("offer_id", ev.OfferID), zap.String("state", string(ev.State)))
		return nil
	}
}

func (r *Reconciler) accept(ctx context.Context, req domain.SellRequest) error {
	logger := r.logger.With(zap.String("request_id", req.ID), zap.String("offer_id", req.TradeOfferID), zap.String("bot_id", req.BotID))

	client, err := r.offers.Bind(ctx, req.BotID)
	if err != nil {
		return fmt.Errorf("bind bot %s: %w", req.BotID, err)
	}
	items, err := client.FetchReceivedItems(ctx, req.TradeOfferID)
	if errors.Is(err, offer.ErrInspectFailed) {
		logger.Warn("received item could not be inspected", zap.Error(err))
		r.recorder.EventHandled(domain.OfferStateAccepted, "failed")
		return r.fail(ctx, req, noteInspectFailed)
	}
	if err != nil {
		return fmt.Errorf("fetch received items for %s: %w", req.TradeOfferID, err)
	}

	decision := r.matcher.Evaluate(req, items)
	if !decision.Allowed {
		logger.Warn("received items do not match request",
			zap.String("asset_id", req.AssetID),
			zap.String("item_name", req.ItemName),
			zap.String("reason", decision.DenyReason))
		r.recorder.EventHandled(domain.OfferStateAccepted, "failed")
		return r.fail(ctx, req, decision.DenyReason)
	}

	if err := r.store.MarkAccepted(ctx, req.ID, decision.Item); err != nil {
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			r.recorder.EventHandled(domain.OfferStateAccepted, "duplicate")
			return nil
		}
		return fmt.Errorf("mark accepted %s: %w", req.ID, err)
	}
	r.recorder.Transition(domain.SellStatusAccepted)
	r.recorder.EventHandled(domain.OfferStateAccepted, "accepted")
	logger.Info("request accepted")

	req.Status = domain.SellStatusAccepted
	item := decision.Item
	req.Item = &item
	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, req); err != nil {
			logger.Warn("publication deferred", zap.Error(err))
		}
	}
	return nil
}

// cancelCounter is best effort: the request fails whether or not the cancel
// goes through.
func (r *Reconciler) cancelCounter(ctx context.Context, req domain.SellRequest) {
	client, err := r.offers.Bind(ctx, req.BotID)
	if err != nil {
		r.logger.Warn("cannot cancel countered offer", zap.String("offer_id", req.TradeOfferID), zap.Error(err))
		return
	}
	if err := client.CancelOffer(ctx, req.TradeOfferID); err != nil {
		r.logger.Warn("cancel countered offer", zap.String("offer_id", req.TradeOfferID), zap.Error(err))
	}
}

// fail moves req to failed. Losing the race to another handler is not an
// error; a store failure is, so the event gets retried.
func (r *Reconciler) fail(ctx context.Context, req domain.SellRequest, note string) error {
	err := r.store.MarkFailed(ctx, req.ID, domain.SellStatusOfferSent, note)
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", req.ID, err)
	}
	r.recorder.Transition(domain.SellStatusFailed)
	r.logger.Info("request failed", zap.String("request_id", req.ID), zap.String("note", note))
	return nil
}
