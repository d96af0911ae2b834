package fulfil

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fenixbot/internal/domain"
)

// Watcher polls one bot's sent offers and publishes an event whenever an
// offer's state differs from the last poll. It also declines offers other
// accounts send to the bot, since the bot never accepts unsolicited trades.
type Watcher struct {
	botID    string
	offers   OfferBinder
	sink     EventSink
	interval time.Duration
	lookback time.Duration
	decline  bool
	logger   *zap.Logger
	now      func() time.Time

	lastSeen map[string]domain.OfferState
}

func NewWatcher(botID string, offers OfferBinder, sink EventSink, interval, lookback time.Duration, declineIncoming bool, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		botID:    botID,
		offers:   offers,
		sink:     sink,
		interval: interval,
		lookback: lookback,
		decline:  declineIncoming,
		logger:   logger.Named("watcher").With(zap.String("bot_id", botID)),
		now:      func() time.Time { return time.Now().UTC() },
		lastSeen: make(map[string]domain.OfferState),
	}
}

// Run polls until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = guard(w.logger, "watch "+w.botID, func() error {
				w.Poll(ctx)
				return nil
			})
		}
	}
}

// Poll runs a single observation pass.
func (w *Watcher) Poll(ctx context.Context) {
	client, err := w.offers.Bind(ctx, w.botID)
	if err != nil {
		w.logger.Debug("poll skipped", zap.Error(err))
		return
	}

	sent, err := client.ListSent(ctx, w.now().Add(-w.lookback))
	if err != nil {
		w.logger.Warn("list sent offers", zap.Error(err))
		return
	}
	seen := make(map[string]bool, len(sent))
	for _, o := range sent {
		seen[o.ID] = true
		if prev, ok := w.lastSeen[o.ID]; ok && prev == o.State {
			continue
		}
		ev := domain.OfferEvent{BotID: w.botID, OfferID: o.ID, State: o.State, ObservedAt: w.now()}
		if err := w.sink.Publish(ctx, ev); err != nil {
			w.logger.Warn("publish offer event", zap.String("offer_id", o.ID), zap.Error(err))
			continue
		}
		w.lastSeen[o.ID] = o.State
	}
	for id := range w.lastSeen {
		if !seen[id] {
			delete(w.lastSeen, id)
		}
	}

	if !w.decline {
		return
	}
	incoming, err := client.ListIncoming(ctx)
	if err != nil {
		w.logger.Warn("list incoming offers", zap.Error(err))
		return
	}
	for _, o := range incoming {
		if o.State != domain.OfferStateActive {
			continue
		}
		if err := client.DeclineOffer(ctx, o.ID); err != nil {
			w.logger.Warn("decline incoming offer", zap.String("offer_id", o.ID), zap.Error(err))
			continue
		}
		w.logger.Info("declined unsolicited offer", zap.String("offer_id", o.ID))
	}
}
