package fulfil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fenixbot/internal/domain"
	"fenixbot/internal/platform/platformtest"
)

func TestWatcher_PublishesStateChangesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sink := &recordingSink{}
	w := NewWatcher(testBot, h.binder, sink, time.Second, time.Hour, false, zap.NewNop())

	req := h.dispatched("A1", "Widget Mk2")

	w.Poll(ctx)
	w.Poll(ctx)
	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.OfferStateActive, events[0].State)
	assert.Equal(t, testBot, events[0].BotID)

	h.srv.SetOfferState(req.TradeOfferID, platformtest.StateAccepted)
	w.Poll(ctx)
	w.Poll(ctx)
	events = sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, req.TradeOfferID, events[1].OfferID)
	assert.Equal(t, domain.OfferStateAccepted, events[1].State)
}

func TestWatcher_DeclinesUnsolicitedOffers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := NewWatcher(testBot, h.binder, &recordingSink{}, time.Second, time.Hour, true, zap.NewNop())

	h.srv.AddIncomingOffer("gift-1")
	w.Poll(ctx)

	assert.Equal(t, []string{"gift-1"}, h.srv.Declined())
	assert.Equal(t, platformtest.StateDeclined, h.srv.OfferState("gift-1"))
}

func TestWatcher_SkipsWithoutSession(t *testing.T) {
	h := newHarness(t)
	h.srv.LoginStatus = 429
	sink := &recordingSink{}
	w := NewWatcher(testBot, h.binder, sink, time.Second, time.Hour, true, zap.NewNop())

	w.Poll(context.Background())
	assert.Empty(t, sink.Events())
}

func TestEngine_WatcherFeedsReconciliation(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := NewEngine(EngineConfig{
		DispatchInterval: time.Hour,
		SweepInterval:    time.Hour,
		OfferDeadline:    10 * time.Minute,
		PollInterval:     10 * time.Millisecond,
		Inbox:            InboxConfig{RetryDelay: 10 * time.Millisecond, MaxAttempts: 3},
	}, h.store, h.store, h.binder, []string{testBot}, &mapDedup{}, nil, zap.NewNop())

	req, err := engine.Service.Submit(ctx, SubmitInput{UserID: "u1", AssetID: "A1", ItemName: "Widget Mk2", Price: mustPrice("10.00")})
	require.NoError(t, err)
	engine.Dispatcher.Tick(ctx)
	sent := h.get(req.ID)
	require.Equal(t, domain.SellStatusOfferSent, sent.Status)
	h.settle(sent.TradeOfferID, received("A1", "Widget Mk2"))

	engine.Start(ctx)
	defer func() { _ = engine.Stop(context.Background()) }()

	require.Eventually(t, func() bool {
		return h.get(req.ID).Status == domain.SellStatusListed
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, h.store.Listings(), 1)
}
