package fulfil

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fenixbot/internal/domain"
	"fenixbot/internal/platform/platformtest"
	"fenixbot/internal/store"
)

func TestSweep_StaleActiveOfferIsCanceledAndDeleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.dispatched("A1", "Widget Mk2")

	h.clock.Advance(11 * time.Minute)
	h.sweeper.Tick(ctx)

	assert.Equal(t, []string{req.TradeOfferID}, h.srv.Canceled())
	assert.Equal(t, platformtest.StateCanceled, h.srv.OfferState(req.TradeOfferID))
	_, err := h.store.GetSellRequest(ctx, req.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSweep_DeadlineBoundary(t *testing.T) {
	t.Run("exactly at deadline is swept", func(t *testing.T) {
		h := newHarness(t)
		req := h.dispatched("A1", "Widget Mk2")
		h.clock.Advance(10 * time.Minute)
		h.sweeper.Tick(context.Background())
		_, err := h.store.GetSellRequest(context.Background(), req.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
	t.Run("one millisecond before is kept", func(t *testing.T) {
		h := newHarness(t)
		req := h.dispatched("A1", "Widget Mk2")
		h.clock.Advance(10*time.Minute - time.Millisecond)
		h.sweeper.Tick(context.Background())
		assert.Equal(t, domain.SellStatusOfferSent, h.get(req.ID).Status)
		assert.Empty(t, h.srv.Canceled())
	})
}

func TestSweep_UnreachableBotStillDeletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.dispatched("A1", "Widget Mk2")

	h.srv.ExpireSession()
	h.srv.LoginStatus = http.StatusTooManyRequests
	h.clock.Advance(11 * time.Minute)
	h.sweeper.Tick(ctx)
	h.sweeper.Tick(ctx)

	_, err := h.store.GetSellRequest(ctx, req.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, h.srv.Canceled())
}

func TestSweep_OfferAlreadyInactiveIsNotCanceled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.dispatched("A1", "Widget Mk2")
	h.srv.SetOfferState(req.TradeOfferID, platformtest.StateDeclined)

	h.clock.Advance(11 * time.Minute)
	h.sweeper.Tick(ctx)

	assert.Empty(t, h.srv.Canceled())
	_, err := h.store.GetSellRequest(ctx, req.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSweep_AcceptedOfferIsReconciledNotDeleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sink := &recordingSink{}
	sweeper := NewSweeper(h.store, h.binder, sink, 10*time.Minute, nil, zap.NewNop())
	sweeper.SetClock(h.clock.Now)

	req := h.dispatched("A1", "Widget Mk2")
	h.srv.SetOfferState(req.TradeOfferID, platformtest.StateAccepted)
	h.clock.Advance(11 * time.Minute)
	sweeper.Tick(ctx)

	assert.Equal(t, domain.SellStatusOfferSent, h.get(req.ID).Status)
	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, req.TradeOfferID, events[0].OfferID)
	assert.Equal(t, domain.OfferStateAccepted, events[0].State)
}
