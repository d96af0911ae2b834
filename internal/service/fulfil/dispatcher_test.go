package fulfil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenixbot/internal/domain"
)

func TestDispatch_PendingBecomesOfferSent(t *testing.T) {
	h := newHarness(t)
	req := h.submit("u1", "A1", "Widget Mk2", "10.00")

	h.dispatcher.Tick(context.Background())

	got := h.get(req.ID)
	assert.Equal(t, domain.SellStatusOfferSent, got.Status)
	assert.Equal(t, "7001", got.TradeOfferID)
	assert.Equal(t, 1, h.srv.SendCalls())

	found, err := h.store.FindByOfferID(context.Background(), "7001")
	require.NoError(t, err)
	assert.Equal(t, req.ID, found.ID)
}

func TestDispatch_MissingTradeHandleFails(t *testing.T) {
	h := newHarness(t)
	req := h.submit("u-without-handle", "A1", "Widget Mk2", "10.00")

	h.dispatcher.Tick(context.Background())

	got := h.get(req.ID)
	assert.Equal(t, domain.SellStatusFailed, got.Status)
	assert.Equal(t, noteNoTradeHandle, got.Note)
	assert.Equal(t, 0, h.srv.SendCalls())
}

func TestDispatch_NoLiveSessionLeavesRequestsUntouched(t *testing.T) {
	h := newHarness(t)
	h.srv.LoginStatus = http.StatusTooManyRequests
	req := h.submit("u1", "A1", "Widget Mk2", "10.00")
	before := h.get(req.ID)

	h.dispatcher.Tick(context.Background())
	h.dispatcher.Tick(context.Background())

	after := h.get(req.ID)
	assert.Equal(t, domain.SellStatusPending, after.Status)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Empty(t, after.TradeOfferID)
	assert.Equal(t, 0, h.srv.SendCalls())
	assert.Equal(t, 1, h.srv.LoginCalls(), "cooldown suppresses a second login")
}

func TestDispatch_SendFailureRetriesNextCycle(t *testing.T) {
	h := newHarness(t)
	h.srv.SendStatus = http.StatusBadGateway
	req := h.submit("u1", "A1", "Widget Mk2", "10.00")

	h.dispatcher.Tick(context.Background())
	assert.Equal(t, domain.SellStatusPending, h.get(req.ID).Status)

	h.srv.SendStatus = 0
	h.dispatcher.Tick(context.Background())
	assert.Equal(t, domain.SellStatusOfferSent, h.get(req.ID).Status)
	assert.Equal(t, 2, h.srv.SendCalls())
}

func TestDispatch_ExpiredSessionRecoversOnNextCycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.dispatched("A1", "Widget Mk2")
	require.NotEmpty(t, first.TradeOfferID)

	h.srv.ExpireSession()
	second := h.submit("u1", "A2", "Gadget", "4.50")
	h.dispatcher.Tick(ctx)
	assert.Equal(t, domain.SellStatusPending, h.get(second.ID).Status)

	h.dispatcher.Tick(ctx)
	assert.Equal(t, domain.SellStatusOfferSent, h.get(second.ID).Status)
	assert.Equal(t, 2, h.srv.LoginCalls())
}

func TestDispatch_AlsoRetriesPublication(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	writer := &flakyWriter{err: errors.New("listing store down")}
	h.publisher.listings = writer

	req := h.dispatched("A1", "Widget Mk2")
	h.settle(req.TradeOfferID, received("A1", "Widget Mk2"))
	require.NoError(t, h.reconciler.Handle(ctx, h.event(req, domain.OfferStateAccepted)))
	assert.Equal(t, domain.SellStatusAccepted, h.get(req.ID).Status)

	writer.err = nil
	h.dispatcher.Tick(ctx)
	got := h.get(req.ID)
	assert.Equal(t, domain.SellStatusListed, got.Status)
	assert.Equal(t, "listing-1", got.ListingID)
}

func TestGroupByBotKeepsOrder(t *testing.T) {
	groups, order := groupByBot([]domain.SellRequest{
		{ID: "1", BotID: "b"},
		{ID: "2", BotID: "a"},
		{ID: "3", BotID: "b"},
	})
	assert.Equal(t, []string{"b", "a"}, order)
	require.Len(t, groups["b"], 2)
	assert.Equal(t, "1", groups["b"][0].ID)
	assert.Equal(t, "3", groups["b"][1].ID)
}

type flakyWriter struct {
	err   error
	calls int
	byReq map[string]string
}

func (w *flakyWriter) CreateListing(_ context.Context, l domain.Listing) (string, error) {
	w.calls++
	if w.err != nil {
		return "", w.err
	}
	if w.byReq == nil {
		w.byReq = make(map[string]string)
	}
	if id, ok := w.byReq[l.RequestID]; ok {
		return id, nil
	}
	id := fmt.Sprintf("listing-%d", len(w.byReq)+1)
	w.byReq[l.RequestID] = id
	return id, nil
}
