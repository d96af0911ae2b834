package fulfil

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fenixbot/internal/domain"
	"fenixbot/internal/platform"
	"fenixbot/internal/platform/platformtest"
	"fenixbot/internal/service/offer"
	"fenixbot/internal/service/session"
	"fenixbot/internal/service/verify"
	"fenixbot/internal/store/memory"
)

const testBot = "bot-1"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	t          *testing.T
	srv        *platformtest.Server
	store      *memory.Store
	sessions   *session.Manager
	binder     *offer.Binder
	clock      *clock
	publisher  *Publisher
	dispatcher *Dispatcher
	reconciler *Reconciler
	sweeper    *Sweeper
	service    *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := platformtest.NewServer()
	t.Cleanup(srv.Close)

	clk := &clock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	st := memory.NewStore()
	st.SetClock(clk.Now)
	st.SetTradeHandle("u1", "https://trade.example/new/?partner=11&token=abc")

	mgr, err := session.NewManager(
		[]domain.BotIdentity{{
			ID:           testBot,
			AccountName:  "fenix01",
			Password:     "pw",
			SharedSecret: base64.StdEncoding.EncodeToString([]byte("fenix01-shared")),
		}},
		map[string]*platform.Client{testBot: platform.NewClient(platform.Config{
			BaseURL:        srv.BaseURL(),
			InspectBaseURL: srv.InspectURL(),
			Timeout:        2 * time.Second,
			AppID:          730,
			ContextID:      "2",
		})},
		30*time.Minute, zap.NewNop(),
		session.WithClock(clk.Now),
	)
	require.NoError(t, err)

	binder := offer.NewBinder(mgr, "fenix sell order", zap.NewNop())
	publisher := NewPublisher(st, st, nil, zap.NewNop())
	publisher.now = clk.Now
	sweeper := NewSweeper(st, binder, nil, 10*time.Minute, nil, zap.NewNop())
	sweeper.SetClock(clk.Now)

	return &harness{
		t:          t,
		srv:        srv,
		store:      st,
		sessions:   mgr,
		binder:     binder,
		clock:      clk,
		publisher:  publisher,
		dispatcher: NewDispatcher(st, binder, publisher, nil, zap.NewNop()),
		reconciler: NewReconciler(st, binder, verify.NewMatcher(), publisher, nil, zap.NewNop()),
		sweeper:    sweeper,
		service:    NewService(st, []string{testBot}, nil, zap.NewNop()),
	}
}

func (h *harness) submit(userID, assetID, name, price string) domain.SellRequest {
	h.t.Helper()
	req, err := h.service.Submit(context.Background(), SubmitInput{
		UserID:   userID,
		AssetID:  assetID,
		ItemName: name,
		Price:    decimal.RequireFromString(price),
	})
	require.NoError(h.t, err)
	return req
}

func (h *harness) get(id string) domain.SellRequest {
	h.t.Helper()
	req, err := h.store.GetSellRequest(context.Background(), id)
	require.NoError(h.t, err)
	return req
}

// dispatched submits a request and runs one dispatch cycle.
func (h *harness) dispatched(assetID, name string) domain.SellRequest {
	h.t.Helper()
	req := h.submit("u1", assetID, name, "10.00")
	h.dispatcher.Tick(context.Background())
	req = h.get(req.ID)
	require.Equal(h.t, domain.SellStatusOfferSent, req.Status)
	require.NotEmpty(h.t, req.TradeOfferID)
	return req
}

// settle marks the offer accepted on the platform with the given receipt.
func (h *harness) settle(offerID string, items ...domain.ReceivedItem) {
	h.srv.SetOfferState(offerID, platformtest.StateAccepted)
	h.srv.SetReceipt(offerID, items)
	for _, it := range items {
		h.srv.SetInspect(it.InspectLink, map[string]interface{}{
			"floatvalue": 0.0712,
			"paintseed":  661,
			"paintindex": 44,
			"imageurl":   "https://img.example/" + it.AssetID + ".png",
			"stickers":   []map[string]interface{}{{"slot": 1, "name": "Crown (Foil)"}},
		})
	}
}

func (h *harness) event(req domain.SellRequest, state domain.OfferState) domain.OfferEvent {
	return domain.OfferEvent{BotID: req.BotID, OfferID: req.TradeOfferID, State: state, ObservedAt: h.clock.Now()}
}

func received(assetID, name string) domain.ReceivedItem {
	return domain.ReceivedItem{AssetID: assetID, Name: name, InspectLink: "inspect://" + assetID}
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.OfferEvent
}

func (s *recordingSink) Publish(_ context.Context, ev domain.OfferEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Events() []domain.OfferEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OfferEvent(nil), s.events...)
}
