package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenixbot/internal/domain"
)

func gauge(t *testing.T, r *Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			if m.GetGauge() != nil {
				return m.GetGauge().GetValue()
			}
			return m.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s %v not found", name, labels)
	return 0
}

func TestCountersAccumulate(t *testing.T) {
	r := New()
	r.Transition(domain.SellStatusListed)
	r.Transition(domain.SellStatusListed)
	r.DispatchError("bot-1")
	r.EventHandled(domain.OfferStateAccepted, "accepted")
	r.Swept("bot-1")
	r.InboxEvent(domain.OfferEvent{BotID: "bot-1"}, "handled")

	assert.Equal(t, 2.0, gauge(t, r, "fenixbot_sell_request_transitions_total", map[string]string{"status": "listed"}))
	assert.Equal(t, 1.0, gauge(t, r, "fenixbot_dispatch_errors_total", map[string]string{"bot_id": "bot-1"}))
	assert.Equal(t, 1.0, gauge(t, r, "fenixbot_offer_events_total", map[string]string{"state": "accepted", "outcome": "accepted"}))
	assert.Equal(t, 1.0, gauge(t, r, "fenixbot_abandoned_offers_total", map[string]string{"bot_id": "bot-1"}))
	assert.Equal(t, 1.0, gauge(t, r, "fenixbot_inbox_events_total", map[string]string{"bot_id": "bot-1", "outcome": "handled"}))
}

func TestSessionStateIsOneHot(t *testing.T) {
	r := New()
	r.SessionState("bot-1", domain.SessionLive)
	r.SessionState("bot-1", domain.SessionCooldown)

	assert.Equal(t, 0.0, gauge(t, r, "fenixbot_bot_session_state", map[string]string{"bot_id": "bot-1", "state": "live"}))
	assert.Equal(t, 1.0, gauge(t, r, "fenixbot_bot_session_state", map[string]string{"bot_id": "bot-1", "state": "cooldown"}))
}

func TestHandlerServesExposition(t *testing.T) {
	r := New()
	r.Transition(domain.SellStatusPending)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `fenixbot_sell_request_transitions_total{status="pending"} 1`)
}
