// Package metrics exposes engine counters in the Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fenixbot/internal/domain"
)

const namespace = "fenixbot"

var sessionStates = []domain.SessionState{
	domain.SessionDisconnected,
	domain.SessionAuthenticating,
	domain.SessionLive,
	domain.SessionCooldown,
	domain.SessionDisabled,
}

// Registry owns a private Prometheus registry and the engine's collectors.
// Safe for concurrent use.
type Registry struct {
	registry *prometheus.Registry

	transitions    *prometheus.CounterVec
	dispatchErrors *prometheus.CounterVec
	offerEvents    *prometheus.CounterVec
	inboxEvents    *prometheus.CounterVec
	swept          *prometheus.CounterVec
	sessionState   *prometheus.GaugeVec
}

func New() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sell_request_transitions_total",
			Help:      "Sell request status transitions by target status.",
		}, []string{"status"}),
		dispatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_errors_total",
			Help:      "Offers that could not be sent, by bot.",
		}, []string{"bot_id"}),
		offerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offer_events_total",
			Help:      "Reconciled offer events by external state and outcome.",
		}, []string{"state", "outcome"}),
		inboxEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbox_events_total",
			Help:      "Offer events leaving the per-bot inbox, by bot and outcome.",
		}, []string{"bot_id", "outcome"}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "abandoned_offers_total",
			Help:      "Offer_sent requests removed after the deadline, by bot.",
		}, []string{"bot_id"}),
		sessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bot_session_state",
			Help:      "1 for the bot's current session state, 0 otherwise.",
		}, []string{"bot_id", "state"}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.transitions,
		r.dispatchErrors,
		r.offerEvents,
		r.inboxEvents,
		r.swept,
		r.sessionState,
	)
	return r
}

func (r *Registry) Transition(to domain.SellStatus) {
	r.transitions.WithLabelValues(string(to)).Inc()
}

func (r *Registry) DispatchError(botID string) {
	r.dispatchErrors.WithLabelValues(botID).Inc()
}

func (r *Registry) EventHandled(state domain.OfferState, outcome string) {
	r.offerEvents.WithLabelValues(string(state), outcome).Inc()
}

func (r *Registry) Swept(botID string) {
	r.swept.WithLabelValues(botID).Inc()
}

func (r *Registry) InboxEvent(ev domain.OfferEvent, outcome string) {
	r.inboxEvents.WithLabelValues(ev.BotID, outcome).Inc()
}

// SessionState sets the gauge of state to 1 and of every other state to 0.
func (r *Registry) SessionState(botID string, state domain.SessionState) {
	for _, s := range sessionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		r.sessionState.WithLabelValues(botID, string(s)).Set(v)
	}
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}
