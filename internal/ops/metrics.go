package ops

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	queryDuration   *prometheus.HistogramVec
	queryEvents     prometheus.Counter
	publishAttempts *prometheus.CounterVec
	zapTransitions  *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		queryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zapline_relay_query_duration_seconds",
			Help:    "Duration of per-relay query sub-requests",
			Buckets: []float64{.05, .1, .25, .5, 1, 1.5, 3, 5},
		}, []string{"relay", "outcome"}),
		queryEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "zapline_relay_query_events_total",
			Help: "Events received from relay queries before deduplication",
		}),
		publishAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zapline_publish_attempts_total",
			Help: "Publish attempts per relay and outcome",
		}, []string{"relay", "outcome"}),
		zapTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zapline_zap_transitions_total",
			Help: "Zap session state transitions by target state",
		}, []string{"state"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zapline_cache_lookups_total",
			Help: "Query cache lookups by result",
		}, []string{"result"}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveQuery records one relay sub-request
func (m *Metrics) ObserveQuery(relay string, d time.Duration, events int, err error) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(relay, outcome(err)).Observe(d.Seconds())
	m.queryEvents.Add(float64(events))
}

// ObservePublish records one publish attempt
func (m *Metrics) ObservePublish(relay string, err error) {
	if m == nil {
		return
	}
	m.publishAttempts.WithLabelValues(relay, outcome(err)).Inc()
}

// ObserveZapTransition records a transition into state
func (m *Metrics) ObserveZapTransition(state string) {
	if m == nil {
		return
	}
	m.zapTransitions.WithLabelValues(state).Inc()
}

// ObserveCache records a cache lookup
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
