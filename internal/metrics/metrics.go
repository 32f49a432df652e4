package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "frictiond"

// Metrics holds the Prometheus collectors of the service. All methods are
// safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	Signals        *prometheus.CounterVec
	SessionsActive prometheus.Gauge
	HintCommands   *prometheus.CounterVec
	HintsDropped   prometheus.Counter
	RescueOffers   prometheus.Counter
	FinalScore     prometheus.Histogram
	EventsDropped  prometheus.Counter
	EventsIngested *prometheus.CounterVec
}

// New creates the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Friction signals raised, by kind.",
		}, []string{"kind"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions with a running friction engine.",
		}),
		HintCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hint_commands_total",
			Help:      "Hint commands emitted to browsers, by operation.",
		}, []string{"op"}),
		HintsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hint_commands_dropped_total",
			Help:      "Hint commands dropped because no reader kept up.",
		}),
		RescueOffers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rescue_offers_total",
			Help:      "Times Rescue Mode was offered.",
		}),
		FinalScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_final_stress_score",
			Help:      "Stress score of sessions at close.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Raw events that could not be normalized.",
		}),
		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Raw events dispatched to engines, by transport.",
		}, []string{"transport"}),
	}

	reg.MustRegister(
		m.Signals,
		m.SessionsActive,
		m.HintCommands,
		m.HintsDropped,
		m.RescueOffers,
		m.FinalScore,
		m.EventsDropped,
		m.EventsIngested,
	)
	return m
}

// Handler exposes the registry over HTTP
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveSignal(kind string) {
	if m == nil {
		return
	}
	m.Signals.WithLabelValues(kind).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionClosed(finalScore float64) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.FinalScore.Observe(finalScore)
}

func (m *Metrics) ObserveHint(op string) {
	if m == nil {
		return
	}
	m.HintCommands.WithLabelValues(op).Inc()
}

func (m *Metrics) HintDropped() {
	if m == nil {
		return
	}
	m.HintsDropped.Inc()
}

func (m *Metrics) RescueOffered() {
	if m == nil {
		return
	}
	m.RescueOffers.Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

func (m *Metrics) EventsDispatched(transport string, n int) {
	if m == nil {
		return
	}
	m.EventsIngested.WithLabelValues(transport).Add(float64(n))
}
