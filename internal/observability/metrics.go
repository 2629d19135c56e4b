package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveCalls      prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	Callbacks        *prometheus.CounterVec
	PhaseTransitions *prometheus.CounterVec
	SecurityOutcomes *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	CallbackLatency  prometheus.Histogram

	window *latencyWindow
}

// NewMetrics registers instruments with the default Prometheus registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers instruments with reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewMetricsWithRegistry(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveCalls: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of calls with a live session.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		Callbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Telephony callbacks by step and outcome.",
		}, []string{"step", "outcome"}),
		PhaseTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Call phase transitions.",
		}, []string{"from", "to"}),
		SecurityOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "security_outcomes_total",
			Help:      "Security challenge results.",
		}, []string{"result"}),
		ProviderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Collaborator errors by provider and code.",
		}, []string{"provider", "code"}),
		CallbackLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "callback_latency_ms",
			Help:      "Time to produce a call instruction in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000, 12000},
		}),
		window: newLatencyWindow(256),
	}
}

// ObserveStage records a per-callback stage latency in the rolling window.
// The "total" stage also feeds the callback latency histogram.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.window.observe(stage, d)
	if stage == StageTotal {
		m.CallbackLatency.Observe(float64(d.Microseconds()) / 1000)
	}
}

// ObserveIndicator counts a notable event in the rolling window, e.g. a silent re-prompt.
func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.window.count(name)
}

// SnapshotStages returns percentile stats for every observed stage.
func (m *Metrics) SnapshotStages() StageSnapshot {
	return m.window.snapshot(time.Now())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
