package handoffz

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Hand-off outcomes recorded by the interceptor send hook.
const (
	OutcomeWrapped     = "wrapped"
	OutcomePassthrough = "passthrough"
	OutcomeDirect      = "direct"
)

// Root decisions recorded by the synthesizer.
const (
	RootSynthesized = "synthesized"
	RootReused      = "reused"
)

// Metrics exposes propagation counters on a Prometheus registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	handoffs        *prometheus.CounterVec
	installs        prometheus.Counter
	restores        prometheus.Counter
	restoreFailures prometheus.Counter
	roots           *prometheus.CounterVec
	invocations     *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// Panics if any collector is already registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		handoffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "handoffz",
			Name:      "handoffs_total",
			Help:      "Messages seen by the send hook, by channel and outcome.",
		}, []string{"channel", "outcome"}),
		installs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "handoffz",
			Name:      "installs_total",
			Help:      "Carried spans installed on a consuming unit.",
		}),
		restores: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "handoffz",
			Name:      "restores_total",
			Help:      "Ambient spans restored after a hand-off completed.",
		}),
		restoreFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "handoffz",
			Name:      "restore_failures_total",
			Help:      "Restores that failed and force-cleared the unit.",
		}),
		roots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "handoffz",
			Name:      "scheduled_roots_total",
			Help:      "Scheduled invocations by root decision.",
		}, []string{"decision"}),
		invocations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "handoffz",
			Name:      "scheduled_duration_seconds",
			Help:      "Duration of scheduled invocations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"}),
	}
	reg.MustRegister(m.handoffs, m.installs, m.restores, m.restoreFailures, m.roots, m.invocations)
	return m
}

func (m *Metrics) handoff(channel, outcome string) {
	if m == nil {
		return
	}
	m.handoffs.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) installed() {
	if m == nil {
		return
	}
	m.installs.Inc()
}

func (m *Metrics) restored(ok bool) {
	if m == nil {
		return
	}
	m.restores.Inc()
	if !ok {
		m.restoreFailures.Inc()
	}
}

func (m *Metrics) root(decision string) {
	if m == nil {
		return
	}
	m.roots.WithLabelValues(decision).Inc()
}

func (m *Metrics) invoked(name string, seconds float64) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(name).Observe(seconds)
}
