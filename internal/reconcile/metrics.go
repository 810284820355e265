package reconcile

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/juzibot/wechaty/internal/payload"
	"github.com/juzibot/wechaty/internal/store"
)

// Metrics are the reconciliation counters. A nil *Metrics records nothing.
type Metrics struct {
	passes      *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	differences *prometheus.CounterVec
	events      *prometheus.CounterVec
	errors      *prometheus.CounterVec
	convergence *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wechaty",
			Subsystem: "reconcile",
			Name:      "passes_total",
			Help:      "Reconciliation passes by entity kind and status",
		}, []string{"kind", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wechaty",
			Subsystem: "reconcile",
			Name:      "pass_duration_seconds",
			Help:      "Time spent in one reconciliation pass",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		differences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wechaty",
			Subsystem: "reconcile",
			Name:      "differences_total",
			Help:      "Field differences by entity kind and class",
		}, []string{"kind", "class"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wechaty",
			Subsystem: "reconcile",
			Name:      "events_total",
			Help:      "Events emitted by bus and name",
		}, []string{"bus", "name"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wechaty",
			Subsystem: "reconcile",
			Name:      "errors_total",
			Help:      "Reported errors by code",
		}, []string{"code"}),
		convergence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wechaty",
			Subsystem: "reconcile",
			Name:      "convergence_total",
			Help:      "Rename convergence waits by outcome",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.passes, m.duration, m.differences, m.events, m.errors, m.convergence)
	}
	return m
}

func (m *Metrics) observePass(kind payload.Kind, status store.PassStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(kind.String(), string(status)).Inc()
	m.duration.WithLabelValues(kind.String()).Observe(d.Seconds())
}

func (m *Metrics) observeDifferences(kind payload.Kind, regular, important int) {
	if m == nil {
		return
	}
	m.differences.WithLabelValues(kind.String(), "regular").Add(float64(regular))
	m.differences.WithLabelValues(kind.String(), "important").Add(float64(important))
}

func (m *Metrics) observeEvent(b store.Bus, name string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(b), name).Inc()
}

func (m *Metrics) observeError(code ErrorCode) {
	if m == nil {
		return
	}
	if code == "" {
		code = "UNKNOWN"
	}
	m.errors.WithLabelValues(string(code)).Inc()
}

func (m *Metrics) observeConvergence(ok bool) {
	if m == nil {
		return
	}
	outcome := "converged"
	if !ok {
		outcome = "timeout"
	}
	m.convergence.WithLabelValues(outcome).Inc()
}
