// Package prometheus provides the Prometheus implementation of the engine's
// metrics interface.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/egil/evstore/core/es"
	"github.com/egil/evstore/core/metrics"
)

// timer wraps a Prometheus histogram to implement the Timer interface.
type timer struct {
	h     prometheus.Observer
	start time.Time
}

func newTimer(h prometheus.Observer) metrics.Timer {
	return &timer{h: h, start: time.Now()}
}

func (t *timer) ObserveDuration() {
	t.h.Observe(time.Since(t.start).Seconds())
}

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

type storeMetrics struct {
	eventsAppended       *prometheus.CounterVec
	applyDuration        prometheus.Histogram
	commitDuration       prometheus.Histogram
	eventsCommitted      prometheus.Counter
	eventsEvicted        *prometheus.CounterVec
	reactorAttempts      *prometheus.CounterVec
	reactorsAbandoned    *prometheus.CounterVec
	concurrencyConflicts prometheus.Counter
}

// NewStoreMetrics creates a Prometheus implementation of es.Metrics.
func NewStoreMetrics(reg prometheus.Registerer) es.Metrics {
	m := &storeMetrics{
		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evstore_events_appended_total",
			Help: "Total number of events appended",
		}, []string{"stream"}),

		applyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "evstore_apply_duration_seconds",
			Help:    "Projection apply pass latency in seconds",
			Buckets: defaultBuckets,
		}),

		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "evstore_commit_duration_seconds",
			Help:    "Storage commit latency in seconds",
			Buckets: defaultBuckets,
		}),

		eventsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evstore_events_committed_total",
			Help: "Total number of events durably committed",
		}),

		eventsEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evstore_events_evicted_total",
			Help: "Total number of events removed by retention",
		}, []string{"stream"}),

		reactorAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evstore_reactor_attempts_total",
			Help: "Total number of reactor invocations",
		}, []string{"reactor", "success"}),

		reactorsAbandoned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evstore_reactor_abandoned_total",
			Help: "Total number of entries abandoned after exhausting retries",
		}, []string{"reactor"}),

		concurrencyConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evstore_concurrency_conflicts_total",
			Help: "Total number of optimistic lock failures",
		}),
	}

	reg.MustRegister(
		m.eventsAppended,
		m.applyDuration,
		m.commitDuration,
		m.eventsCommitted,
		m.eventsEvicted,
		m.reactorAttempts,
		m.reactorsAbandoned,
		m.concurrencyConflicts,
	)

	return m
}

func (m *storeMetrics) EventsAppended(stream string, count int) {
	m.eventsAppended.WithLabelValues(stream).Add(float64(count))
}

func (m *storeMetrics) ApplyDuration() metrics.Timer {
	return newTimer(m.applyDuration)
}

func (m *storeMetrics) CommitDuration() metrics.Timer {
	return newTimer(m.commitDuration)
}

func (m *storeMetrics) EventsCommitted(count int) {
	m.eventsCommitted.Add(float64(count))
}

func (m *storeMetrics) EventsEvicted(stream string, count int) {
	m.eventsEvicted.WithLabelValues(stream).Add(float64(count))
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (m *storeMetrics) ReactorAttempt(reactorID string, success bool) {
	m.reactorAttempts.WithLabelValues(reactorID, boolToStr(success)).Inc()
}

func (m *storeMetrics) ReactorAbandoned(reactorID string) {
	m.reactorsAbandoned.WithLabelValues(reactorID).Inc()
}

func (m *storeMetrics) ConcurrencyConflict() {
	m.concurrencyConflicts.Inc()
}

var _ es.Metrics = (*storeMetrics)(nil)
