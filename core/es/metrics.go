package es

import "github.com/egil/evstore/core/metrics"

// Metrics is the instrumentation surface of the engine. Implementations must
// be safe for concurrent use across store instances.
type Metrics interface {
	EventsAppended(stream string, count int)
	ApplyDuration() metrics.Timer
	CommitDuration() metrics.Timer
	EventsCommitted(count int)
	EventsEvicted(stream string, count int)
	ReactorAttempt(reactorID string, success bool)
	ReactorAbandoned(reactorID string)
	ConcurrencyConflict()
}

type nopMetrics struct{}

func (nopMetrics) EventsAppended(string, int)    {}
func (nopMetrics) ApplyDuration() metrics.Timer  { return metrics.NopTimer() }
func (nopMetrics) CommitDuration() metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) EventsCommitted(int)           {}
func (nopMetrics) EventsEvicted(string, int)     {}
func (nopMetrics) ReactorAttempt(string, bool)   {}
func (nopMetrics) ReactorAbandoned(string)       {}
func (nopMetrics) ConcurrencyConflict()          {}

// NopMetrics returns a no-op Metrics implementation.
func NopMetrics() Metrics { return nopMetrics{} }
