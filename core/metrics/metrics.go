// Package metrics defines small instrumentation interfaces so the engine can
// be observed without coupling core packages to a specific backend.
package metrics

// Counter is a monotonically increasing metric.
type Counter interface {
	Inc()
	// Add increments the counter by delta. delta must be >= 0.
	Add(delta float64)
}

// Gauge is a metric that can go up and down.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
}

// Histogram samples observations (e.g. commit latencies).
type Histogram interface {
	Observe(value float64)
}

// Timer measures the duration of one operation. Call ObserveDuration when the
// operation completes.
type Timer interface {
	ObserveDuration()
}
