package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewStoreMetrics(reg)

	require.NotNil(t, m)

	m.EventsAppended("ledger", 5)

	timer := m.ApplyDuration()
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	timer = m.CommitDuration()
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.EventsCommitted(3)
	m.EventsEvicted("ledger", 2)
	m.ReactorAttempt("mailer", true)
	m.ReactorAttempt("mailer", false)
	m.ReactorAbandoned("mailer")
	m.ConcurrencyConflict()

	pm := m.(*storeMetrics)
	assert.Equal(t, 5.0, testutil.ToFloat64(pm.eventsAppended.WithLabelValues("ledger")))
	assert.Equal(t, 3.0, testutil.ToFloat64(pm.eventsCommitted))
	assert.Equal(t, 2.0, testutil.ToFloat64(pm.eventsEvicted.WithLabelValues("ledger")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.reactorAttempts.WithLabelValues("mailer", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.reactorAttempts.WithLabelValues("mailer", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.reactorsAbandoned.WithLabelValues("mailer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.concurrencyConflicts))

	// registering the same names twice must panic
	assert.Panics(t, func() { NewStoreMetrics(reg) })
}
