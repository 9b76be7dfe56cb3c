package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetConnected(true)
	m.Connect()
	m.Connect()
	m.Reconnect(ReasonClosed)
	m.Reconnect(ReasonHeartbeat)
	m.Reconnect(ReasonHeartbeat)
	m.Delivered("foo")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.connected))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.connects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnects.WithLabelValues(ReasonClosed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.reconnects.WithLabelValues(ReasonHeartbeat)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.delivered.WithLabelValues("foo")))

	m.SetConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.connected))

	n, err := testutil.GatherAndCount(reg)
	assert.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetConnected(true)
		m.Connect()
		m.Reconnect(ReasonClosed)
		m.Delivered("foo")
	})
}
