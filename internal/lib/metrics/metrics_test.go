package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Outcome(OutcomeOK)
	m.Outcome(OutcomeOK)
	m.Outcome(OutcomeDenied)
	m.ObserveAI("chatgpt", 300*time.Millisecond)
	m.Expired(3)
	m.Expired(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.fulfillment.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fulfillment.WithLabelValues(OutcomeDenied)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sweep))
	assert.Equal(t, 1, testutil.CollectAndCount(m.aiDuration))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Outcome(OutcomeOK)
		m.ObserveAI("x", time.Second)
		m.Expired(1)
	})
}
