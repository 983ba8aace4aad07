package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Event("updated", OutcomePending)
	m.Event("updated", OutcomePending)
	m.Submission("release", true)
	m.Submission("manual", false)
	m.QueueDepth(3)
	m.Job(JobCommitted, 2*time.Second)
	m.Exit(1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("updated", OutcomePending)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.submissions.WithLabelValues("release", OutcomeSubmitted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.submissions.WithLabelValues("manual", OutcomeCoalesced)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues(JobCommitted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.exitCodes.WithLabelValues("1")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Event("released", OutcomeSubmitted)
		m.Submission("manual", true)
		m.QueueDepth(1)
		m.Job(JobAborted, time.Second)
		m.Exit(0)
	})
}
