// Package metrics exposes Prometheus instruments for the scheduling pipeline.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "docbatch"

// Event outcomes recorded by the change listener.
const (
	OutcomeIgnored    = "ignored"
	OutcomeIneligible = "ineligible"
	OutcomePending    = "pending"
	OutcomeSubmitted  = "submitted"
	OutcomeCoalesced  = "coalesced"
	OutcomeNoMark     = "no_mark"
)

// Job outcomes recorded by the executor.
const (
	JobCommitted = "committed"
	JobRejected  = "rejected"
	JobAborted   = "aborted"
	JobPanicked  = "panicked"
)

// Metrics groups every instrument. A nil *Metrics is valid and records nothing.
type Metrics struct {
	events      *prometheus.CounterVec
	submissions *prometheus.CounterVec
	queueDepth  prometheus.Gauge
	jobs        *prometheus.CounterVec
	jobDuration prometheus.Histogram
	exitCodes   *prometheus.CounterVec
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_events_total",
			Help:      "Store change events received, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_submissions_total",
			Help:      "Queue submissions, by origin and whether they were coalesced.",
		}, []string{"origin", "outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Documents waiting for the worker.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Finished jobs, by outcome.",
		}, []string{"outcome"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of a job from checkout to cleanup.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		exitCodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subprocess_exits_total",
			Help:      "Batch tool runner exits, by exit code.",
		}, []string{"code"}),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.submissions, m.queueDepth, m.jobs, m.jobDuration, m.exitCodes)
	}
	return m
}

func (m *Metrics) Event(kind, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Submission(origin string, added bool) {
	if m == nil {
		return
	}
	outcome := OutcomeSubmitted
	if !added {
		outcome = OutcomeCoalesced
	}
	m.submissions.WithLabelValues(origin, outcome).Inc()
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) Job(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(outcome).Inc()
	m.jobDuration.Observe(took.Seconds())
}

func (m *Metrics) Exit(code int) {
	if m == nil {
		return
	}
	m.exitCodes.WithLabelValues(strconv.Itoa(code)).Inc()
}
