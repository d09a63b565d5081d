// Package metrics exports scheduler loop measurements to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "simplecron"

// SchedulerMetrics implements scheduler.Recorder.
type SchedulerMetrics struct {
	ticks        prometheus.Counter
	tickDuration prometheus.Histogram
	jobs         prometheus.Gauge
	invocations  *prometheus.CounterVec
	invDuration  prometheus.Histogram
	driftResets  prometheus.Counter
	lastDrift    prometheus.Gauge
}

// NewSchedulerMetrics registers the scheduler metrics on reg. A nil reg
// yields a recorder that drops everything.
func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	if reg == nil {
		return &SchedulerMetrics{}
	}
	m := &SchedulerMetrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Scheduler loop ticks.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one tick, callbacks included.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
		jobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs",
			Help:      "Jobs visited by the last tick.",
		}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Job callback invocations by result.",
		}, []string{"result"}),
		invDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Duration of job callbacks in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		driftResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drift_resets_total",
			Help:      "Clock jumps that reset every schedule.",
		}),
		lastDrift: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_drift_seconds",
			Help:      "Size of the most recent clock jump that caused a reset.",
		}),
	}
	reg.MustRegister(m.ticks, m.tickDuration, m.jobs, m.invocations, m.invDuration, m.driftResets, m.lastDrift)
	return m
}

func (m *SchedulerMetrics) ObserveTick(took time.Duration, jobs int) {
	if m == nil || m.ticks == nil {
		return
	}
	m.ticks.Inc()
	m.tickDuration.Observe(took.Seconds())
	m.jobs.Set(float64(jobs))
}

func (m *SchedulerMetrics) ObserveInvocation(took time.Duration, err error) {
	if m == nil || m.invocations == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.invocations.WithLabelValues(result).Inc()
	m.invDuration.Observe(took.Seconds())
}

func (m *SchedulerMetrics) ObserveDriftReset(drift time.Duration) {
	if m == nil || m.driftResets == nil {
		return
	}
	m.driftResets.Inc()
	m.lastDrift.Set(drift.Seconds())
}
