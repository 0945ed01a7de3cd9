// Package jobmetrics instruments asynq task handlers.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	statusOK     = "ok"
	statusFailed = "failed"
)

// Metrics holds the worker collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	inflight    *prometheus.GaugeVec
	lastSuccess *prometheus.GaugeVec
	items       *prometheus.CounterVec

	now func() time.Time
}

var (
	sharedOnce    sync.Once
	sharedMetrics *Metrics
)

// NewMetrics registers collectors on reg. A nil reg selects the process-wide
// default registerer, registering at most once.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg != nil {
		return register(reg)
	}
	sharedOnce.Do(func() { sharedMetrics = register(prometheus.DefaultRegisterer) })
	return sharedMetrics
}

func register(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "branch_ledger_jobs_total",
			Help: "Task executions by task type and status.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "branch_ledger_jobs_failures_total",
			Help: "Task executions that returned an error.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "branch_ledger_job_duration_seconds",
			Help:    "Task handler latency.",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 15, 60},
		}, []string{"job"}),
		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "branch_ledger_jobs_in_flight",
			Help: "Task handlers currently running.",
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "branch_ledger_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run.",
		}, []string{"job"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "branch_ledger_job_items_total",
			Help: "Items handled by tasks, by outcome.",
		}, []string{"job", "outcome"}),
		now: time.Now,
	}
	reg.MustRegister(m.runs, m.failures, m.duration, m.inflight, m.lastSuccess, m.items)
	return m
}

// Run tracks one handler invocation. Finish it exactly once.
type Run struct {
	m     *Metrics
	job   string
	start time.Time
}

// Track marks job as running.
func (m *Metrics) Track(job string) *Run {
	if m == nil {
		return &Run{job: job}
	}
	m.inflight.WithLabelValues(job).Inc()
	return &Run{m: m, job: job, start: m.now()}
}

// End closes the run and passes err through so handlers can `return run.End(err)`.
func (r *Run) End(err error) error {
	if r == nil || r.m == nil {
		return err
	}
	m := r.m
	m.inflight.WithLabelValues(r.job).Dec()
	m.duration.WithLabelValues(r.job).Observe(m.now().Sub(r.start).Seconds())
	if err != nil {
		m.failures.WithLabelValues(r.job).Inc()
		m.runs.WithLabelValues(r.job, statusFailed).Inc()
		return err
	}
	m.runs.WithLabelValues(r.job, statusOK).Inc()
	m.lastSuccess.WithLabelValues(r.job).Set(float64(m.now().Unix()))
	return nil
}

// AddItems counts work units such as alerts sent or subscriptions expired.
func (m *Metrics) AddItems(job, outcome string, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.items.WithLabelValues(job, outcome).Add(float64(count))
}
