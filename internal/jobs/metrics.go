package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs      *prometheus.CounterVec
	failures  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	issues    *prometheus.CounterVec
	scanned   prometheus.Gauge
	lastFound prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddIntegrityIssues counts issues reported for one message code.
func (m *Metrics) AddIntegrityIssues(code string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.issues.WithLabelValues(code).Add(float64(count))
}

// SetIntegrityScan publishes the totals of the last completed scan.
func (m *Metrics) SetIntegrityScan(periods, issues int) {
	if m == nil {
		return
	}
	m.scanned.Set(float64(periods))
	m.lastFound.Set(float64(issues))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bokati_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bokati_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bokati_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"job"})
	issues := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bokati_integrity_issues_total",
		Help: "Integrity issues found in open periods grouped by code.",
	}, []string{"code"})
	scanned := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bokati_integrity_periods_scanned",
		Help: "Open periods covered by the last integrity scan.",
	})
	lastFound := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bokati_integrity_issues_last_scan",
		Help: "Integrity issues found by the last scan.",
	})
	registerer.MustRegister(runs, failures, duration, issues, scanned, lastFound)
	return &Metrics{
		runs:      runs,
		failures:  failures,
		duration:  duration,
		issues:    issues,
		scanned:   scanned,
		lastFound: lastFound,
	}
}
