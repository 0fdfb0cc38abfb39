// Package metrics exposes Prometheus collectors for the refresh pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "safetrip"

// Metrics groups the refresh collectors.
type Metrics struct {
	fetchAttempts   *prometheus.CounterVec
	countryOutcomes *prometheus.CounterVec
	jobsFinished    *prometheus.CounterVec
	jobDuration     prometheus.Histogram
	inFlight        prometheus.Gauge
	sourceErrors    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// Parameters:
//   - reg: registry to register with; prometheus.DefaultRegisterer in production.
// Returns:
//   - *Metrics: registered collectors.
//
// Panics if a collector with the same name is already registered on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Country fetch attempts by result (success, error).",
		}, []string{"result"}),
		countryOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "country_outcomes_total",
			Help:      "Terminal per-country outcomes by status.",
		}, []string{"status"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Refresh jobs by terminal status and trigger.",
		}, []string{"status", "trigger"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of refresh jobs that reached a terminal state.",
			Buckets:   []float64{30, 60, 120, 300, 600, 1200, 1800, 3600, 7200},
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fetches_in_flight",
			Help:      "Country fetches currently running.",
		}),
		sourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_errors_total",
			Help:      "Upstream source failures by source id.",
		}, []string{"source"}),
	}

	reg.MustRegister(
		m.fetchAttempts,
		m.countryOutcomes,
		m.jobsFinished,
		m.jobDuration,
		m.inFlight,
		m.sourceErrors,
	)
	return m
}

func (m *Metrics) FetchAttempt(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.fetchAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) CountryOutcome(status string) {
	if m == nil {
		return
	}
	m.countryOutcomes.WithLabelValues(status).Inc()
}

func (m *Metrics) JobFinished(status, trigger string, took time.Duration) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(status, trigger).Inc()
	m.jobDuration.Observe(took.Seconds())
}

// FetchStarted bumps the in-flight gauge and returns the matching decrement.
func (m *Metrics) FetchStarted() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}

func (m *Metrics) SourceError(sourceID string) {
	if m == nil {
		return
	}
	m.sourceErrors.WithLabelValues(sourceID).Inc()
}
