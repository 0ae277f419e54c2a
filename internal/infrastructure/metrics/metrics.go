// Package metrics exports digest run results as Prometheus series.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

const namespace = "newsdigest"

// Recorder is a ReportSink that folds each finalized run into counters.
type Recorder struct {
	runs            *prometheus.CounterVec
	outcomes        *prometheus.CounterVec
	failures        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	lastRun         *prometheus.GaugeVec
	contentDegraded *prometheus.CounterVec
	contentItems    *prometheus.GaugeVec
}

var _ ports.ReportSink = (*Recorder)(nil)

// NewRecorder registers all collectors with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Digest runs by cadence and final status.",
		}, []string{"cadence", "status"}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recipient_outcomes_total",
			Help:      "Per-recipient outcomes by cadence and status.",
		}, []string{"cadence", "status"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Failed recipients by cause.",
		}, []string{"cadence", "cause"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of digest runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"cadence"}),
		lastRun: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}, []string{"cadence"}),
		contentDegraded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_degraded_total",
			Help:      "Runs that fell back to an empty content batch.",
		}, []string{"cadence"}),
		contentItems: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "content_items",
			Help:      "Articles in the last run's shared batch.",
		}, []string{"cadence"}),
	}
}

// Publish never fails.
func (r *Recorder) Publish(_ context.Context, report domain.RunReport) error {
	cadence := string(report.Cadence)

	r.runs.WithLabelValues(cadence, string(report.Status)).Inc()
	r.outcomes.WithLabelValues(cadence, string(domain.StatusSent)).Add(float64(report.Sent))
	r.outcomes.WithLabelValues(cadence, string(domain.StatusFailed)).Add(float64(report.Failed))
	r.outcomes.WithLabelValues(cadence, string(domain.StatusSkipped)).Add(float64(report.Skipped))
	for _, f := range report.Failures {
		r.failures.WithLabelValues(cadence, string(f.Cause)).Inc()
	}
	r.duration.WithLabelValues(cadence).Observe(report.Duration().Seconds())
	if !report.FinishedAt.IsZero() {
		r.lastRun.WithLabelValues(cadence).Set(float64(report.FinishedAt.Unix()))
	}
	if report.ContentDegraded {
		r.contentDegraded.WithLabelValues(cadence).Inc()
	}
	r.contentItems.WithLabelValues(cadence).Set(float64(report.ContentItems))
	return nil
}
