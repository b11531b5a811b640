// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StageOutcomes counts pipeline stage executions by stage and outcome.
	StageOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certflow_stage_outcomes_total",
		Help: "Certificate pipeline stage executions by outcome",
	}, []string{"stage", "outcome"})

	// StageDuration tracks stage handler latency.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "certflow_stage_duration_seconds",
		Help:    "Certificate pipeline stage duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	// CertificatesFailed counts certificates moved to failed.
	CertificatesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "certflow_certificates_failed_total",
		Help: "Certificates marked failed after the pipeline gave up",
	})

	// ReconcileRuns counts reconciler runs by result.
	ReconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certflow_reconcile_runs_total",
		Help: "DNS reconciler runs by result",
	}, []string{"result"})

	// ReconcileChanges counts changes sent to the DNS provider by action and mode.
	ReconcileChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certflow_reconcile_changes_total",
		Help: "DNS changes applied by the reconciler",
	}, []string{"action", "mode"})

	// RecordMutations counts record mutation batches by result.
	RecordMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certflow_record_mutations_total",
		Help: "Tenant DNS record change batches by result",
	}, []string{"result"})
)

// Outcome labels.
const (
	OutcomeSuccess       = "success"
	OutcomeRetry         = "retry"
	OutcomeUnrecoverable = "unrecoverable"
)

// ObserveStage records one stage execution.
func ObserveStage(stage, outcome string, elapsed time.Duration) {
	StageOutcomes.WithLabelValues(stage, outcome).Inc()
	StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
