// Package metrics holds the validator's prometheus instruments and the
// /metrics exporter.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics is the set of instruments updated by the scheduler loops
type Metrics struct {
	Registry *prometheus.Registry

	JobsCreated    *prometheus.CounterVec // origin=synthetic|organic
	JobsFinalized  *prometheus.CounterVec // outcome=completed|failed|expired
	JobsRewarded   prometheus.Counter
	Cycles         prometheus.Counter
	CycleDuration  prometheus.Histogram
	Dispatches     *prometheus.CounterVec // status=ok|timeout|error
	Audits         *prometheus.CounterVec // reason
	OrganicBatches *prometheus.CounterVec // result=accepted|rejected
	StoreErrors    *prometheus.CounterVec // op
	WorkerScore    *prometheus.GaugeVec
}

// New creates the instruments on a fresh registry
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		JobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fold_jobs_created_total",
			Help: "Jobs added to the store by origin",
		}, []string{"origin"}),
		JobsFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fold_jobs_finalized_total",
			Help: "Jobs that became inactive by outcome",
		}, []string{"outcome"}),
		JobsRewarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fold_jobs_rewarded_total",
			Help: "Finalized jobs folded into the score vector",
		}),
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fold_update_cycles_total",
			Help: "Job update cycles run",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fold_update_cycle_duration_seconds",
			Help:    "Duration of one job update cycle",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fold_dispatches_total",
			Help: "Worker dispatches by response status",
		}, []string{"status"}),
		Audits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fold_audit_outcomes_total",
			Help: "Scanned worker outcomes by reason",
		}, []string{"reason"}),
		OrganicBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fold_organic_batches_total",
			Help: "Organic batches received from the intake process",
		}, []string{"result"}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fold_store_errors_total",
			Help: "Failed job store operations",
		}, []string{"op"}),
		WorkerScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fold_worker_score",
			Help: "Current EMA score per worker",
		}, []string{"worker"}),
	}

	m.Registry.MustRegister(
		m.JobsCreated,
		m.JobsFinalized,
		m.JobsRewarded,
		m.Cycles,
		m.CycleDuration,
		m.Dispatches,
		m.Audits,
		m.OrganicBatches,
		m.StoreErrors,
		m.WorkerScore,
		collectors.NewGoCollector(),
	)
	return m
}
