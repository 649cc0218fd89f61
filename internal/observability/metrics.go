package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RPCRequestsTotal counts RPC attempts by endpoint and outcome.
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keeper_rpc_requests_total",
			Help: "Total number of RPC requests by endpoint and result",
		},
		[]string{"endpoint", "result"},
	)

	// EvaluationsTotal counts trigger evaluations by trigger type and
	// whether the trigger fired.
	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keeper_evaluations_total",
			Help: "Total number of trigger evaluations by type and outcome",
		},
		[]string{"trigger_type", "fired"},
	)

	// ExecutionsTotal counts finished executions by outcome.
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keeper_executions_total",
			Help: "Total number of job executions by result",
		},
		[]string{"result"},
	)

	// ExecutionDuration observes the end-to-end time of one execution,
	// from pop to recorded outcome.
	ExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "keeper_execution_duration_seconds",
			Help:    "Job execution duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// QueueSize tracks the execution heap depth.
	QueueSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "keeper_execution_queue_size",
			Help: "Number of requests waiting in the execution queue",
		},
	)

	// CachedJobs tracks the monitor cache by state (total/active/pending).
	CachedJobs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "keeper_cached_jobs",
			Help: "Monitor job cache size by state",
		},
		[]string{"state"},
	)

	// FeesEarnedTotal accumulates recorded execution fees in lamports.
	FeesEarnedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keeper_fees_earned_lamports_total",
			Help: "Total fees recorded for successful executions, in lamports",
		},
	)
)

var registerOnce sync.Once

// InitMetrics registers all keeper metrics with the default registry.
// Safe to call more than once.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RPCRequestsTotal,
			EvaluationsTotal,
			ExecutionsTotal,
			ExecutionDuration,
			QueueSize,
			CachedJobs,
			FeesEarnedTotal,
		)
	})
}
