package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LedgerOperations counts engine operations by name and outcome
	LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circlesave",
		Subsystem: "ledger",
		Name:      "operations_total",
		Help:      "Ledger engine operations by operation and result.",
	}, []string{"operation", "result"})

	LedgerOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "circlesave",
		Subsystem: "ledger",
		Name:      "operation_duration_seconds",
		Help:      "Ledger engine operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// LedgerAmount sums credited and debited smallest units
	LedgerAmount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circlesave",
		Subsystem: "ledger",
		Name:      "amount_total",
		Help:      "Amounts moved through the ledger by direction.",
	}, []string{"direction"})

	OracleCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circlesave",
		Subsystem: "oracle",
		Name:      "calls_total",
		Help:      "Chain oracle view calls by method and result.",
	}, []string{"method", "result"})

	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circlesave",
		Subsystem: "jobs",
		Name:      "runs_total",
		Help:      "Background job runs by job and result.",
	}, []string{"job", "result"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circlesave",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})
)

// Result maps an error to the result label
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
