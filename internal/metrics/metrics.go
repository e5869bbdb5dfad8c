// Package metrics holds the Prometheus collectors shared by the module cache,
// the executor and the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ModuleLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rurema_module_loads_total",
			Help: "Interpreter module loads by outcome",
		},
		[]string{"result"}, // result: "ready", "fetch_error", "compile_error"
	)

	ModuleLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rurema_module_load_seconds",
			Help:    "Time spent fetching and compiling the interpreter module",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"phase"}, // phase: "fetch", "compile"
	)

	CacheWaiters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rurema_module_cache_waiters",
			Help: "Callers currently waiting on an in-flight module load",
		},
	)

	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rurema_executions_total",
			Help: "Snippet executions by status",
		},
		[]string{"status"}, // status: "ok", "module_error", "instantiate_error", "trap", "interrupted"
	)

	ExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rurema_execution_seconds",
			Help:    "Wall time of a snippet execution, module load excluded",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
	)

	ActiveExecutions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rurema_active_executions",
			Help: "Executions currently running",
		},
	)

	OutputBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rurema_output_bytes_total",
			Help: "Bytes written by programs to intercepted descriptors",
		},
		[]string{"fd"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rurema_rate_limit_hits_total",
			Help: "Requests rejected by the server rate limiter",
		},
	)
)
