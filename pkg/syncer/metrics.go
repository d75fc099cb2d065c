package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// syncCycles counts drain cycles by result
	syncCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offlinekit_sync_cycles_total",
			Help: "Total drain cycles by result",
		},
		[]string{"result"}, // "completed", "backoff", "cancelled", "error"
	)

	// syncOperations counts replayed operations by outcome
	syncOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offlinekit_sync_operations_total",
			Help: "Total replayed operations by outcome",
		},
		[]string{"outcome"}, // "acknowledged", "retryable", "terminal", "dropped"
	)

	// syncBackoffSeconds observes armed backoff delays
	syncBackoffSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "offlinekit_sync_backoff_seconds",
			Help:    "Backoff delay armed after retryable failures",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
	)
)
