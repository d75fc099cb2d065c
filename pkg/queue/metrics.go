package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// queueDepth tracks the number of pending operations
	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "offlinekit_queue_depth",
			Help: "Number of operations pending synchronization",
		},
	)

	// queueEnqueued counts enqueued operations
	queueEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offlinekit_queue_enqueued_total",
			Help: "Total number of operations enqueued",
		},
	)

	// queueAcknowledged counts successfully delivered operations
	queueAcknowledged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offlinekit_queue_acknowledged_total",
			Help: "Total number of operations acknowledged",
		},
	)

	// queueFailed counts delivery failures recorded on operations
	queueFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offlinekit_queue_failed_total",
			Help: "Total number of recorded delivery failures",
		},
	)

	// queueDropped counts operations dropped as unprocessable
	queueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offlinekit_queue_dropped_total",
			Help: "Total number of operations dropped as unprocessable",
		},
	)

	// queueErrors tracks storage-layer queue operation errors
	queueErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offlinekit_queue_errors_total",
			Help: "Total number of queue storage errors",
		},
		[]string{"operation"}, // "enqueue", "peek", "acknowledge", "mark_failed"
	)
)
