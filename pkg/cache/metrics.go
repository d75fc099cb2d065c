package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheHits tracks cache hits
	cacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offlinekit_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	// cacheMisses tracks cache misses
	cacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offlinekit_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// cacheErrors tracks storage-layer cache operation errors
	cacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offlinekit_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "put", "delete", "enumerate", "retire"
	)

	// cacheBytesWritten tracks bytes written into the cache
	cacheBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offlinekit_cache_written_bytes_total",
			Help: "Total bytes written into the cache",
		},
	)

	// activeGeneration exposes the current active cache generation
	activeGeneration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "offlinekit_cache_active_generation",
			Help: "Currently active cache generation",
		},
	)

	// generationsRetired counts garbage-collected generations
	generationsRetired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offlinekit_cache_generations_retired_total",
			Help: "Total number of retired cache generations",
		},
	)
)
