// Package metrics provides the centralized Prometheus metrics registry
// for offlinekit. All metrics are defined in their respective packages
// (client, cache, queue, strategy, syncer) to maintain modularity and
// avoid circular dependencies.
//
// This package provides documentation and reference for all available
// metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registerer used by offlinekit.
// All metrics are automatically registered via promauto in their
// respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - offlinekit_cache_hits_total (Counter): Cache hits
//   - offlinekit_cache_misses_total (Counter): Cache misses
//   - offlinekit_cache_errors_total{operation} (Counter): Cache operation errors
//   - offlinekit_cache_written_bytes_total (Counter): Bytes written into the cache
//   - offlinekit_cache_active_generation (Gauge): Currently active cache generation
//   - offlinekit_cache_generations_retired_total (Counter): Retired cache generations
//
// Queue Metrics (pkg/queue):
//   - offlinekit_queue_depth (Gauge): Operations pending synchronization
//   - offlinekit_queue_enqueued_total (Counter): Operations enqueued
//   - offlinekit_queue_acknowledged_total (Counter): Operations acknowledged
//   - offlinekit_queue_failed_total (Counter): Recorded delivery failures
//   - offlinekit_queue_dropped_total (Counter): Operations dropped as unprocessable
//   - offlinekit_queue_errors_total{operation} (Counter): Queue storage errors
//
// Strategy Metrics (pkg/strategy):
//   - offlinekit_strategy_requests_total{strategy, outcome} (Counter): Strategy resolutions
//   - offlinekit_swr_refreshes_total (Counter): Stale-while-revalidate background refreshes
//   - offlinekit_revalidations_total (Counter): 304 Not Modified revalidations
//
// Sync Metrics (pkg/syncer):
//   - offlinekit_sync_cycles_total{result} (Counter): Drain cycles by result
//   - offlinekit_sync_operations_total{outcome} (Counter): Replayed operations by outcome
//   - offlinekit_sync_backoff_seconds (Histogram): Backoff delay armed after retryable failures
//
// Request Metrics (pkg/client):
//   - offlinekit_requests_total{route, status} (Counter): Intercepted requests by route and status
//   - offlinekit_request_duration_seconds{route} (Histogram): Request duration by route
//   - offlinekit_mutations_queued_total (Counter): Mutations queued while the origin was unreachable
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(offlinekit_cache_hits_total[5m])) /
//   (sum(rate(offlinekit_cache_hits_total[5m])) + sum(rate(offlinekit_cache_misses_total[5m])))
//
//   # Queue Depth
//   offlinekit_queue_depth > 0
//
//   # Sync Failure Rate
//   rate(offlinekit_sync_operations_total{outcome!="acknowledged"}[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(offlinekit_request_duration_seconds_bucket[5m]))
//
//   # Revalidation Rate
//   rate(offlinekit_revalidations_total[5m]) / rate(offlinekit_requests_total[5m])
