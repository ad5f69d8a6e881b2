// Package metrics provides the centralized Prometheus registry reference for
// the Vessel client. All metrics are defined in their respective packages
// (transport, cache, batch, pagination, snapshot, flowcontrol) to maintain
// modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the Vessel client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Transport Metrics (pkg/transport):
//   - vessel_requests_total{endpoint, status} (Counter): Exchanges by endpoint and HTTP status
//   - vessel_request_duration_seconds{endpoint} (Histogram): Exchange duration by endpoint
//   - vessel_retry_after_waits_total (Counter): Retry-After pauses honored
//   - vessel_request_timeouts_total (Counter): Exchanges abandoned on timeout
//
// Cache Metrics (pkg/cache):
//   - vessel_cache_hits_total{layer="redis"} (Counter): Cache hits by layer
//   - vessel_cache_misses_total (Counter): Cache misses
//   - vessel_304_responses_total (Counter): 304 Not Modified revalidations served from cache
//   - vessel_cache_errors_total{operation} (Counter): Cache operation errors
//
// Batch Metrics (pkg/batch):
//   - vessel_batch_chunks_total (Counter): Envelopes shipped to the batch endpoint
//   - vessel_batch_operations_total (Counter): Operations shipped inside envelopes
//
// Pagination Metrics (pkg/pagination):
//   - vessel_pages_fetched_total (Counter): Pages fetched, lazy and eager
//
// Snapshot Metrics (pkg/snapshot):
//   - vessel_snapshots_total (Counter): Snapshot reconstructions performed
//   - vessel_snapshot_plural_delete_repairs_total (Counter): Records excluded by the live-set correction
//
// Flow Control Metrics (pkg/flowcontrol):
//   - vessel_backoff_seconds_remaining (Gauge): Seconds left in the current backoff window
//   - vessel_deprecation_alerts_total (Counter): Deprecation alerts received
//   - vessel_backoff_waits_total (Counter): Callers paused during a backoff window
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(vessel_cache_hits_total[5m])) /
//   (sum(rate(vessel_cache_hits_total[5m])) + sum(rate(vessel_cache_misses_total[5m])))
//
//   # Revalidation Rate
//   rate(vessel_304_responses_total[5m]) / rate(vessel_requests_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(vessel_request_duration_seconds_bucket[5m]))
//
//   # Backoff Pressure
//   vessel_backoff_seconds_remaining > 0
