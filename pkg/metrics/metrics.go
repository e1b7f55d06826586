// Package metrics exposes the Prometheus registry used by gatefetch.
// All metrics are defined in their respective packages (gate, client, cache,
// pagination, ratelimit) to maintain modularity and avoid circular dependencies.
//
// This package provides the scrape handler and a reference for all metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by gatefetch.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer paired with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics scrape handler for Gatherer.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Gate Metrics (pkg/gate):
//   - gate_negotiations_total{result} (Counter): Negotiations by result (token_acquired, no_gate, unresolved)
//   - gate_negotiation_steps_total{step, outcome} (Counter): Steps executed (probe, redirect, form, origin)
//   - gate_negotiation_duration_seconds (Histogram): Duration of full negotiations
//
// Request Metrics (pkg/client):
//   - gated_requests_total{origin, status} (Counter): Content requests by origin and HTTP status
//   - gated_request_duration_seconds{origin} (Histogram): Content request duration by origin
//   - gated_transport_errors_total{class} (Counter): Transport errors by class (network, timeout, canceled)
//
// Cache Metrics (pkg/cache):
//   - page_cache_hits_total (Counter): Fresh pages served from Redis
//   - page_cache_misses_total (Counter): Lookups without a fresh entry
//   - page_cache_stored_bytes_total (Counter): Page bytes written to Redis
//   - page_cache_not_modified_total (Counter): 304 Not Modified revalidations
//   - page_cache_errors_total{operation} (Counter): Cache operation errors
//
// Collector Metrics (pkg/pagination):
//   - collector_pages_total{result} (Counter): Pages by result (ok, failed, cancelled)
//   - collector_collections_total{result} (Counter): Collections by result (complete, partial, empty, error)
//
// Limiter Metrics (pkg/ratelimit):
//   - origin_limiter_wait_seconds (Histogram): Time requests waited for the per-origin limiter
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(page_cache_hits_total[5m])) /
//   (sum(rate(page_cache_hits_total[5m])) + sum(rate(page_cache_misses_total[5m])))
//
//   # Unresolved Gates
//   rate(gate_negotiations_total{result="unresolved"}[5m])
//
//   # Incomplete Collections
//   rate(collector_collections_total{result="partial"}[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(gated_request_duration_seconds_bucket[5m]))
