// Package metrics holds the devserver's Prometheus instrumentation. Every
// metric is registered once at construction via promauto, following the
// same shape the teacher's escrow metrics use.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the counters and gauges exported on the admin /metrics
// endpoint.
type Metrics struct {
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	CacheEvictions   *prometheus.CounterVec
	DispatchTotal    *prometheus.CounterVec // labeled by worker index, proxy for P5 dispatch spread
	InvalidationsSeen *prometheus.CounterVec // labeled by kind: created, modified, removed, renamed
	BusLinkDepth     *prometheus.GaugeVec    // labeled by subscriber name
	ReloadClients    prometheus.Gauge
	ReloadBroadcasts prometheus.Counter
	FetchDuration    prometheus.Histogram
}

// New creates and registers all devserver metrics against the default
// registry.
func New() *Metrics {
	return &Metrics{
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "devserver_cache_hits_total",
			Help: "Number of fetches served from the in-memory cache without a disk read.",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "devserver_cache_misses_total",
			Help: "Number of fetches that required dispatching a disk read.",
		}),
		CacheEvictions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "devserver_cache_evictions_total",
			Help: "Number of invalidation events applied by the file cache, by kind, whether or not an entry was present.",
		}, []string{"kind"}),
		DispatchTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "devserver_io_dispatch_total",
			Help: "Number of read requests dispatched to each I/O worker.",
		}, []string{"worker"}),
		InvalidationsSeen: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "devserver_invalidations_total",
			Help: "Number of invalidation events published by the watcher, by kind.",
		}, []string{"kind"}),
		BusLinkDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "devserver_bus_link_depth",
			Help: "Number of buffered, unreleased events waiting on a bus subscriber's link.",
		}, []string{"subscriber"}),
		ReloadClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "devserver_reload_clients",
			Help: "Number of currently connected live-reload websocket clients.",
		}),
		ReloadBroadcasts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "devserver_reload_broadcasts_total",
			Help: "Number of reload notices broadcast to connected clients.",
		}),
		FetchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "devserver_fetch_duration_seconds",
			Help:    "End-to-end latency of FileCache.Fetch, cache hits and misses alike.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
