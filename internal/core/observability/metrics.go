// Package observability holds the service's Prometheus collectors.
package observability

import (
	"errors"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	viewportEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewport_events_total",
			Help: "Viewport change notifications by outcome.",
		},
		[]string{"outcome"},
	)

	refreshRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresh_runs_total",
			Help: "Completed refresh runs by result.",
		},
		[]string{"result"},
	)

	refreshSupersededTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "refresh_superseded_total",
			Help: "Pending refreshes cancelled by a newer viewport change.",
		},
	)

	sourceRefreshDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "source_refresh_duration_seconds",
			Help:    "Time spent refreshing one vector source.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"layer"},
	)

	tileCacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_cache_results_total",
			Help: "Tile cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	cacheOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Cache backend operations by result.",
		},
		[]string{"op", "result"},
	)

	cacheOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Cache backend operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hvsync_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		upstreamLatencySeconds,
		viewportEventsTotal,
		refreshRunsTotal,
		refreshSupersededTotal,
		sourceRefreshDurationSeconds,
		tileCacheResults,
		cacheOpTotal,
		cacheOpDurationSeconds,
		buildInfo,
	}
}

var initMu sync.Mutex

// Init registers the collectors with reg. With enabled=false the collectors
// still record but nothing exposes them. Calling Init again with the same
// registry is a no-op.
func Init(reg prometheus.Registerer, enabled bool) error {
	if !enabled {
		return nil
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	initMu.Lock()
	defer initMu.Unlock()
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

const (
	ViewportPanIgnored    = "pan_ignored"
	ViewportZoomScheduled = "zoom_scheduled"
	ViewportInvalid       = "invalid"
)

func IncViewportEvent(outcome string) {
	viewportEventsTotal.WithLabelValues(outcome).Inc()
}

func ObserveRefreshRun(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	refreshRunsTotal.WithLabelValues(result).Inc()
}

func IncRefreshSuperseded() { refreshSupersededTotal.Inc() }

func ObserveSourceRefresh(layer string, durationSeconds float64) {
	sourceRefreshDurationSeconds.WithLabelValues(layer).Observe(durationSeconds)
}

func IncTileCacheHit()  { tileCacheResults.WithLabelValues("hit").Inc() }
func IncTileCacheMiss() { tileCacheResults.WithLabelValues("miss").Inc() }

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheOpTotal.WithLabelValues(op, result).Inc()
	cacheOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
