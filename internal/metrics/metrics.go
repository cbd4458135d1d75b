// Package metrics provides Prometheus instrumentation for the LogicNet dashboard.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logicnet",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "logicnet",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// UpstreamFetchesTotal counts snapshot fetches by endpoint and result.
	UpstreamFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logicnet",
			Subsystem: "upstream",
			Name:      "fetches_total",
			Help:      "Snapshot fetches from the validator proxy by endpoint and result.",
		},
		[]string{"endpoint", "result"},
	)

	// UpstreamFetchDuration observes snapshot fetch latency by endpoint.
	UpstreamFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "logicnet",
			Subsystem: "upstream",
			Name:      "fetch_duration_seconds",
			Help:      "Snapshot fetch duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint"},
	)

	// SessionCacheLookups counts snapshot lookups served from or loaded into a session.
	SessionCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logicnet",
			Subsystem: "session",
			Name:      "cache_lookups_total",
			Help:      "Session snapshot lookups by outcome (hit, miss).",
		},
		[]string{"outcome"},
	)

	// ActiveSessions tracks dashboard sessions currently held in memory.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "logicnet",
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of dashboard sessions held in memory.",
		},
	)

	// SessionsEvictedTotal counts sessions dropped for inactivity.
	SessionsEvictedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "logicnet",
		Subsystem: "session",
		Name:      "evicted_total",
		Help:      "Dashboard sessions evicted after the idle TTL.",
	})

	// RendersTotal counts validator views built, by outcome.
	RendersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logicnet",
			Name:      "renders_total",
			Help:      "Validator views built by outcome (ok, not_found, upstream_error).",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		UpstreamFetchesTotal,
		UpstreamFetchDuration,
		SessionCacheLookups,
		ActiveSessions,
		SessionsEvictedTotal,
		RendersTotal,
	)
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath() // route pattern keeps label cardinality bounded
		if path == "" {
			path = "unmatched"
		}
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(c.Request.Method, path))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
