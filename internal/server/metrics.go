package server

import (
	"strconv"
	"time"

	"github.com/ammar0144/entity4go/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of one data service. Each service owns its
// registry so several services can run in one process.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec

	// Queries
	queryRows *prometheus.CounterVec

	// Saves
	savedEntities *prometheus.CounterVec
	saveFailures  prometheus.Counter
	saveDuration  prometheus.Histogram

	resets prometheus.Counter
}

// NewMetrics creates and registers the service collectors. cache may be nil.
func NewMetrics(cache *redis.Manager) *Metrics {
	buckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "northwind_http_requests_total", Help: "HTTP requests by route, method and status"}, []string{"route", "method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "northwind_http_request_seconds", Help: "HTTP request latency", Buckets: buckets}, []string{"route"}),

		queryRows: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "northwind_query_rows_total", Help: "Top-level rows returned by queries"}, []string{"resource"}),

		savedEntities: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "northwind_saved_entities_total", Help: "Entities written by SaveChanges"}, []string{"type", "state"}),
		saveFailures:  prometheus.NewCounter(prometheus.CounterOpts{Name: "northwind_save_failures_total", Help: "SaveChanges calls rolled back"}),
		saveDuration:  prometheus.NewHistogram(prometheus.HistogramOpts{Name: "northwind_save_seconds", Help: "SaveChanges transaction duration", Buckets: buckets}),

		resets: prometheus.NewCounter(prometheus.CounterOpts{Name: "northwind_resets_total", Help: "Fixture resets"}),
	}

	m.registry.MustRegister(
		m.requests, m.duration,
		m.queryRows,
		m.savedEntities, m.saveFailures, m.saveDuration,
		m.resets,
	)

	if cache != nil && cache.Enabled() {
		m.registry.MustRegister(
			prometheus.NewCounterFunc(prometheus.CounterOpts{Name: "northwind_cache_hits_total", Help: "Query cache hits"},
				func() float64 { return float64(cache.GetMetrics().CacheHits) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{Name: "northwind_cache_misses_total", Help: "Query cache misses"},
				func() float64 { return float64(cache.GetMetrics().CacheMisses) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{Name: "northwind_cache_invalidations_total", Help: "Cache keys invalidated"},
				func() float64 { return float64(cache.GetMetrics().InvalidationCount) }),
		)
	}

	return m
}

// Registry returns the registry served at /metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SavedEntities returns the saved-entity counter for one type and state
func (m *Metrics) SavedEntities(typeName, state string) prometheus.Counter {
	return m.savedEntities.WithLabelValues(typeName, state)
}

func (m *Metrics) recordSaved(typeName, state string) {
	m.savedEntities.WithLabelValues(typeName, state).Inc()
}

// middleware records request counts and latency by matched route
func (m *Metrics) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
