package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Storage metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec
	StorageErrorsTotal       *prometheus.CounterVec
	StorageBytesTotal        *prometheus.CounterVec
	StorageClientCacheSize   prometheus.Gauge

	// Active storage setting cache
	SettingCacheHitsTotal   prometheus.Counter
	SettingCacheMissesTotal prometheus.Counter

	// Authorization and admission
	AuthzDecisionsTotal *prometheus.CounterVec
	RateLimitedTotal    *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen prometheus.Gauge
	DBConnectionsIdle prometheus.Gauge

	// Business metrics
	APITokensCleanedTotal prometheus.Counter
	MediaUploadsTotal     *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creatorhub_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "creatorhub_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "creatorhub_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "route"},
		),

		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creatorhub_storage_operations_total",
				Help: "Total number of storage driver operations",
			},
			[]string{"operation", "driver", "status"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "creatorhub_storage_operation_duration_seconds",
				Help:    "Storage driver operation duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation", "driver"},
		),
		StorageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creatorhub_storage_errors_total",
				Help: "Total number of storage errors by kind",
			},
			[]string{"operation", "driver", "error_type"},
		),
		StorageBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creatorhub_storage_bytes_total",
				Help: "Bytes moved through storage drivers",
			},
			[]string{"direction", "driver"},
		),
		StorageClientCacheSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "creatorhub_storage_client_cache_entries",
				Help: "Number of cached S3 clients",
			},
		),

		SettingCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "creatorhub_storage_setting_cache_hits_total",
				Help: "Active storage setting lookups served from Redis",
			},
		),
		SettingCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "creatorhub_storage_setting_cache_misses_total",
				Help: "Active storage setting lookups that hit the database",
			},
		),

		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creatorhub_authz_decisions_total",
				Help: "Authorization decisions by module, ability and matched rule",
			},
			[]string{"module", "ability", "rule", "allowed"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creatorhub_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"limiter"},
		),

		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "creatorhub_db_connections_open",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "creatorhub_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		APITokensCleanedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "creatorhub_api_tokens_cleaned_total",
				Help: "Expired or revoked API tokens removed by the cleanup job",
			},
		),
		MediaUploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creatorhub_media_uploads_total",
				Help: "Media uploads by library and outcome",
			},
			[]string{"library", "status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
		m.StorageErrorsTotal,
		m.StorageBytesTotal,
		m.StorageClientCacheSize,
		m.SettingCacheHitsTotal,
		m.SettingCacheMissesTotal,
		m.AuthzDecisionsTotal,
		m.RateLimitedTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsIdle,
		m.APITokensCleanedTotal,
		m.MediaUploadsTotal,
	)

	return m
}

// RecordStorageOperation records one driver call. errorType is empty on success.
func (m *Metrics) RecordStorageOperation(operation, driver string, duration time.Duration, errorType string) {
	if m == nil {
		return
	}
	status := "success"
	if errorType != "" {
		status = "error"
		m.StorageErrorsTotal.WithLabelValues(operation, driver, errorType).Inc()
	}
	m.StorageOperationsTotal.WithLabelValues(operation, driver, status).Inc()
	m.StorageOperationDuration.WithLabelValues(operation, driver).Observe(duration.Seconds())
}

// RecordStorageBytes adds n to the read or write byte counter of a driver
func (m *Metrics) RecordStorageBytes(direction, driver string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.StorageBytesTotal.WithLabelValues(direction, driver).Add(float64(n))
}

// RecordAuthzDecision counts an authorization decision
func (m *Metrics) RecordAuthzDecision(module, ability, rule string, allowed bool) {
	if m == nil {
		return
	}
	m.AuthzDecisionsTotal.WithLabelValues(module, ability, rule, strconv.FormatBool(allowed)).Inc()
}

// RecordRateLimited counts a request rejected by the named limiter
func (m *Metrics) RecordRateLimited(limiter string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(limiter).Inc()
}

// RecordTokensCleaned adds n removed API tokens
func (m *Metrics) RecordTokensCleaned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.APITokensCleanedTotal.Add(float64(n))
}

// RecordMediaUpload counts an upload attempt to a library. status is
// "success", "rejected" or "error".
func (m *Metrics) RecordMediaUpload(library, status string) {
	if m == nil {
		return
	}
	m.MediaUploadsTotal.WithLabelValues(library, status).Inc()
}

// RecordSettingCache counts a hit or miss of the active storage setting cache
func (m *Metrics) RecordSettingCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.SettingCacheHitsTotal.Inc()
		return
	}
	m.SettingCacheMissesTotal.Inc()
}

// RecordDBStats copies connection pool stats into the gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel returns the mux route template so IDs do not explode label cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
