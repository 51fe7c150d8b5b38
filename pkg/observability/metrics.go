package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	AuthAttemptsTotal *prometheus.CounterVec
	TokensIssuedTotal prometheus.Counter

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Business metrics
	OrdersTotal       *prometheus.CounterVec
	ReservationsTotal *prometheus.CounterVec

	// Background job metrics
	JobRunsTotal *prometheus.CounterVec
}

// Auth outcome labels for AuthAttemptsTotal. Invalid signature and expiry are
// not distinguished on purpose; both count as "invalid".
const (
	AuthOutcomeAuthenticated = "authenticated"
	AuthOutcomeAnonymous     = "anonymous"
	AuthOutcomeInvalid       = "invalid"
	AuthOutcomeUnknownUser   = "unknown_user"
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(service string, registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "stocklane_http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: prometheus.Labels{"service": service},
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "stocklane_http_request_duration_seconds",
				Help:        "HTTP request duration in seconds",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: prometheus.Labels{"service": service},
			},
			[]string{"method", "path"},
		),
		AuthAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "stocklane_auth_attempts_total",
				Help:        "Authentication filter outcomes per request",
				ConstLabels: prometheus.Labels{"service": service},
			},
			[]string{"outcome"},
		),
		TokensIssuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "stocklane_tokens_issued_total",
				Help:        "Access tokens issued by login and refresh",
				ConstLabels: prometheus.Labels{"service": service},
			},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "stocklane_cache_hits_total",
				Help:        "Cache hits by tier",
				ConstLabels: prometheus.Labels{"service": service},
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "stocklane_cache_misses_total",
				Help:        "Cache misses by tier",
				ConstLabels: prometheus.Labels{"service": service},
			},
			[]string{"tier"},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "stocklane_db_connections_active",
				Help:        "Active database connections",
				ConstLabels: prometheus.Labels{"service": service},
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "stocklane_db_connections_idle",
				Help:        "Idle database connections",
				ConstLabels: prometheus.Labels{"service": service},
			},
		),
		OrdersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "stocklane_orders_total",
				Help:        "Orders by resulting status",
				ConstLabels: prometheus.Labels{"service": service},
			},
			[]string{"status"},
		),
		ReservationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "stocklane_stock_reservations_total",
				Help:        "Stock reservations by outcome",
				ConstLabels: prometheus.Labels{"service": service},
			},
			[]string{"outcome"},
		),
		JobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "stocklane_job_runs_total",
				Help:        "Background job runs by job and outcome",
				ConstLabels: prometheus.Labels{"service": service},
			},
			[]string{"job", "outcome"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthAttemptsTotal,
		m.TokensIssuedTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.OrdersTotal,
		m.ReservationsTotal,
		m.JobRunsTotal,
	)

	return m
}

// HTTPMiddleware instruments handlers with request counters and latency
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}

type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// CollectDBStats copies sql.DB pool stats into the gauges. Call periodically.
func (m *Metrics) CollectDBStats(db *sql.DB) {
	if db == nil {
		return
	}
	stats := db.Stats()
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// Handler returns the Prometheus scrape handler for the given registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
