package observability

import (
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

	// Document store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	StoreErrorsTotal       *prometheus.CounterVec

	// Payment gateway metrics
	GatewayCallsTotal   *prometheus.CounterVec
	GatewayCallDuration *prometheus.HistogramVec

	// Entitlement metrics
	DecisionsTotal     *prometheus.CounterVec
	UsageRecordedTotal *prometheus.CounterVec

	// Webhook metrics
	WebhookEventsTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Email metrics
	EmailsSentTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paywall_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "paywall_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paywall_store_operations_total",
				Help: "Total number of document store operations",
			},
			[]string{"operation", "collection"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "paywall_store_operation_duration_seconds",
				Help:    "Document store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "collection"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paywall_store_errors_total",
				Help: "Total number of document store errors",
			},
			[]string{"operation", "collection"},
		),
		GatewayCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paywall_gateway_calls_total",
				Help: "Total number of payment gateway API calls",
			},
			[]string{"operation", "outcome"},
		),
		GatewayCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "paywall_gateway_call_duration_seconds",
				Help:    "Payment gateway API call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paywall_entitlement_decisions_total",
				Help: "Total number of entitlement decisions by reason",
			},
			[]string{"feature", "reason", "granted"},
		),
		UsageRecordedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paywall_usage_events_total",
				Help: "Total number of recorded feature usage events",
			},
			[]string{"feature"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paywall_webhook_events_total",
				Help: "Total number of processed webhook events",
			},
			[]string{"type", "outcome"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paywall_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paywall_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"tier"},
		),
		EmailsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paywall_emails_sent_total",
				Help: "Total number of emails sent",
			},
			[]string{"kind", "outcome"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.StoreErrorsTotal,
		m.GatewayCallsTotal,
		m.GatewayCallDuration,
		m.DecisionsTotal,
		m.UsageRecordedTotal,
		m.WebhookEventsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.EmailsSentTotal,
	)

	return m
}

// Handler returns the Prometheus scrape handler for a registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware instruments HTTP handlers with request metrics
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

// ObserveStoreOp records one document store operation
func (m *Metrics) ObserveStoreOp(operation, collection string, start time.Time, err error) {
	m.StoreOperationsTotal.WithLabelValues(operation, collection).Inc()
	m.StoreOperationDuration.WithLabelValues(operation, collection).Observe(time.Since(start).Seconds())
	if err != nil {
		m.StoreErrorsTotal.WithLabelValues(operation, collection).Inc()
	}
}

// ObserveGatewayCall records one payment gateway API call
func (m *Metrics) ObserveGatewayCall(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.GatewayCallsTotal.WithLabelValues(operation, outcome).Inc()
	m.GatewayCallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ObserveDecision records one entitlement decision
func (m *Metrics) ObserveDecision(feature, reason string, granted bool) {
	m.DecisionsTotal.WithLabelValues(feature, reason, strconv.FormatBool(granted)).Inc()
}

type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
