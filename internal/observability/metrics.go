package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/procurement-approval/internal/domain/approval"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets     = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	handlerDurationBuckets  = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 5}
	approvalDurationBuckets = []float64{60, 600, 3600, 4 * 3600, 24 * 3600, 3 * 24 * 3600, 7 * 24 * 3600}
)

// Metrics holds all Prometheus metric instruments of the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Approval metrics
	RequestsCreatedTotal     *prometheus.CounterVec
	DecisionsTotal           *prometheus.CounterVec
	RequestsCompletedTotal   *prometheus.CounterVec
	RequestDuration          *prometheus.HistogramVec
	ConcurrencyConflictTotal prometheus.Counter

	// Event metrics
	EventHandlerDuration      *prometheus.HistogramVec
	EventHandlerFailuresTotal *prometheus.CounterVec

	// Expiry scanner metrics
	ExpiryScansTotal   *prometheus.CounterVec
	ExpiredTotal       prometheus.Counter
	ExpiryScanDuration prometheus.Histogram
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "procurement_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "procurement_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		// Approvals
		RequestsCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "procurement_approval_requests_created_total",
			Help: "Total number of approval requests created.",
		}, []string{"policy_id"}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "procurement_approval_decisions_total",
			Help: "Total number of approver decisions recorded.",
		}, []string{"decision"}),
		RequestsCompletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "procurement_approval_requests_completed_total",
			Help: "Total number of approval requests that reached a terminal status.",
		}, []string{"status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "procurement_approval_request_duration_seconds",
			Help:    "Time from request creation to its terminal status.",
			Buckets: approvalDurationBuckets,
		}, []string{"status"}),
		ConcurrencyConflictTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "procurement_approval_concurrency_conflicts_total",
			Help: "Total number of writes rejected by the version check.",
		}),

		// Events
		EventHandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "procurement_event_handler_duration_seconds",
			Help:    "Event handler duration in seconds.",
			Buckets: handlerDurationBuckets,
		}, []string{"event_type", "handler"}),
		EventHandlerFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "procurement_event_handler_failures_total",
			Help: "Total number of failed event handler invocations.",
		}, []string{"event_type", "handler"}),

		// Expiry
		ExpiryScansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "procurement_expiry_scans_total",
			Help: "Total number of overdue request scans.",
		}, []string{"status"}),
		ExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "procurement_expiry_requests_expired_total",
			Help: "Total number of requests ended by the expiry scanner.",
		}),
		ExpiryScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "procurement_expiry_scan_duration_seconds",
			Help:    "Expiry scan duration in seconds.",
			Buckets: handlerDurationBuckets,
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		// Approvals
		m.RequestsCreatedTotal,
		m.DecisionsTotal,
		m.RequestsCompletedTotal,
		m.RequestDuration,
		m.ConcurrencyConflictTotal,
		// Events
		m.EventHandlerDuration,
		m.EventHandlerFailuresTotal,
		// Expiry
		m.ExpiryScansTotal,
		m.ExpiredTotal,
		m.ExpiryScanDuration,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RequestCreated implements port.ApprovalMetrics
func (m *Metrics) RequestCreated(policyID string) {
	m.RequestsCreatedTotal.WithLabelValues(policyID).Inc()
}

// DecisionRecorded implements port.ApprovalMetrics
func (m *Metrics) DecisionRecorded(decision approval.DecisionKind) {
	m.DecisionsTotal.WithLabelValues(string(decision)).Inc()
}

// RequestCompleted implements port.ApprovalMetrics
func (m *Metrics) RequestCompleted(status approval.RequestStatus, took time.Duration) {
	m.RequestsCompletedTotal.WithLabelValues(string(status)).Inc()
	m.RequestDuration.WithLabelValues(string(status)).Observe(took.Seconds())
}

// ConcurrencyConflict implements port.ApprovalMetrics
func (m *Metrics) ConcurrencyConflict() {
	m.ConcurrencyConflictTotal.Inc()
}

// ObserveHandler implements dispatcher.Recorder
func (m *Metrics) ObserveHandler(eventType, handler string, took time.Duration, err error) {
	m.EventHandlerDuration.WithLabelValues(eventType, handler).Observe(took.Seconds())
	if err != nil {
		m.EventHandlerFailuresTotal.WithLabelValues(eventType, handler).Inc()
	}
}

// RecordExpiryScan records one run of the expiry scanner.
func (m *Metrics) RecordExpiryScan(expired int, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ExpiryScansTotal.WithLabelValues(status).Inc()
	m.ExpiredTotal.Add(float64(expired))
	m.ExpiryScanDuration.Observe(duration.Seconds())
}

// --- HTTP ---

// GinMiddleware records request counts and latency per route pattern.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// Handler serves the gathered metrics in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
