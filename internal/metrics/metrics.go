// Package metrics defines the Prometheus collectors exported by wardend.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tamperDetectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_tamper_detected_total",
		Help: "Total unauthorized modifications detected.",
	})

	restoresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_restores_total",
		Help: "Total restore attempts by result (restored, unrepaired, failed).",
	}, []string{"result"})

	ledgerBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_ledger_blocks_total",
		Help: "Total ledger blocks appended by action.",
	}, []string{"action"})

	authorizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_authorizations_total",
		Help: "Total modify requests by decision and reason.",
	}, []string{"decision", "reason"})

	editSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warden_edit_sessions_active",
		Help: "Number of authorized edit sessions currently open.",
	})

	healthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_health_checks_total",
		Help: "Total health check probes by component and result.",
	}, []string{"component", "result"})

	webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_webhook_deliveries_total",
		Help: "Total webhook delivery attempts by result.",
	}, []string{"result"})

	rateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_http_rate_limited_total",
		Help: "Total requests rejected by the per-client rate limiter, by route.",
	}, []string{"method", "path"})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_http_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "warden_http_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// RecordTamper records a detected unauthorized modification.
func RecordTamper() { tamperDetectedTotal.Inc() }

// RecordRestore records the outcome of a restore attempt.
func RecordRestore(result string) { restoresTotal.WithLabelValues(result).Inc() }

// RecordLedgerAppend records a ledger block append.
func RecordLedgerAppend(action string) { ledgerBlocksTotal.WithLabelValues(action).Inc() }

// RecordAuthorization records a modify decision.
func RecordAuthorization(decision, reason string) {
	authorizationsTotal.WithLabelValues(decision, reason).Inc()
}

// SetActiveSessions sets the open edit session gauge.
func SetActiveSessions(n int) { editSessionsActive.Set(float64(n)) }

// RecordHealthCheck records a health probe result for component.
func RecordHealthCheck(component string, success bool) {
	if success {
		healthChecksTotal.WithLabelValues(component, "success").Inc()
	} else {
		healthChecksTotal.WithLabelValues(component, "failure").Inc()
	}
}

// RecordWebhookDelivery records one webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	if success {
		webhookDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		webhookDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}

// RecordRateLimited records a request rejected with 429.
func RecordRateLimited(method, path string) {
	rateLimitedTotal.WithLabelValues(method, path).Inc()
}

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		requestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		requestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler returns a Gin handler that serves Prometheus metrics.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
