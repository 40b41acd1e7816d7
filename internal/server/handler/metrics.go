package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	serRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "serledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	serRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "serledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	serEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "serledger_entries_total",
		Help: "Total ledger entries appended, by operation and asset.",
	}, []string{"op", "asset"})

	serRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "serledger_rejections_total",
		Help: "Total rejected mutations, by invariant.",
	}, []string{"reason"})

	serSupply = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "serledger_issued_supply",
		Help: "Current issued supply per asset, in minor units.",
	}, []string{"asset"})

	serWebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "serledger_webhook_deliveries_total",
		Help: "Total webhook delivery attempts, by outcome.",
	}, []string{"outcome"})

	serIntegrityChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "serledger_integrity_checks_total",
		Help: "Total background chain verification passes, by outcome.",
	}, []string{"outcome"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		serRequestsTotal.WithLabelValues(method, path, status).Inc()
		serRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordAppend records a successful ledger append.
func RecordAppend(op, asset string) {
	serEntriesTotal.WithLabelValues(op, asset).Inc()
}

// RecordRejection records a rejected mutation by invariant name.
func RecordRejection(reason string) {
	serRejectionsTotal.WithLabelValues(reason).Inc()
}

// SetSupplyGauge sets the issued-supply gauge for an asset.
func SetSupplyGauge(asset string, supply int64) {
	serSupply.WithLabelValues(asset).Set(float64(supply))
}

// RecordWebhookDelivery records a webhook delivery attempt outcome.
func RecordWebhookDelivery(success bool) {
	serWebhookDeliveries.WithLabelValues(outcomeLabel(success)).Inc()
}

// RecordIntegrityCheck records a background chain verification outcome.
func RecordIntegrityCheck(success bool) {
	serIntegrityChecks.WithLabelValues(outcomeLabel(success)).Inc()
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
