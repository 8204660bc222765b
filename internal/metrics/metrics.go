// Package metrics registers the server's Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracevault_http_requests_total",
			Help: "HTTP requests served, by route template and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracevault_http_request_duration_seconds",
			Help:    "HTTP request latency by route template.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// IngestTotal counts ingestion decisions. result is "accepted" or the
	// failure kind.
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracevault_ingest_total",
			Help: "Artifacts received, by category and result.",
		},
		[]string{"category", "result"},
	)

	// IngestMessages counts messages stored from accepted artifacts.
	IngestMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracevault_ingest_messages_total",
		Help: "Messages stored from accepted artifacts.",
	})

	// ReportsTotal counts report requests by result: "verified",
	// "mismatch" or "error".
	ReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracevault_reports_total",
			Help: "Reports assembled, by result.",
		},
		[]string{"result"},
	)

	// AuditMismatches counts stored bundles that failed re-verification.
	AuditMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracevault_audit_mismatches_total",
		Help: "Stored bundles whose content no longer matches their digest.",
	})

	// SnapshotsTotal counts store snapshots by result.
	SnapshotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracevault_snapshots_total",
			Help: "Store snapshots taken, by result.",
		},
		[]string{"result"},
	)
)

// Middleware records request count and latency. Routes are labelled by
// their template so path parameters do not create new series.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
