package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the application's Prometheus collectors.
type Metrics struct {
	// HTTP request metrics
	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Recording lifecycle
	RecordingsStarted  prometheus.Counter
	RecordingsFinished *prometheus.CounterVec // outcome: ok, error
	Flips              *prometheus.CounterVec // outcome: ok, error
	CountdownsCanceled prometheus.Counter

	// Delivery
	Deliveries       *prometheus.CounterVec // outcome: committed, discarded, failed
	MessageDurations prometheus.Histogram

	// Store and archive
	StoreOperations *prometheus.CounterVec // operation, status
	ArchiveJobs     *prometheus.CounterVec // status
}

var (
	globalMetrics *Metrics
	metricsMutex  sync.Mutex
)

// NewMetrics returns the process-wide metrics, registering them on first use.
func NewMetrics() *Metrics {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	if globalMetrics != nil {
		return globalMetrics
	}

	m := &Metrics{
		HTTPRequestTotal: registerOrGet(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"})).(*prometheus.CounterVec),

		HTTPRequestDuration: registerOrGet(prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})).(*prometheus.HistogramVec),

		RecordingsStarted: registerOrGet(prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recordings_started_total",
			Help: "Recordings started after a countdown",
		})).(prometheus.Counter),

		RecordingsFinished: registerOrGet(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recordings_finished_total",
			Help: "Recordings finalized, by outcome",
		}, []string{"outcome"})).(*prometheus.CounterVec),

		Flips: registerOrGet(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camera_flips_total",
			Help: "Camera flips, by outcome",
		}, []string{"outcome"})).(*prometheus.CounterVec),

		CountdownsCanceled: registerOrGet(prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recording_countdowns_canceled_total",
			Help: "Countdowns aborted before recording started",
		})).(prometheus.Counter),

		Deliveries: registerOrGet(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "message_deliveries_total",
			Help: "Pending recordings committed, discarded or failed",
		}, []string{"outcome"})).(*prometheus.CounterVec),

		MessageDurations: registerOrGet(prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "message_duration_seconds",
			Help:    "Duration of committed video messages",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		})).(prometheus.Histogram),

		StoreOperations: registerOrGet(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "message_store_operations_total",
			Help: "Message store mutations, by operation and status",
		}, []string{"operation", "status"})).(*prometheus.CounterVec),

		ArchiveJobs: registerOrGet(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "message_archive_jobs_total",
			Help: "Archive jobs processed, by status",
		}, []string{"status"})).(*prometheus.CounterVec),
	}

	globalMetrics = m
	return m
}

// registerOrGet tries to register a metric, returns the existing one if already registered
func registerOrGet(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}

// Status maps an error to the status label used across counters.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Middleware records request counts and latency by route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.HTTPRequestTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default registry for scraping.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
