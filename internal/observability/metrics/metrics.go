package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the operational counters exposed on /metrics.
type Metrics struct {
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	JobsProcessed   *prometheus.CounterVec
	JobsRetried     *prometheus.CounterVec
	JobsDeadLetter  *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	IngestionRuns   *prometheus.CounterVec
	RecordsUpserted *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mirador_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mirador_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		JobsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mirador_jobs_processed_total",
			Help: "Jobs finished by queue and outcome.",
		}, []string{"queue", "outcome"}),
		JobsRetried: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mirador_jobs_retried_total",
			Help: "Job retries by queue.",
		}, []string{"queue"}),
		JobsDeadLetter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mirador_jobs_dead_lettered_total",
			Help: "Jobs moved to the dead-letter area.",
		}, []string{"queue"}),
		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mirador_job_duration_seconds",
			Help:    "Job handler duration.",
			Buckets: []float64{.05, .25, 1, 5, 15, 60, 300},
		}, []string{"queue", "job"}),
		IngestionRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mirador_ingestion_runs_total",
			Help: "Ingestion runs by source and status.",
		}, []string{"source", "status"}),
		RecordsUpserted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mirador_records_upserted_total",
			Help: "Rows upserted by the normalizer per data type.",
		}, []string{"data_type"}),
	}
}

// GinMiddleware records request counters for every route.
func GinMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(
			c.Request.Method, route, strconv.Itoa(c.Writer.Status()),
		).Inc()
		m.HTTPDuration.WithLabelValues(c.Request.Method, route).
			Observe(time.Since(start).Seconds())
	}
}
