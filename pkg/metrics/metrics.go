package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stockpulse_tasks_total",
			Help: "Total number of tasks by status",
		},
		[]string{"status"},
	)

	TasksStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stockpulse_tasks_started_total",
			Help: "Total number of tasks submitted",
		},
	)

	TasksCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stockpulse_tasks_completed_total",
			Help: "Total number of tasks that reached COMPLETED",
		},
	)

	TasksFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stockpulse_tasks_failed_total",
			Help: "Total number of tasks that reached FAILED",
		},
	)

	TasksStopped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stockpulse_tasks_stopped_total",
			Help: "Total number of tasks stopped by operators",
		},
	)

	ActiveWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stockpulse_active_workers",
			Help: "Number of pipeline workers currently running",
		},
	)

	// Pipeline metrics
	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stockpulse_step_duration_seconds",
			Help:    "Pipeline step execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"phase"},
	)

	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stockpulse_cache_reuse_hits_total",
			Help: "Total number of pipeline steps served from cached prior-run output",
		},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stockpulse_cache_reuse_misses_total",
			Help: "Total number of cache lookups that fell through to live execution",
		},
	)

	// Fabric metrics
	MessagesPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_messages_published_total",
			Help: "Total number of messages published by topic",
		},
		[]string{"topic"},
	)

	PublishFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_publish_failures_total",
			Help: "Total number of dropped publishes by topic",
		},
		[]string{"topic"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stockpulse_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TasksStarted)
	prometheus.MustRegister(TasksCompleted)
	prometheus.MustRegister(TasksFailed)
	prometheus.MustRegister(TasksStopped)
	prometheus.MustRegister(ActiveWorkers)
	prometheus.MustRegister(StepDuration)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(MessagesPublished)
	prometheus.MustRegister(PublishFailures)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
