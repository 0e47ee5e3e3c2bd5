package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(jobsSubmittedTotal, jobsProcessedTotal, jobsRetriedTotal, jobDurationSeconds)
}

var (
	jobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_jobs_submitted_total",
			Help: "Total number of generation jobs accepted, labeled by kind.",
		},
		[]string{"kind"}, // 'image', 'video'
	)

	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_jobs_processed_total",
			Help: "Total number of generation jobs finished, labeled by status.",
		},
		[]string{"status"}, // 'completed', 'failed', 'cancelled'
	)

	jobsRetriedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "generation_jobs_retried_total",
			Help: "Total number of execution attempts re-queued after a retryable failure.",
		},
	)

	jobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "generation_job_duration_seconds",
			Help:    "Wall-clock duration of finished generation attempts.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"status"},
	)
)

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func IncJobSubmitted(kind string) {
	jobsSubmittedTotal.WithLabelValues(norm(kind)).Inc()
}

func ObserveJobProcessed(status string, seconds float64) {
	jobsProcessedTotal.WithLabelValues(norm(status)).Inc()
	if seconds > 0 {
		jobDurationSeconds.WithLabelValues(norm(status)).Observe(seconds)
	}
}

func IncJobRetry() {
	jobsRetriedTotal.Inc()
}
