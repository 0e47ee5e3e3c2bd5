package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(backendHealthChecksTotal, backendQueueLength, backendActiveJobs)
}

var (
	backendHealthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_backend_health_checks_total",
			Help: "Health probe outcomes per backend kind.",
		},
		[]string{"kind", "state"}, // state: 'online', 'offline', 'unknown'
	)

	backendQueueLength = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "generation_backend_queue_length",
			Help: "Jobs assigned to a backend but not yet executing.",
		},
		[]string{"backend"},
	)

	backendActiveJobs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "generation_backend_active_jobs",
			Help: "Jobs currently executing on a backend.",
		},
		[]string{"backend"},
	)
)

func IncHealthCheck(kind, state string) {
	backendHealthChecksTotal.WithLabelValues(norm(kind), norm(state)).Inc()
}

func SetBackendQueue(backendID string, n int64) {
	backendQueueLength.WithLabelValues(backendID).Set(float64(n))
}

func SetBackendActive(backendID string, n int64) {
	backendActiveJobs.WithLabelValues(backendID).Set(float64(n))
}
