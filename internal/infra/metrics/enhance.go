package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(enhancerCallsLatencyMs) }

var enhancerCallsLatencyMs = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "prompt_enhancer_latency_ms",
		Help:    "Prompt enhancer call latency distribution in milliseconds.",
		Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000},
	},
	[]string{"provider", "model", "success"},
)

func ObserveEnhancerCall(provider, model string, latencyMs int, success bool) {
	enhancerCallsLatencyMs.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}
