// Prometheus instrumentation for outbound API traffic.
//
// Labels are the HTTP verb and a bounded logical operation name (e.g.
// "chat.ask"), never a raw URL, to keep cardinality under control.
package api

import "github.com/prometheus/client_golang/prometheus"

var (
	// requests counts outbound calls by method, logical operation, and
	// status code ("0" for transport failures).
	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "client_requests_total",
			Help: "Total number of outbound API requests.",
		},
		[]string{"method", "op", "status"},
	)

	// latency records call duration in seconds by method and operation.
	latency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "client_request_duration_seconds",
			Help:    "Duration of outbound API requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "op"},
	)

	// inflight gauges the number of currently outstanding requests.
	inflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "client_requests_inflight",
			Help: "Current number of in-flight outbound API requests.",
		},
	)
)

func init() {
	prometheus.MustRegister(requests, latency, inflight)
}
