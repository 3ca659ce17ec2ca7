package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// OptimizeRuns counts route optimizations by distance source
	// (provider or approximate), which is how fallback rate is monitored.
	OptimizeRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "route_optimize_runs_total", Help: "Route optimizations by distance source."},
		[]string{"source"},
	)
	// DirectionsCalls counts upstream directions requests by outcome
	DirectionsCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "directions_calls_total", Help: "Directions provider calls by outcome."},
		[]string{"outcome"},
	)

	// SignalDeliveries counts downstream signal outcomes by event type and status
	SignalDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signal_deliveries_total", Help: "Downstream signal deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// SignalLatency tracks signal delivery latencies in milliseconds
	SignalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "signal_delivery_latency_ms", Help: "Downstream signal delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(OptimizeRuns)
		Registry.MustRegister(DirectionsCalls)
		Registry.MustRegister(SignalDeliveries)
		Registry.MustRegister(SignalLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
