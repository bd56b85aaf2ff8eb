package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	boots = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rprocctl",
			Subsystem: "lifecycle",
			Name:      "boots_total",
			Help:      "Successful remote processor boots.",
		},
		[]string{"processor"},
	)
	bootFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rprocctl",
			Subsystem: "lifecycle",
			Name:      "boot_failures_total",
			Help:      "Failed remote processor boot attempts.",
		},
		[]string{"processor", "reason"},
	)
	stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rprocctl",
			Subsystem: "lifecycle",
			Name:      "stops_total",
			Help:      "Remote processor shutdowns.",
		},
		[]string{"processor"},
	)
	stopFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rprocctl",
			Subsystem: "lifecycle",
			Name:      "stop_failures_total",
			Help:      "Stop capability errors; the processor still goes offline.",
		},
		[]string{"processor"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rprocctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rprocctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(boots, bootFailures, stops, stopFailures, httpRequests, httpDuration)
	})
}

func RecordBoot(processor string) {
	RegisterMetrics()
	boots.WithLabelValues(processor).Inc()
}

func RecordBootFailure(processor, reason string) {
	RegisterMetrics()
	bootFailures.WithLabelValues(processor, reason).Inc()
}

func RecordStop(processor string) {
	RegisterMetrics()
	stops.WithLabelValues(processor).Inc()
}

func RecordStopFailure(processor string) {
	RegisterMetrics()
	stopFailures.WithLabelValues(processor).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
