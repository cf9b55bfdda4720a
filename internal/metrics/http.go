package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "request_duration_seconds",
	Help:      "API request latency by operation and status code",
	Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
}, []string{"operation", "code"})

// ObserveHTTPRequest records one finished API request. Streaming
// operations are observed when the stream closes.
func ObserveHTTPRequest(operation string, status int, d time.Duration) {
	if operation == "" {
		operation = "unknown"
	}
	httpRequestDuration.WithLabelValues(operation, strconv.Itoa(status)).Observe(d.Seconds())
}
