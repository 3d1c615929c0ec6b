package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	UpstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tradefusion",
			Subsystem: "upstream",
			Name:      "latency_seconds",
			Help:      "Latency of analytics and exchange calls, retries included",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	UpstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradefusion",
			Subsystem: "upstream",
			Name:      "errors_total",
			Help:      "Failed upstream calls by endpoint",
		},
		[]string{"endpoint"},
	)
)

// Register adds the upstream collectors to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(UpstreamLatency, UpstreamErrors)
	})
}

// ObserveUpstream records one finished call.
func ObserveUpstream(endpoint string, started time.Time, err error) {
	UpstreamLatency.WithLabelValues(endpoint).Observe(time.Since(started).Seconds())
	if err != nil {
		UpstreamErrors.WithLabelValues(endpoint).Inc()
	}
}
