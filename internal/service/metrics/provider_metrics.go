package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "signalforge",
			Subsystem: "provider",
			Name:      "latency_seconds",
			Help:      "Latency of bar provider requests, retries included",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	ProviderErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signalforge",
			Subsystem: "provider",
			Name:      "errors_total",
			Help:      "Failed bar provider fetches",
		},
		[]string{"provider"},
	)

	ProviderCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signalforge",
			Subsystem: "provider",
			Name:      "cache_total",
			Help:      "Provider response cache lookups by result",
		},
		[]string{"result"},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(ProviderLatency, ProviderErrors, ProviderCache)
	})
}
