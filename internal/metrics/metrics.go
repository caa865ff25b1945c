package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	RelayRequests      *prometheus.CounterVec
	ProviderLatency    *prometheus.HistogramVec
	ExtractionFailures *prometheus.CounterVec
}

var (
	once   sync.Once
	global *Metrics
)

// Global returns collectors registered with the default prometheus registry.
func Global() *Metrics {
	once.Do(func() {
		global = New()
		prometheus.MustRegister(global.Collectors()...)
	})
	return global
}

// New builds unregistered collectors; tests use it to avoid the global registry.
func New() *Metrics {
	return &Metrics{
		RelayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat_ai",
			Name:      "relay_requests_total",
			Help:      "Total relay chat requests by provider and outcome",
		}, []string{"provider", "outcome"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chat_ai",
			Name:      "provider_request_duration_seconds",
			Help:      "Latency of outbound provider calls",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60, 120},
		}, []string{"provider"}),
		ExtractionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat_ai",
			Name:      "extraction_failures_total",
			Help:      "Provider responses whose reply text could not be extracted",
		}, []string{"provider"}),
	}
}

func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.RelayRequests, m.ProviderLatency, m.ExtractionFailures}
}
