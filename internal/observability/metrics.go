package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the memory core.
type Metrics struct {
	MessagesTotal  *prometheus.CounterVec
	DegradedStages *prometheus.CounterVec
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheDegraded  prometheus.Counter
	ActiveSessions prometheus.Gauge
	AppendLatency  prometheus.Histogram
	WindowMessages prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		MessagesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Analyzed inbound messages by detected intent.",
		}, []string{"intent"}),
		DegradedStages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_degraded_total",
			Help:      "Pipeline stages that fell back to their default value.",
		}, []string{"stage"}),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_cache_hits_total",
			Help:      "Context window cache hits.",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_cache_misses_total",
			Help:      "Context window cache misses.",
		}),
		CacheDegraded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_degraded_calls_total",
			Help:      "Cache operations served in degraded pass-through mode.",
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of unexpired conversation sessions.",
		}),
		AppendLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "append_latency_ms",
			Help:      "Durable append latency in milliseconds.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		WindowMessages: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "context_window_messages",
			Help:      "Messages retained per pruned context window.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}),
	}
}

func (m *Metrics) ObserveAppendLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.AppendLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
