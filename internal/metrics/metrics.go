package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "messaging",
			Name:      "status_transitions_total",
			Help:      "Messages whose status changed, by path and target status",
		},
		[]string{"path", "status"},
	)

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Cache invalidation event deliveries by outcome",
		},
		[]string{"type", "outcome"},
	)

	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "realtime",
			Name:      "dispatch_total",
			Help:      "Realtime pushes by outcome",
		},
		[]string{"kind", "outcome"},
	)

	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "parley",
			Subsystem: "realtime",
			Name:      "dispatch_duration_seconds",
			Help:      "Transport publish duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		},
	)

	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Conversation details cache lookups by result",
		},
		[]string{"result"},
	)

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "parley",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Open websocket connections",
		},
	)
)

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordTransition(path, status string, n int) {
	if n <= 0 {
		return
	}
	StatusTransitionsTotal.WithLabelValues(path, status).Add(float64(n))
}

func RecordEvent(eventType, outcome string) {
	EventsTotal.WithLabelValues(eventType, outcome).Inc()
}

func RecordDispatch(kind, outcome string, durationSec float64) {
	DispatchTotal.WithLabelValues(kind, outcome).Inc()
	if durationSec > 0 {
		DispatchDuration.Observe(durationSec)
	}
}

func RecordCacheHit() {
	CacheLookupsTotal.WithLabelValues("hit").Inc()
}

func RecordCacheMiss() {
	CacheLookupsTotal.WithLabelValues("miss").Inc()
}
