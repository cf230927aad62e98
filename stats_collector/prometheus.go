package stats_collector

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	persistenceWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "persistence_writes",
			Help: "Total number of store writes by entity type and status",
		},
		[]string{"entity_type", "status"},
	)
	persistenceWriteLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "persistence_write_latency_seconds",
			Help:    "Latency of a single store write",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"entity_type"},
	)
	persistenceQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "persistence_queue_depth",
			Help: "Number of write requests waiting in the write queue",
		},
	)
	persistenceQueueWarnings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "persistence_queue_warnings",
			Help: "Total number of queue depth warnings emitted",
		},
	)
	persistenceTokens = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "persistence_tokens",
			Help: "Token bucket state of the write limiter",
		},
		[]string{"state"},
	)
	persistenceLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "persistence_loads",
			Help: "Total number of entity loads by outcome",
		},
		[]string{"entity_type", "outcome"},
	)
	persistenceFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "persistence_flushes",
			Help: "Total number of flushes by kind and status",
		},
		[]string{"kind", "status"},
	)
	persistenceAbandoned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "persistence_abandoned_writes",
			Help: "Writes left unwritten because the shutdown flush budget ran out",
		},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_sessions",
			Help: "Number of owners with a live session",
		},
	)
	apiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests",
			Help: "Total number of API requests by api and status",
		},
		[]string{"api", "status"},
	)
)

var _ StatsCollector = (*promCollector)(nil)

type promCollector struct {
}

func (col *promCollector) IncWrites(entityType, status string) {
	persistenceWrites.WithLabelValues(entityType, status).Inc()
}

func (col *promCollector) ObserveWriteLatency(entityType string, seconds float64) {
	persistenceWriteLatency.WithLabelValues(entityType).Observe(seconds)
}

func (col *promCollector) SetQueueDepth(depth float64) {
	persistenceQueueDepth.Set(depth)
}

func (col *promCollector) IncQueueWarnings() {
	persistenceQueueWarnings.Inc()
}

func (col *promCollector) SetTokens(available, capacity float64) {
	persistenceTokens.WithLabelValues("available").Set(available)
	persistenceTokens.WithLabelValues("capacity").Set(capacity)
}

func (col *promCollector) IncLoads(entityType, outcome string) {
	persistenceLoads.WithLabelValues(entityType, outcome).Inc()
}

func (col *promCollector) IncFlushes(kind, status string) {
	persistenceFlushes.WithLabelValues(kind, status).Inc()
}

func (col *promCollector) AddAbandonedWrites(count float64) {
	persistenceAbandoned.Add(count)
}

func (col *promCollector) SetActiveSessions(count float64) {
	activeSessions.Set(count)
}

func (col *promCollector) IncApiRequests(api, status string) {
	apiRequests.WithLabelValues(api, status).Inc()
}

var registerOnce sync.Once

func initPrometheus() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			persistenceWrites, persistenceWriteLatency, persistenceQueueDepth,
			persistenceQueueWarnings, persistenceTokens, persistenceLoads,
			persistenceFlushes, persistenceAbandoned, activeSessions, apiRequests,
		)
	})
}

func NewPrometheusCollector() StatsCollector {
	initPrometheus()
	return &promCollector{}
}
