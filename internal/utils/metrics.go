// internal/utils/metrics.go
package utils

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector collects pipeline metrics in a private registry
type MetricsCollector struct {
	registry *prometheus.Registry

	ingestTotal       *prometheus.CounterVec
	repairsTotal      *prometheus.CounterVec
	slotFallbacks     prometheus.Counter
	missingReferences *prometheus.CounterVec
	persistedBytes    *prometheus.GaugeVec
	mergeDuration     *prometheus.HistogramVec
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// GetMetricsCollector returns the global metrics collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector()
	})
	return globalMetrics
}

// NewMetricsCollector builds a collector with its own registry, so tests never share counters
func NewMetricsCollector() *MetricsCollector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &MetricsCollector{
		registry: registry,
		ingestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_ingest_total",
			Help: "Total number of ingestion calls, partitioned by stage and status.",
		}, []string{"stage", "status"}),
		repairsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_parser_repairs_total",
			Help: "Syntactic repairs applied by the tolerant parser, partitioned by kind.",
		}, []string{"kind"}),
		slotFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_slot_fallback_total",
			Help: "Image identifiers that matched no slot rule and defaulted to slot 0.",
		}),
		missingReferences: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_missing_references_total",
			Help: "Fragment records referencing scenes or shots absent from the document.",
		}, []string{"stage"}),
		persistedBytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipeline_persisted_document_bytes",
			Help: "Size of the last persisted canonical document per project.",
		}, []string{"project"}),
		mergeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_ingest_duration_seconds",
			Help:    "Wall time of a full parse-normalize-classify-merge-persist run.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
	}
}

// RecordIngest counts one ingestion call
func (m *MetricsCollector) RecordIngest(stage, status string, seconds float64) {
	if stage == "" {
		stage = "unknown"
	}
	m.ingestTotal.WithLabelValues(stage, status).Inc()
	m.mergeDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordRepair counts one applied repair category
func (m *MetricsCollector) RecordRepair(kind string) {
	m.repairsTotal.WithLabelValues(kind).Inc()
}

// RecordSlotFallback counts a lossy slot resolution
func (m *MetricsCollector) RecordSlotFallback() {
	m.slotFallbacks.Inc()
}

// RecordMissingReferences adds unmatched ids for a stage
func (m *MetricsCollector) RecordMissingReferences(stage string, count int) {
	if count <= 0 {
		return
	}
	m.missingReferences.WithLabelValues(stage).Add(float64(count))
}

// SetPersistedBytes records the last saved document size
func (m *MetricsCollector) SetPersistedBytes(project string, size int) {
	m.persistedBytes.WithLabelValues(project).Set(float64(size))
}

// Handler serves the registry in the Prometheus text format
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
