// Package metrics exposes ingestion metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/systemshift/flightgraph/internal/graph"
)

const namespace = "flightgraph"

// Collector owns a private registry so tests and multiple pipelines in one
// process do not collide on the default one.
type Collector struct {
	registry *prometheus.Registry

	batchesTotal       *prometheus.CounterVec
	rowsTotal          *prometheus.CounterVec
	nodesCreated       *prometheus.CounterVec
	relationshipsTotal *prometheus.CounterVec
	batchDuration      *prometheus.HistogramVec
	streamQueued       prometheus.Gauge
}

// New creates a Collector with Go and process collectors registered.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		batchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total number of executed upsert batches.",
		}, []string{"statement", "result"}),
		rowsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Total number of rows sent to the graph, by outcome.",
		}, []string{"statement", "outcome"}),
		nodesCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_created_total",
			Help:      "Total number of nodes created.",
		}, []string{"statement"}),
		relationshipsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relationships_created_total",
			Help:      "Total number of relationships created.",
		}, []string{"statement"}),
		batchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Latency distribution of upsert batches.",
			Buckets: []float64{
				0.005, 0.01, 0.025,
				0.05, 0.1, 0.25,
				0.5, 1, 2.5,
				5, 10, 30,
			},
		}, []string{"statement", "result"}),
		streamQueued: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_queued_records",
			Help:      "Flight records waiting in the streaming ingestor.",
		}),
	}
}

// ObserveBatch records one executed batch.
func (c *Collector) ObserveBatch(statement string, rows int, counters graph.Counters, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.batchesTotal.WithLabelValues(statement, result).Inc()
	c.batchDuration.WithLabelValues(statement, result).Observe(d.Seconds())
	if err != nil {
		c.rowsTotal.WithLabelValues(statement, "failed").Add(float64(rows))
		return
	}
	c.rowsTotal.WithLabelValues(statement, "upserted").Add(float64(counters.Upserted))
	c.rowsTotal.WithLabelValues(statement, "skipped").Add(float64(counters.Skipped))
	c.nodesCreated.WithLabelValues(statement).Add(float64(counters.NodesCreated))
	c.relationshipsTotal.WithLabelValues(statement).Add(float64(counters.RelationshipsCreated))
}

// SetStreamQueued reports the current depth of the streaming queue.
func (c *Collector) SetStreamQueued(n int) {
	c.streamQueued.Set(float64(n))
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
