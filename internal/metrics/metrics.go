// Package metrics exports node store activity to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements nodestore.Observer on a private registry.
type Recorder struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	opDuration *prometheus.HistogramVec
	nodes      prometheus.Gauge
	saves      prometheus.Histogram
	recoveries prometheus.Counter
}

// New creates a Recorder with its own registry, including Go runtime and
// process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treeapp",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Store operations by name and result.",
		}, []string{"op", "result"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "treeapp",
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Wall time of store operations, persistence included.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"op"}),
		nodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "treeapp",
			Subsystem: "store",
			Name:      "nodes",
			Help:      "Number of nodes currently held by the store.",
		}),
		saves: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "treeapp",
			Subsystem: "store",
			Name:      "save_duration_seconds",
			Help:      "Time spent writing the store document.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		recoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "treeapp",
			Subsystem: "store",
			Name:      "recoveries_total",
			Help:      "Corrupt store documents moved aside at load.",
		}),
	}
	r.registry.MustRegister(
		r.operations, r.opDuration, r.nodes, r.saves, r.recoveries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Observe records one store operation.
func (r *Recorder) Observe(op string, success bool, d time.Duration) {
	result := "ok"
	if !success {
		result = "error"
	}
	r.operations.WithLabelValues(op, result).Inc()
	r.opDuration.WithLabelValues(op).Observe(d.Seconds())
}

// Saved records the duration of a document write.
func (r *Recorder) Saved(d time.Duration) { r.saves.Observe(d.Seconds()) }

// Nodes sets the node gauge.
func (r *Recorder) Nodes(n int) { r.nodes.Set(float64(n)) }

// Recovered counts a corrupt document recovery.
func (r *Recorder) Recovered() { r.recoveries.Inc() }

// Registry exposes the underlying registry for tests and extra collectors.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
