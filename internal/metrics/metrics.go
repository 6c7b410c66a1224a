package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments of the storage core.
type Metrics struct {
	registry *prometheus.Registry

	opsTotal   *prometheus.CounterVec
	opDuration *prometheus.HistogramVec
	bytesIn    prometheus.Counter
	bytesOut   prometheus.Counter

	eventsDropped prometheus.Counter

	diskTotal prometheus.Gauge
	diskUsed  prometheus.Gauge
	diskFree  prometheus.Gauge
	memUsed   prometheus.Gauge
}

// New creates the metric set on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		opsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stratafs",
			Name:      "operations_total",
			Help:      "Storage operations by type and outcome.",
		}, []string{"operation", "outcome"}),
		opDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stratafs",
			Name:      "operation_duration_seconds",
			Help:      "Storage operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		bytesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stratafs",
			Name:      "bytes_written_total",
			Help:      "Object payload bytes written.",
		}),
		bytesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stratafs",
			Name:      "bytes_read_total",
			Help:      "Object payload bytes read.",
		}),
		eventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stratafs",
			Name:      "events_dropped_total",
			Help:      "Events dropped due to queue overflow.",
		}),
		diskTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "stratafs",
			Name:      "disk_total_bytes",
			Help:      "Capacity of the filesystem holding the storage root.",
		}),
		diskUsed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "stratafs",
			Name:      "disk_used_bytes",
			Help:      "Used space on the filesystem holding the storage root.",
		}),
		diskFree: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "stratafs",
			Name:      "disk_free_bytes",
			Help:      "Free space on the filesystem holding the storage root.",
		}),
		memUsed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "stratafs",
			Name:      "memory_used_bytes",
			Help:      "Used system memory.",
		}),
	}
}

// ObserveOp records one completed operation.
func (m *Metrics) ObserveOp(operation string, err error, elapsed time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.opsTotal.WithLabelValues(operation, outcome).Inc()
	m.opDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// AddBytesWritten counts object payload bytes flowing in.
func (m *Metrics) AddBytesWritten(n int64) {
	if n > 0 {
		m.bytesIn.Add(float64(n))
	}
}

// AddBytesRead counts object payload bytes flowing out.
func (m *Metrics) AddBytesRead(n int64) {
	if n > 0 {
		m.bytesOut.Add(float64(n))
	}
}

// EventDropped counts one overflow-dropped event.
func (m *Metrics) EventDropped() {
	m.eventsDropped.Inc()
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
