// ABOUTME: Prometheus instrumentation for the request broker and operator actions.
// ABOUTME: Collector observes broker lifecycle events and serves its own registry over HTTP.

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/human-gateway/internal/broker"
)

const namespace = "human_gateway"

// Collector holds the gateway's metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	pending    prometheus.Gauge
	registered *prometheus.CounterVec
	settled    *prometheus.CounterVec
	waitTime   *prometheus.HistogramVec
	submits    *prometheus.CounterVec
}

// New creates a Collector. Go runtime and process collectors are included.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Requests waiting for an operator answer.",
		}),
		registered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_registered_total",
			Help:      "Requests registered by kind.",
		}, []string{"kind"}),
		settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_settled_total",
			Help:      "Requests settled by kind and final status.",
		}, []string{"kind", "status"}),
		waitTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_wait_seconds",
			Help:      "Time from registration to settlement.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"status"}),
		submits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operator_submits_total",
			Help:      "Operator answer submissions by result.",
		}, []string{"result"}),
	}

	c.registry.MustRegister(
		c.pending,
		c.registered,
		c.settled,
		c.waitTime,
		c.submits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the underlying registry (for tests and extra collectors).
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RequestRegistered implements broker.Observer.
func (c *Collector) RequestRegistered(rec broker.Record) {
	c.pending.Inc()
	c.registered.WithLabelValues(string(rec.Kind)).Inc()
}

// RequestSettled implements broker.Observer.
func (c *Collector) RequestSettled(rec broker.Record, waited time.Duration) {
	c.pending.Dec()
	c.settled.WithLabelValues(string(rec.Kind), string(rec.Status)).Inc()
	c.waitTime.WithLabelValues(string(rec.Status)).Observe(waited.Seconds())
}

// OperatorSubmit counts one answer submission; result is "ok", "not_found" or "invalid_input".
func (c *Collector) OperatorSubmit(result string) {
	c.submits.WithLabelValues(result).Inc()
}

var _ broker.Observer = (*Collector)(nil)
