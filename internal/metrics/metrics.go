// Package metrics provides Prometheus collectors for the gateway and the console router.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "researchdeck"

// Gateway collects server-side counters. Collectors are registered on the
// registry passed in, never on the global default, so tests can build many.
type Gateway struct {
	registry *prometheus.Registry

	connections  prometheus.Gauge
	broadcasts   *prometheus.CounterVec
	dropped      prometheus.Counter
	tasks        *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec
}

// NewGateway creates gateway collectors on a fresh registry that also carries the
// Go runtime and process collectors.
func NewGateway() *Gateway {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	g := &Gateway{
		registry: reg,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Currently registered console sockets",
		}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_broadcast_total",
			Help:      "Envelopes fanned out to sockets, by envelope type",
		}, []string{"type"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sockets_dropped_total",
			Help:      "Sockets unregistered after a failed write",
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Agent tasks run, by transport and outcome",
		}, []string{"transport", "outcome"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Agent task duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"transport"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests, by route and status",
		}, []string{"route", "status"}),
	}
	reg.MustRegister(g.connections, g.broadcasts, g.dropped, g.tasks, g.taskDuration, g.httpRequests)
	return g
}

// Registry returns the registry backing this collector set.
func (g *Gateway) Registry() *prometheus.Registry { return g.registry }

// Handler serves the registry in the Prometheus text format.
func (g *Gateway) Handler() http.Handler {
	return promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{Registry: g.registry})
}

// SocketOpened records a registered socket.
func (g *Gateway) SocketOpened() { g.connections.Inc() }

// SocketClosed records an unregistered socket. dropped marks a write failure.
func (g *Gateway) SocketClosed(dropped bool) {
	g.connections.Dec()
	if dropped {
		g.dropped.Inc()
	}
}

// Broadcast records one envelope fanned out.
func (g *Gateway) Broadcast(envType string) {
	g.broadcasts.WithLabelValues(envType).Inc()
}

// TaskFinished records a completed task.
func (g *Gateway) TaskFinished(transport, outcome string, d time.Duration) {
	g.tasks.WithLabelValues(transport, outcome).Inc()
	g.taskDuration.WithLabelValues(transport).Observe(d.Seconds())
}

// HTTPRequest records one API request.
func (g *Gateway) HTTPRequest(route string, status int) {
	g.httpRequests.WithLabelValues(route, http.StatusText(status)).Inc()
}
