package metrics

import "github.com/prometheus/client_golang/prometheus"

// Router counts console-side dispatch outcomes. It satisfies session.Observer.
type Router struct {
	dispatched *prometheus.CounterVec
}

// NewRouter registers the router collectors on reg.
func NewRouter(reg prometheus.Registerer) *Router {
	r := &Router{
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "console",
			Name:      "messages_dispatched_total",
			Help:      "Inbound messages routed by the console, by type and outcome",
		}, []string{"type", "outcome"}),
	}
	reg.MustRegister(r.dispatched)
	return r
}

// ObserveDispatch records one routed message.
func (r *Router) ObserveDispatch(msgType, outcome string) {
	if msgType == "" {
		msgType = "unknown"
	}
	r.dispatched.WithLabelValues(msgType, outcome).Inc()
}
