// Package metrics exposes reconciliation and outbox counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/atvirokodosprendimai/lims/internal/core/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lims"

// Collector counts the rows written and loaded by aggregate reconciliation
// and the outcome of outbox deliveries. It owns its registry.
type Collector struct {
	registry *prometheus.Registry
	writes   *prometheus.CounterVec
	loads    *prometheus.CounterVec
	dispatch *prometheus.CounterVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entity_writes_total",
			Help:      "Rows inserted, updated or deleted by reconciliation.",
		}, []string{"kind", "operation"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entity_loads_total",
			Help:      "Rows loaded into aggregates.",
		}, []string{"kind"}),
		dispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_dispatch_total",
			Help:      "Outbox delivery attempts by outcome.",
		}, []string{"outcome"}),
	}
	c.registry.MustRegister(
		c.writes,
		c.loads,
		c.dispatch,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) ObserveWrite(kind domain.EntityKind, op domain.AuditOperation) {
	c.writes.WithLabelValues(string(kind), string(op)).Inc()
}

func (c *Collector) ObserveLoad(kind domain.EntityKind) {
	c.loads.WithLabelValues(string(kind)).Inc()
}

func (c *Collector) ObserveDispatch(outcome string) {
	c.dispatch.WithLabelValues(outcome).Inc()
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
