// Package metrics exposes mirror bot counters for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	entity "github.com/dandalion98/mirrorbot/internal/domain"
)

const namespace = "mirrorbot"

// Mirror counters of the mirror pipeline, registered on a private registry.
type Mirror struct {
	registry *prometheus.Registry

	effects  prometheus.Counter
	skipped  *prometheus.CounterVec
	orders   *prometheus.CounterVec
	failures prometheus.Counter
	cleanups *prometheus.CounterVec
}

// NewMirror creates and registers the mirror counters.
func NewMirror() *Mirror {
	m := &Mirror{
		registry: prometheus.NewRegistry(),
		effects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "effects_total",
			Help:      "Target effects received from the stream.",
		}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "effects_skipped_total",
			Help:      "Effects that produced no order, by reason.",
		}, []string{"reason"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_submitted_total",
			Help:      "Mirrored offers accepted by the network, by action.",
		}, []string{"action"}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_failed_total",
			Help:      "Mirrored offers rejected or not sent.",
		}),
		cleanups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanups_total",
			Help:      "Offer cleanup runs, by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.effects, m.skipped, m.orders, m.failures, m.cleanups,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// EffectReceived counts one streamed effect.
func (m *Mirror) EffectReceived() {
	m.effects.Inc()
}

// EffectSkipped counts an effect that produced no order.
func (m *Mirror) EffectSkipped(reason string) {
	m.skipped.WithLabelValues(reason).Inc()
}

// OrderSubmitted counts an accepted offer.
func (m *Mirror) OrderSubmitted(action entity.Action) {
	m.orders.WithLabelValues(action.String()).Inc()
}

// OrderFailed counts a rejected offer.
func (m *Mirror) OrderFailed() {
	m.failures.Inc()
}

// CleanupFinished counts a cleanup run.
func (m *Mirror) CleanupFinished(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cleanups.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Mirror) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
