// Package observability exposes Prometheus metrics for the reconciliation
// pipeline and its HTTP surface.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for the service. A nil *Metrics is valid and
// records nothing, so components can take it as an optional dependency.
type Metrics struct {
	registry *prometheus.Registry

	reconcileTicks     *prometheus.CounterVec
	reconcileItems     *prometheus.CounterVec
	reconcileDuration  prometheus.Histogram
	webhookRequests    *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	providerRequests   *prometheus.CounterVec
}

// NewMetrics creates and registers the service collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		reconcileTicks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "competency_reconcile_ticks_total",
			Help: "Reconciliation ticks by outcome.",
		}, []string{"outcome"}),

		reconcileItems: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "competency_reconcile_items_total",
			Help: "Assignments processed during reconciliation, by outcome.",
		}, []string{"outcome"}),

		reconcileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "competency_reconcile_tick_duration_seconds",
			Help:    "Duration of one reconciliation tick.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),

		webhookRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "competency_webhook_requests_total",
			Help: "Provider webhook requests by response status.",
		}, []string{"status"}),

		notificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "competency_notifications_total",
			Help: "Notification deliveries by outcome.",
		}, []string{"outcome"}),

		providerRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "competency_provider_requests_total",
			Help: "Proctoring provider status fetches by outcome.",
		}, []string{"outcome"}),
	}
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTick records a completed reconciliation tick.
func (m *Metrics) RecordTick(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.reconcileTicks.WithLabelValues(outcome).Inc()
	m.reconcileDuration.Observe(seconds)
}

// RecordItem records one reconciled assignment.
func (m *Metrics) RecordItem(outcome string) {
	if m == nil {
		return
	}
	m.reconcileItems.WithLabelValues(outcome).Inc()
}

// RecordWebhook records one webhook request by HTTP status.
func (m *Metrics) RecordWebhook(status string) {
	if m == nil {
		return
	}
	m.webhookRequests.WithLabelValues(status).Inc()
}

// RecordNotification records one notification delivery attempt.
func (m *Metrics) RecordNotification(outcome string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(outcome).Inc()
}

// RecordProviderRequest records one provider status fetch.
func (m *Metrics) RecordProviderRequest(outcome string) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(outcome).Inc()
}
