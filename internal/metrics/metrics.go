// Package metrics holds the Prometheus collectors of the bot orchestrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ActiveSessions   prometheus.Gauge
	AdmissionsTotal  *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec
	ChunksTotal      prometheus.Counter
	ChunkBytes       prometheus.Histogram
	PipelineSeconds  *prometheus.HistogramVec
	NotifyFailures   *prometheus.CounterVec
	WebhookDelivery  *prometheus.CounterVec
}

// Default registers the collectors on the process-wide registry.
func Default() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// New registers the collectors on reg. Tests pass prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetbot_active_sessions",
			Help: "Sessions in a non-terminal status",
		}),
		AdmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetbot_admissions_total",
				Help: "Join requests by admission outcome",
			},
			[]string{"outcome"},
		),
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetbot_transitions_total",
				Help: "Session status transitions by target status",
			},
			[]string{"to"},
		),
		ChunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetbot_chunks_total",
			Help: "Recorded audio chunks closed",
		}),
		ChunkBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meetbot_chunk_bytes",
			Help:    "Size of closed audio chunks",
			Buckets: prometheus.ExponentialBuckets(64<<10, 4, 8),
		}),
		PipelineSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meetbot_pipeline_seconds",
				Help:    "Completion pipeline latency",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600, 1800},
			},
			[]string{"result"},
		),
		NotifyFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetbot_notify_failures_total",
				Help: "Lifecycle events that could not be handed to a delivery channel",
			},
			[]string{"channel"},
		),
		WebhookDelivery: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetbot_webhook_deliveries_total",
				Help: "Webhook POSTs to the owning application by result",
			},
			[]string{"result"},
		),
	}
}

// Nop returns collectors bound to a throwaway registry.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
