package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics records the outcome of every inbound provider event.
type WebhookMetrics struct {
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	credits  prometheus.Counter
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Provider webhook events by type and outcome.",
	}, []string{"event_type", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_processing_seconds",
		Help:    "Time spent processing provider webhook events.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type"})
	credits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entitlement_credits_applied_total",
		Help: "Credits added to user entitlements by reconciled payments.",
	})
	reg.MustRegister(events, duration, credits)
	return &WebhookMetrics{
		events:   events,
		duration: duration,
		credits:  credits,
	}
}

// ObserveEvent counts one processed event and its latency.
func (w *WebhookMetrics) ObserveEvent(eventType, outcome string, elapsed time.Duration) {
	if w == nil || w.events == nil {
		return
	}
	eventType = normalizeLabel(eventType)
	w.events.WithLabelValues(eventType, normalizeLabel(outcome)).Inc()
	w.duration.WithLabelValues(eventType).Observe(elapsed.Seconds())
}

// AddCredits records credits granted by an applied ledger entry.
func (w *WebhookMetrics) AddCredits(n int64) {
	if w == nil || w.credits == nil || n <= 0 {
		return
	}
	w.credits.Add(float64(n))
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
