package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Delivery outcomes recorded per consumer.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeParked    = "parked"
	OutcomeRetried   = "retried"
)

// ConsumerMetrics records event consumption behavior.
type ConsumerMetrics struct {
	processed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewConsumerMetrics registers the consumer metrics on the provided registerer.
func NewConsumerMetrics(reg prometheus.Registerer) *ConsumerMetrics {
	if reg == nil {
		return &ConsumerMetrics{}
	}
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_messages_total",
		Help: "Messages processed per consumer and outcome.",
	}, []string{"consumer", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "consumer_handle_duration_seconds",
		Help:    "Duration of message handling in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"consumer"})
	reg.MustRegister(processed, duration)
	return &ConsumerMetrics{
		processed: processed,
		duration:  duration,
	}
}

// IncProcessed increments the processed counter for the consumer and outcome.
func (m *ConsumerMetrics) IncProcessed(consumer, outcome string) {
	if m == nil || m.processed == nil {
		return
	}
	m.processed.WithLabelValues(normalizeLabel(consumer), normalizeLabel(outcome)).Inc()
}

// ObserveHandle records the duration of one handled message.
func (m *ConsumerMetrics) ObserveHandle(consumer string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(consumer)).Observe(duration.Seconds())
}
