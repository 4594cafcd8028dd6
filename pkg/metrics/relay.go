package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RelayMetrics records outbox relay behavior.
type RelayMetrics struct {
	published     *prometheus.CounterVec
	failures      *prometheus.CounterVec
	deadLettered  *prometheus.CounterVec
	batchDuration prometheus.Histogram
	unpublished   prometheus.Gauge
}

// NewRelayMetrics registers the relay metrics on the provided registerer.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	if reg == nil {
		return &RelayMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_published_total",
		Help: "Outbox rows published to the broker.",
	}, []string{"topic"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_publish_failures_total",
		Help: "Outbox publish attempts that failed.",
	}, []string{"topic"})
	deadLettered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_dead_lettered_total",
		Help: "Outbox rows moved to the dead letter table.",
	}, []string{"topic"})
	batchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_batch_duration_seconds",
		Help:    "Duration of relay publish batches in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	unpublished := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_unpublished_rows",
		Help: "Outbox rows awaiting publication.",
	})
	reg.MustRegister(published, failures, deadLettered, batchDuration, unpublished)
	return &RelayMetrics{
		published:     published,
		failures:      failures,
		deadLettered:  deadLettered,
		batchDuration: batchDuration,
		unpublished:   unpublished,
	}
}

// IncPublished increments the published counter for the topic.
func (m *RelayMetrics) IncPublished(topic string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(topic)).Inc()
}

// IncFailure increments the failure counter for the topic.
func (m *RelayMetrics) IncFailure(topic string) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.WithLabelValues(normalizeLabel(topic)).Inc()
}

// IncDeadLettered increments the dead letter counter for the topic.
func (m *RelayMetrics) IncDeadLettered(topic string) {
	if m == nil || m.deadLettered == nil {
		return
	}
	m.deadLettered.WithLabelValues(normalizeLabel(topic)).Inc()
}

// ObserveBatch records the duration of one relay batch.
func (m *RelayMetrics) ObserveBatch(duration time.Duration) {
	if m == nil || m.batchDuration == nil {
		return
	}
	m.batchDuration.Observe(duration.Seconds())
}

// SetUnpublished records the current backlog depth.
func (m *RelayMetrics) SetUnpublished(count int64) {
	if m == nil || m.unpublished == nil {
		return
	}
	m.unpublished.Set(float64(count))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
