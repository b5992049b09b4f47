package outbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "movimentoterra",
		Subsystem: "outbox",
		Name:      "events_total",
		Help:      "Outbox events handled by the dispatcher, by event type and outcome.",
	}, []string{"event_type", "outcome"})

	batchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "movimentoterra",
		Subsystem: "outbox",
		Name:      "batch_size",
		Help:      "Events claimed per dispatcher tick.",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250},
	})

	publishSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "movimentoterra",
		Subsystem: "outbox",
		Name:      "publish_duration_seconds",
		Help:      "Latency of acknowledged Kafka writes per topic.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"topic"})

	publishErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "movimentoterra",
		Subsystem: "outbox",
		Name:      "publish_errors_total",
		Help:      "Kafka writes that were not acknowledged, per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(eventsTotal, batchSize, publishSeconds, publishErrors)
}

const (
	outcomeDelivered = "delivered"
	outcomeRetried   = "retried"
)

func recordBatch(messages []Message, outcome string) {
	batchSize.Observe(float64(len(messages)))
	for _, msg := range messages {
		eventsTotal.WithLabelValues(msg.EventType, outcome).Inc()
	}
}

func observePublish(topic string, n int, took time.Duration, err error) {
	if err != nil {
		publishErrors.WithLabelValues(topic).Inc()
		return
	}
	if n > 0 {
		publishSeconds.WithLabelValues(topic).Observe(took.Seconds())
	}
}
