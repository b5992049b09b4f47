package consumer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeProcessed    = "processed"
	outcomeHandlerError = "handler_error"
	outcomeMalformed    = "malformed"
)

var (
	messagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "movimentoterra",
		Subsystem: "consumer",
		Name:      "messages_total",
		Help:      "Kafka messages fetched by the consumer, by event type and outcome.",
	}, []string{"topic", "event_type", "outcome"})

	handleSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "movimentoterra",
		Subsystem: "consumer",
		Name:      "handle_duration_seconds",
		Help:      "Time the handler spent on one decoded event.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	deliveryLagSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "movimentoterra",
		Subsystem: "consumer",
		Name:      "delivery_lag_seconds",
		Help:      "Delay between an event being published and the consumer committing it.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(messagesTotal, handleSeconds, deliveryLagSeconds)
}

func recordMalformed(topic string) {
	messagesTotal.WithLabelValues(topic, "", outcomeMalformed).Inc()
}

func recordHandled(msg Message, took time.Duration, err error) {
	handleSeconds.WithLabelValues(msg.EventType).Observe(took.Seconds())
	if err != nil {
		messagesTotal.WithLabelValues(msg.Topic, msg.EventType, outcomeHandlerError).Inc()
	}
}

func recordCommitted(msg Message, now time.Time) {
	messagesTotal.WithLabelValues(msg.Topic, msg.EventType, outcomeProcessed).Inc()
	if !msg.Timestamp.IsZero() && now.After(msg.Timestamp) {
		deliveryLagSeconds.WithLabelValues(msg.Topic).Observe(now.Sub(msg.Timestamp).Seconds())
	}
}
