package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

func TestPublisherAppliesOptionsToWriters(t *testing.T) {
	p := NewPublisher([]string{"kafka:9092"}, WithWriteTimeout(3*time.Second), WithBatchTimeout(time.Millisecond), WithPublisherLogger(nil))
	require.NotNil(t, p.logger)

	w, err := p.writer("attivita_events")
	require.NoError(t, err)
	require.Equal(t, "attivita_events", w.Topic)
	require.Equal(t, 3*time.Second, w.WriteTimeout)
	require.Equal(t, time.Millisecond, w.BatchTimeout)
	require.Equal(t, kafka.RequireAll, w.RequiredAcks)

	again, err := p.writer("attivita_events")
	require.NoError(t, err)
	require.Same(t, w, again)
	require.NoError(t, p.Close())
}

func TestPublisherRefusesWritesAfterClose(t *testing.T) {
	p := NewPublisher([]string{"kafka:9092"})
	require.NoError(t, p.Close())

	err := p.WriteMessages(context.Background(), "attivita_events", kafka.Message{Value: []byte(`{}`)})
	require.ErrorIs(t, err, ErrPublisherClosed)
}

func TestObservePublishCountsFailuresPerTopic(t *testing.T) {
	failures := publishErrors.WithLabelValues("attivita_dlq")
	before := counterValue(t, failures)
	observePublish("attivita_dlq", 2, time.Millisecond, errors.New("leader not available"))
	observePublish("attivita_dlq", 2, time.Millisecond, nil)
	require.Equal(t, before+1, counterValue(t, failures))
}
