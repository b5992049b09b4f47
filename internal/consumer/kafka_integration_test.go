//go:build integration

package consumer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	kafkacontainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"example.com/movimentoterra/internal/events"
	"example.com/movimentoterra/internal/outbox"
)

type staticStore struct {
	mu       sync.Mutex
	messages []outbox.Message
}

func (s *staticStore) Process(_ context.Context, limit int, deliver func([]outbox.Message) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return 0, nil
	}
	batch := s.messages
	if len(batch) > limit {
		batch = batch[:limit]
	}
	if err := deliver(batch); err != nil {
		return 0, err
	}
	s.messages = s.messages[len(batch):]
	return len(batch), nil
}

func TestOutboxEventsReachTheProcessor(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	kafkaC, err := kafkacontainer.Run(ctx, "confluentinc/confluent-local:7.5.0", kafkacontainer.WithClusterID("lmt-integration"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kafkaC.Terminate(context.Background()) })

	brokers, err := kafkaC.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)

	conn, err := kafka.Dial("tcp", brokers[0])
	require.NoError(t, err)
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{Topic: events.TopicAttivita, NumPartitions: 1, ReplicationFactor: 1}))
	require.NoError(t, conn.Close())

	payload, err := json.Marshal(events.AttivitaChanged{AttivitaID: 5, UserID: "operaio", Date: "2025-06-10", ChangedBy: "operaio", Version: events.SchemaVersion})
	require.NoError(t, err)
	store := &staticStore{messages: []outbox.Message{{
		EventID:      1,
		AggregateID:  5,
		EventType:    events.TypeAttivitaCreated,
		Topic:        events.TopicAttivita,
		PartitionKey: "5",
		UserID:       "operaio",
		Payload:      payload,
	}}}

	producer := outbox.NewPublisher(brokers)
	defer producer.Close()
	n, err := outbox.NewDispatcher(store, producer, nil, time.Second, 10).ProcessBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     "lmt-integration",
		Topic:       events.TopicAttivita,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	received := make(chan Message, 1)
	proc := NewProcessor(reader, HandlerFunc(func(_ context.Context, msg Message) error {
		received <- msg
		return nil
	}))
	consumerCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = proc.Run(consumerCtx) }()

	select {
	case msg := <-received:
		require.Equal(t, events.TypeAttivitaCreated, msg.EventType)
		require.Equal(t, "operaio", msg.UserID)
		require.Equal(t, int64(5), msg.Event.AttivitaID)
	case <-time.After(time.Minute):
		t.Fatal("event not consumed")
	}
}
