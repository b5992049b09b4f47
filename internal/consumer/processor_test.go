package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"example.com/movimentoterra/internal/events"
)

func attivitaMessage(t *testing.T, offset int64, eventType string) kafka.Message {
	t.Helper()
	payload, err := json.Marshal(events.AttivitaChanged{
		AttivitaID:    42,
		UserID:        "operaio",
		Date:          "2025-06-10",
		Interazioni:   2,
		TempoTotaleMs: 8_100_000,
		ChangedBy:     "operaio",
		OccurredAt:    time.Date(2025, time.June, 10, 8, 0, 0, 0, time.UTC),
		Version:       events.SchemaVersion,
	})
	require.NoError(t, err)
	return kafka.Message{
		Topic:     events.TopicAttivita,
		Partition: 0,
		Offset:    offset,
		Time:      time.Now().UTC(),
		Value:     payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "user_id", Value: []byte("operaio")},
		},
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, c.Write(metric))
	return metric.GetCounter().GetValue()
}

func TestProcessorCountsOutcomes(t *testing.T) {
	processed := messagesTotal.WithLabelValues(events.TopicAttivita, events.TypeAttivitaCreated, outcomeProcessed)
	failed := messagesTotal.WithLabelValues(events.TopicAttivita, events.TypeAttivitaUpdated, outcomeHandlerError)
	malformed := messagesTotal.WithLabelValues(events.TopicAttivita, "", outcomeMalformed)
	processedBefore, failedBefore, malformedBefore := counterValue(t, processed), counterValue(t, failed), counterValue(t, malformed)

	broken := attivitaMessage(t, 52, events.TypeAttivitaDeleted)
	broken.Value = []byte(`{not json`)
	reader := &stubReader{messages: []kafka.Message{
		attivitaMessage(t, 50, events.TypeAttivitaCreated),
		attivitaMessage(t, 51, events.TypeAttivitaUpdated),
		broken,
	}}
	handler := HandlerFunc(func(_ context.Context, msg Message) error {
		if msg.EventType == events.TypeAttivitaUpdated {
			return errors.New("boom")
		}
		return nil
	})

	processor := NewProcessor(reader, handler, WithLogger(zaptest.NewLogger(t)))
	require.ErrorIs(t, processor.Run(context.Background()), context.Canceled)

	require.Equal(t, processedBefore+1, counterValue(t, processed))
	require.Equal(t, failedBefore+1, counterValue(t, failed))
	require.Equal(t, malformedBefore+1, counterValue(t, malformed))
}

func TestProcessorCommitsOnSuccess(t *testing.T) {
	reader := &stubReader{messages: []kafka.Message{attivitaMessage(t, 10, events.TypeAttivitaCreated)}}
	handler := &stubHandler{}

	processor := NewProcessor(reader, handler, WithLogger(zaptest.NewLogger(t)))
	err := processor.Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
	require.Equal(t, events.TypeAttivitaCreated, handler.last.EventType)
	require.Equal(t, "operaio", handler.last.UserID)
	require.Equal(t, int64(42), handler.last.Event.AttivitaID)
	require.Equal(t, int64(8_100_000), handler.last.Event.TempoTotaleMs)
	require.Equal(t, int64(10), handler.last.Offset)
}

func TestProcessorSkipsCommitOnHandlerError(t *testing.T) {
	reader := &stubReader{messages: []kafka.Message{attivitaMessage(t, 20, events.TypeAttivitaUpdated)}}
	handler := &stubHandler{err: errors.New("boom")}

	processor := NewProcessor(reader, handler, WithLogger(zaptest.NewLogger(t)))
	require.ErrorIs(t, processor.Run(context.Background()), context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 0, reader.commitCalls)
}

func TestProcessorCommitsMalformedMessages(t *testing.T) {
	noHeader := attivitaMessage(t, 30, events.TypeAttivitaDeleted)
	noHeader.Headers = nil
	badJSON := attivitaMessage(t, 31, events.TypeAttivitaDeleted)
	badJSON.Value = []byte(`{not json`)
	noID := attivitaMessage(t, 32, events.TypeAttivitaDeleted)
	noID.Value = []byte(`{"user_id":"operaio"}`)

	reader := &stubReader{messages: []kafka.Message{noHeader, badJSON, noID}}
	handler := &stubHandler{}

	processor := NewProcessor(reader, handler, WithLogger(zaptest.NewLogger(t)))
	require.ErrorIs(t, processor.Run(context.Background()), context.Canceled)

	require.Zero(t, handler.calls)
	require.Equal(t, 3, reader.commitCalls)
}

func TestProcessorFallsBackToPayloadUser(t *testing.T) {
	msg := attivitaMessage(t, 40, events.TypeAttivitaCreated)
	msg.Headers = msg.Headers[:1]
	reader := &stubReader{messages: []kafka.Message{msg}}
	var got Message
	handler := HandlerFunc(func(_ context.Context, m Message) error {
		got = m
		return nil
	})

	require.ErrorIs(t, NewProcessor(reader, handler).Run(context.Background()), context.Canceled)
	require.Equal(t, "operaio", got.UserID)
}

type stubReader struct {
	messages    []kafka.Message
	index       int
	commitCalls int
}

func (r *stubReader) FetchMessage(context.Context) (kafka.Message, error) {
	if r.index >= len(r.messages) {
		return kafka.Message{}, context.Canceled
	}
	msg := r.messages[r.index]
	r.index++
	return msg, nil
}

func (r *stubReader) CommitMessages(_ context.Context, _ ...kafka.Message) error {
	r.commitCalls++
	return nil
}

func (r *stubReader) Close() error { return nil }

type stubHandler struct {
	calls int
	last  Message
	err   error
}

func (h *stubHandler) Handle(_ context.Context, msg Message) error {
	h.calls++
	h.last = msg
	return h.err
}
