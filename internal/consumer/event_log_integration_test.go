//go:build integration

package consumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/movimentoterra/internal/events"
	"example.com/movimentoterra/internal/testsupport"
)

func TestEventLogHandlerIgnoresRedeliveries(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)
	handler := NewEventLogHandler(pool)

	occurred := time.Date(2025, time.June, 10, 8, 30, 0, 0, time.UTC)
	event := events.AttivitaChanged{AttivitaID: 7, UserID: "operaio", Date: "2025-06-10", ChangedBy: "admin", OccurredAt: occurred, Version: events.SchemaVersion}
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	msg := Message{
		Topic:     events.TopicAttivita,
		Partition: 0,
		Offset:    11,
		EventType: events.TypeAttivitaUpdated,
		UserID:    "operaio",
		Event:     event,
		Payload:   payload,
	}
	require.NoError(t, handler.Handle(ctx, msg))
	require.NoError(t, handler.Handle(ctx, msg))

	var (
		count      int
		changedBy  string
		occurredAt time.Time
	)
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*), MAX(changed_by), MAX(occurred_at) FROM attivita_event_log WHERE attivita_id = 7`).Scan(&count, &changedBy, &occurredAt))
	require.Equal(t, 1, count)
	require.Equal(t, "admin", changedBy)
	require.True(t, occurred.Equal(occurredAt))
}
