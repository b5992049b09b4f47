package consumer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventLogHandler writes consumed events into attivita_event_log for auditing.
// Redelivered offsets are ignored.
type EventLogHandler struct {
	pool *pgxpool.Pool
}

// NewEventLogHandler constructs a handler backed by the provided pool.
func NewEventLogHandler(pool *pgxpool.Pool) *EventLogHandler {
	return &EventLogHandler{pool: pool}
}

// Handle implements Handler.
func (h *EventLogHandler) Handle(ctx context.Context, msg Message) error {
	occurredAt := msg.Event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = msg.Timestamp
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	_, err := h.pool.Exec(ctx,
		`INSERT INTO attivita_event_log (topic, partition, "offset", event_type, attivita_id, user_id, changed_by, occurred_at, payload)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
         ON CONFLICT (topic, partition, "offset") DO NOTHING`,
		msg.Topic,
		msg.Partition,
		msg.Offset,
		msg.EventType,
		msg.Event.AttivitaID,
		msg.UserID,
		msg.Event.ChangedBy,
		occurredAt,
		msg.Payload,
	)
	return err
}
