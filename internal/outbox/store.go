package outbox

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Message represents a pending row of the outbox table.
type Message struct {
	EventID      int64
	AggregateID  int64
	EventType    string
	Topic        string
	PartitionKey string
	UserID       string
	Attempts     int
	Payload      json.RawMessage
}

// Store claims pending events and records their delivery outcome.
type Store interface {
	// Process locks up to limit pending events and passes them to deliver. The locks are
	// held until deliver returns, so concurrent dispatchers never publish the same row.
	Process(ctx context.Context, limit int, deliver func([]Message) error) (int, error)
}

// PostgresStore is the outbox table accessed through pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Process implements Store. Delivered rows are stamped published_at; on failure every
// claimed row has its attempts incremented and last_error recorded.
func (s *PostgresStore) Process(ctx context.Context, limit int, deliver func([]Message) error) (n int, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	const query = `SELECT event_id, aggregate_id, event_type, topic, partition_key, user_id, attempts, payload
        FROM outbox
        WHERE published_at IS NULL
        ORDER BY event_id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, limit)
	if err != nil {
		return 0, err
	}
	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var msg Message
		err := row.Scan(&msg.EventID, &msg.AggregateID, &msg.EventType, &msg.Topic, &msg.PartitionKey, &msg.UserID, &msg.Attempts, &msg.Payload)
		return msg, err
	})
	if err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		return 0, tx.Rollback(ctx)
	}

	ids := make([]int64, len(messages))
	for i, msg := range messages {
		ids[i] = msg.EventID
	}

	if deliverErr := deliver(messages); deliverErr != nil {
		if _, err = tx.Exec(ctx, `UPDATE outbox SET attempts = attempts + 1, last_error = $2 WHERE event_id = ANY($1)`, ids, deliverErr.Error()); err != nil {
			return 0, err
		}
		if err = tx.Commit(ctx); err != nil {
			return 0, err
		}
		return 0, deliverErr
	}

	if _, err = tx.Exec(ctx, `UPDATE outbox SET published_at = NOW(), last_error = NULL WHERE event_id = ANY($1)`, ids); err != nil {
		return 0, err
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(messages), nil
}
