//go:build integration

package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"example.com/movimentoterra/internal/testsupport"
)

func insertPending(t *testing.T, ctx context.Context, pool *pgxpool.Pool, aggregateID int64) {
	t.Helper()
	_, err := pool.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, partition_key, user_id, payload)
        VALUES ('attivita', $1, 'attivita.created', 'attivita_events', $1::text, 'operaio', jsonb_build_object('attivita_id', $1::bigint))`, aggregateID)
	require.NoError(t, err)
}

func TestPostgresStoreMarksDeliveredRows(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)
	store := NewPostgresStore(pool)
	for id := int64(1); id <= 3; id++ {
		insertPending(t, ctx, pool, id)
	}

	writer := &recordingWriter{}
	d := NewDispatcher(store, writer, nil, 0, 2)

	n, err := d.ProcessBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	n, err = d.ProcessBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var pending int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&pending))
	require.Zero(t, pending)
	require.Len(t, writer.topics["attivita_events"], 3)
	require.Equal(t, []byte("1"), writer.topics["attivita_events"][0].Key)
}

func TestPostgresStoreRecordsFailures(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)
	store := NewPostgresStore(pool)
	insertPending(t, ctx, pool, 42)

	_, err := store.Process(ctx, 10, func(messages []Message) error {
		require.Len(t, messages, 1)
		require.Equal(t, int64(42), messages[0].AggregateID)
		return errors.New("broker unavailable")
	})
	require.ErrorContains(t, err, "broker unavailable")

	var (
		attempts  int
		lastError string
	)
	require.NoError(t, pool.QueryRow(ctx, `SELECT attempts, last_error FROM outbox WHERE aggregate_id = 42 AND published_at IS NULL`).Scan(&attempts, &lastError))
	require.Equal(t, 1, attempts)
	require.Equal(t, "broker unavailable", lastError)

	n, err := store.Process(ctx, 10, func(messages []Message) error {
		require.Equal(t, 1, messages[0].Attempts)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
