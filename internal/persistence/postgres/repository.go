// Package postgres implements the domain repositories on top of pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/movimentoterra/internal/domain"
	"example.com/movimentoterra/internal/events"
)

const foreignKeyViolation = "23503"

// ErrUnknownReference is returned when a row points at a site, vehicle or user that does not exist.
var ErrUnknownReference = errors.New("postgres: unknown reference")

// Repository provides Postgres-backed persistence for activities, the registry and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// inTx runs fn inside a transaction with the default isolation level.
func (r *Repository) inTx(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(tx); err != nil {
		return translate(err)
	}
	return tx.Commit(ctx)
}

// CreateActivity inserts the activity, its interactions and the created event in one transaction.
func (r *Repository) CreateActivity(ctx context.Context, activity *domain.Attivita) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		const insertActivity = `INSERT INTO attivita (date, user_id, is_checked, created_by, created_at, updated_by, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`

		if err := tx.QueryRow(ctx, insertActivity,
			activity.Date,
			activity.UserID,
			activity.IsChecked,
			activity.CreatedBy,
			activity.CreatedAt,
			activity.UpdatedBy,
			activity.UpdatedAt,
		).Scan(&activity.ID); err != nil {
			return err
		}

		for i := range activity.Interazioni {
			activity.Interazioni[i].AttivitaID = activity.ID
			if err := insertInteraction(ctx, tx, &activity.Interazioni[i]); err != nil {
				return err
			}
		}

		return r.insertOutbox(ctx, tx, events.TypeAttivitaCreated, *activity, activity.CreatedBy, activity.CreatedAt)
	})
}

func insertInteraction(ctx context.Context, tx pgx.Tx, in *domain.Interazione) error {
	const stmt = `INSERT INTO interazioni (attivita_id, cantiere_id, mezzo_id, ore, minuti, tempo_totale, created_by, created_at, updated_by, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`

	return tx.QueryRow(ctx, stmt,
		in.AttivitaID,
		in.CantiereID,
		in.MezzoID,
		in.Ore,
		in.Minuti,
		in.TempoTotale,
		in.CreatedBy,
		in.CreatedAt,
		in.UpdatedBy,
		in.UpdatedAt,
	).Scan(&in.ID)
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, eventType string, activity domain.Attivita, by string, at time.Time) error {
	body, err := json.Marshal(events.NewAttivitaChanged(activity, by, at))
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, partition_key, user_id, payload)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`

	_, err = tx.Exec(ctx, stmt,
		"attivita",
		activity.ID,
		eventType,
		events.TopicAttivita,
		strconv.FormatInt(activity.ID, 10),
		activity.UserID,
		body,
	)
	return err
}

const selectActivity = `SELECT a.id, a.date, a.user_id, COALESCE(u.name, ''), a.is_checked, a.created_by, a.created_at, a.updated_by, a.updated_at
        FROM attivita a LEFT JOIN users u ON u.id = a.user_id`

// GetActivity returns the activity with its interactions, or nil when missing.
func (r *Repository) GetActivity(ctx context.Context, id int64) (*domain.Attivita, error) {
	row := r.pool.QueryRow(ctx, selectActivity+` WHERE a.id = $1`, id)
	activity, err := scanActivity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	byParent, err := r.loadInteractions(ctx, r.pool, []int64{activity.ID})
	if err != nil {
		return nil, err
	}
	activity.Interazioni = byParent[activity.ID]
	return &activity, nil
}

// ListActivities returns activities matching the filter, newest first.
func (r *Repository) ListActivities(ctx context.Context, filter domain.ActivityFilter) ([]domain.Attivita, error) {
	query := selectActivity + ` WHERE TRUE`
	args := make([]interface{}, 0, 4)
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(` AND a.user_id = $%d`, len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += fmt.Sprintf(` AND a.date >= $%d`, len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += fmt.Sprintf(` AND a.date <= $%d`, len(args))
	}
	query += ` ORDER BY a.date DESC, a.id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.Attivita, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, activity)
		ids = append(ids, activity.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return results, nil
	}

	byParent, err := r.loadInteractions(ctx, r.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Interazioni = byParent[results[i].ID]
	}
	return results, nil
}

// UpdateActivity persists date, checked flag and update audit fields.
func (r *Repository) UpdateActivity(ctx context.Context, activity domain.Attivita) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if err := touchActivity(ctx, tx, activity, true); err != nil {
			return err
		}
		return r.insertChanged(ctx, tx, activity.ID, activity.UpdatedBy, activity.UpdatedAt)
	})
}

// DeleteActivity removes the activity; interactions cascade.
func (r *Repository) DeleteActivity(ctx context.Context, activity domain.Attivita) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		byParent, err := r.loadInteractions(ctx, tx, []int64{activity.ID})
		if err != nil {
			return err
		}
		activity.Interazioni = byParent[activity.ID]

		tag, err := tx.Exec(ctx, `DELETE FROM attivita WHERE id = $1`, activity.ID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		return r.insertOutbox(ctx, tx, events.TypeAttivitaDeleted, activity, activity.UpdatedBy, activity.UpdatedAt)
	})
}

// AddInteraction inserts the interaction and persists the parent's checked flag and audit fields.
func (r *Repository) AddInteraction(ctx context.Context, parent domain.Attivita, interaction *domain.Interazione) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		interaction.AttivitaID = parent.ID
		if err := insertInteraction(ctx, tx, interaction); err != nil {
			return err
		}
		if err := touchActivity(ctx, tx, parent, false); err != nil {
			return err
		}
		return r.insertChanged(ctx, tx, parent.ID, parent.UpdatedBy, parent.UpdatedAt)
	})
}

// GetInteraction returns one interaction, or nil when missing.
func (r *Repository) GetInteraction(ctx context.Context, id int64) (*domain.Interazione, error) {
	row := r.pool.QueryRow(ctx, selectInteraction+` WHERE id = $1`, id)
	in, err := scanInteraction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &in, nil
}

// DeleteInteraction removes the interaction and persists the parent's checked flag and audit fields.
func (r *Repository) DeleteInteraction(ctx context.Context, parent domain.Attivita, interactionID int64) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		// Concurrent removals on the same activity serialize on the parent row.
		var locked int64
		err := tx.QueryRow(ctx, `SELECT id FROM attivita WHERE id = $1 FOR UPDATE`, parent.ID).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		var remaining, matching int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*), COUNT(*) FILTER (WHERE id = $2) FROM interazioni WHERE attivita_id = $1`,
			parent.ID, interactionID).Scan(&remaining, &matching); err != nil {
			return err
		}
		if matching == 0 {
			return domain.ErrNotFound
		}
		if remaining <= 1 {
			return domain.ErrLastInteraction
		}

		if _, err := tx.Exec(ctx, `DELETE FROM interazioni WHERE id = $1 AND attivita_id = $2`, interactionID, parent.ID); err != nil {
			return err
		}
		if err := touchActivity(ctx, tx, parent, false); err != nil {
			return err
		}
		return r.insertChanged(ctx, tx, parent.ID, parent.UpdatedBy, parent.UpdatedAt)
	})
}

// insertChanged reloads the activity inside tx so the updated event carries its committed state.
func (r *Repository) insertChanged(ctx context.Context, tx pgx.Tx, id int64, by string, at time.Time) error {
	activity, err := scanActivity(tx.QueryRow(ctx, selectActivity+` WHERE a.id = $1`, id))
	if err != nil {
		return err
	}
	byParent, err := r.loadInteractions(ctx, tx, []int64{id})
	if err != nil {
		return err
	}
	activity.Interazioni = byParent[id]
	return r.insertOutbox(ctx, tx, events.TypeAttivitaUpdated, activity, by, at)
}

func touchActivity(ctx context.Context, tx pgx.Tx, activity domain.Attivita, withDate bool) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if withDate {
		tag, err = tx.Exec(ctx, `UPDATE attivita SET date = $2, is_checked = $3, updated_by = $4, updated_at = $5 WHERE id = $1`,
			activity.ID, activity.Date, activity.IsChecked, activity.UpdatedBy, activity.UpdatedAt)
	} else {
		tag, err = tx.Exec(ctx, `UPDATE attivita SET is_checked = $2, updated_by = $3, updated_at = $4 WHERE id = $1`,
			activity.ID, activity.IsChecked, activity.UpdatedBy, activity.UpdatedAt)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

const selectInteraction = `SELECT id, attivita_id, cantiere_id, mezzo_id, ore, minuti, tempo_totale, created_by, created_at, updated_by, updated_at
        FROM interazioni`

func (r *Repository) loadInteractions(ctx context.Context, q querier, ids []int64) (map[int64][]domain.Interazione, error) {
	rows, err := q.Query(ctx, selectInteraction+` WHERE attivita_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]domain.Interazione, len(ids))
	for rows.Next() {
		in, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		out[in.AttivitaID] = append(out[in.AttivitaID], in)
	}
	return out, rows.Err()
}

func scanActivity(row pgx.Row) (domain.Attivita, error) {
	var a domain.Attivita
	err := row.Scan(&a.ID, &a.Date, &a.UserID, &a.UserName, &a.IsChecked, &a.CreatedBy, &a.CreatedAt, &a.UpdatedBy, &a.UpdatedAt)
	a.Date = domain.CalendarDate(a.Date, time.UTC)
	a.Interazioni = []domain.Interazione{}
	return a, err
}

func scanInteraction(row pgx.Row) (domain.Interazione, error) {
	var in domain.Interazione
	err := row.Scan(&in.ID, &in.AttivitaID, &in.CantiereID, &in.MezzoID, &in.Ore, &in.Minuti, &in.TempoTotale, &in.CreatedBy, &in.CreatedAt, &in.UpdatedBy, &in.UpdatedAt)
	return in, err
}

// translate maps driver errors onto repository errors callers can match.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrUnknownReference)
	}
	return err
}
