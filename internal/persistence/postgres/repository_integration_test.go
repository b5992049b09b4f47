//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"example.com/movimentoterra/internal/domain"
	"example.com/movimentoterra/internal/events"
	"example.com/movimentoterra/internal/testsupport"
)

func TestRepositoryCreatesActivitiesAtomically(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	repo := NewRepository(pool)

	seedRegistry(t, ctx, pool)
	nord, sud := siteID(t, ctx, pool, "Cantiere Nord"), siteID(t, ctx, pool, "Cantiere Sud")

	now := time.Now().UTC().Truncate(time.Microsecond)
	audit := domain.Audit{CreatedBy: "operaio", CreatedAt: now, UpdatedBy: "operaio", UpdatedAt: now}
	activity := &domain.Attivita{
		Date:   time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC),
		UserID: "operaio",
		Audit:  audit,
		Interazioni: []domain.Interazione{
			{CantiereID: nord, Ore: 1, Minuti: 30, TempoTotale: domain.ComputeTempoTotale(1, 30), Audit: audit},
			{CantiereID: sud, Ore: 0, Minuti: 45, TempoTotale: domain.ComputeTempoTotale(0, 45), Audit: audit},
		},
	}
	require.NoError(t, repo.CreateActivity(ctx, activity))
	require.NotZero(t, activity.ID)
	require.NotZero(t, activity.Interazioni[1].ID)

	stored, err := repo.GetActivity(ctx, activity.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, "Mario Rossi", stored.UserName)
	require.Equal(t, "2025-06-10", domain.FormatDate(stored.Date))
	require.Len(t, stored.Interazioni, 2)
	require.Equal(t, int64(5_400_000), stored.Interazioni[0].TempoTotale)
	require.Equal(t, int64(2_700_000), stored.Interazioni[1].TempoTotale)
	require.Equal(t, 1, countRows(t, ctx, pool, `SELECT COUNT(*) FROM outbox WHERE event_type = '`+events.TypeAttivitaCreated+`'`))

	broken := &domain.Attivita{
		Date:   activity.Date,
		UserID: "operaio",
		Audit:  audit,
		Interazioni: []domain.Interazione{
			{CantiereID: nord, Ore: 1, TempoTotale: domain.ComputeTempoTotale(1, 0), Audit: audit},
			{CantiereID: 999999, Ore: 1, TempoTotale: domain.ComputeTempoTotale(1, 0), Audit: audit},
		},
	}
	err = repo.CreateActivity(ctx, broken)
	require.ErrorIs(t, err, ErrUnknownReference)
	require.Equal(t, 1, countRows(t, ctx, pool, `SELECT COUNT(*) FROM attivita`))
	require.Equal(t, 2, countRows(t, ctx, pool, `SELECT COUNT(*) FROM interazioni`))
	require.Equal(t, 1, countRows(t, ctx, pool, `SELECT COUNT(*) FROM outbox`))
}

func TestRepositoryMutationsWriteOutboxEvents(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	repo := NewRepository(pool)

	seedRegistry(t, ctx, pool)
	nord := siteID(t, ctx, pool, "Cantiere Nord")

	now := time.Now().UTC().Truncate(time.Microsecond)
	audit := domain.Audit{CreatedBy: "operaio", CreatedAt: now, UpdatedBy: "operaio", UpdatedAt: now}
	activity := &domain.Attivita{
		Date:        time.Date(2025, time.June, 9, 0, 0, 0, 0, time.UTC),
		UserID:      "operaio",
		Audit:       audit,
		Interazioni: []domain.Interazione{{CantiereID: nord, Ore: 2, TempoTotale: domain.ComputeTempoTotale(2, 0), Audit: audit}},
	}
	require.NoError(t, repo.CreateActivity(ctx, activity))

	added := &domain.Interazione{CantiereID: nord, Minuti: 10, TempoTotale: domain.ComputeTempoTotale(0, 10), Audit: audit}
	require.NoError(t, repo.AddInteraction(ctx, *activity, added))

	list, err := repo.ListActivities(ctx, domain.ActivityFilter{UserID: "operaio", From: activity.Date, To: activity.Date})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Len(t, list[0].Interazioni, 2)

	require.NoError(t, repo.DeleteInteraction(ctx, *activity, added.ID))
	require.ErrorIs(t, repo.DeleteInteraction(ctx, *activity, added.ID), domain.ErrNotFound)

	activity.IsChecked = true
	require.NoError(t, repo.UpdateActivity(ctx, *activity))
	require.NoError(t, repo.DeleteActivity(ctx, *activity))

	require.Equal(t, 0, countRows(t, ctx, pool, `SELECT COUNT(*) FROM interazioni`))
	require.Equal(t, 3, countRows(t, ctx, pool, `SELECT COUNT(*) FROM outbox WHERE event_type = '`+events.TypeAttivitaUpdated+`'`))
	require.Equal(t, 1, countRows(t, ctx, pool, `SELECT COUNT(*) FROM outbox WHERE event_type = '`+events.TypeAttivitaDeleted+`'`))
}

func TestRepositoryConcurrentDeletesKeepLastInteraction(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	repo := NewRepository(pool)

	seedRegistry(t, ctx, pool)
	nord, sud := siteID(t, ctx, pool, "Cantiere Nord"), siteID(t, ctx, pool, "Cantiere Sud")

	now := time.Now().UTC().Truncate(time.Microsecond)
	audit := domain.Audit{CreatedBy: "operaio", CreatedAt: now, UpdatedBy: "operaio", UpdatedAt: now}
	activity := &domain.Attivita{
		Date:   time.Date(2025, time.June, 9, 0, 0, 0, 0, time.UTC),
		UserID: "operaio",
		Audit:  audit,
		Interazioni: []domain.Interazione{
			{CantiereID: nord, Ore: 1, TempoTotale: domain.ComputeTempoTotale(1, 0), Audit: audit},
			{CantiereID: sud, Ore: 2, TempoTotale: domain.ComputeTempoTotale(2, 0), Audit: audit},
		},
	}
	require.NoError(t, repo.CreateActivity(ctx, activity))

	errs := make([]error, len(activity.Interazioni))
	var wg sync.WaitGroup
	for i, in := range activity.Interazioni {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			errs[i] = repo.DeleteInteraction(ctx, *activity, id)
		}(i, in.ID)
	}
	wg.Wait()

	var refused int
	for _, err := range errs {
		if err != nil {
			require.True(t, errors.Is(err, domain.ErrLastInteraction), "unexpected error: %v", err)
			refused++
		}
	}
	require.Equal(t, 1, refused)
	require.Equal(t, 1, countRows(t, ctx, pool, `SELECT COUNT(*) FROM interazioni`))
	require.Equal(t, 1, countRows(t, ctx, pool, `SELECT COUNT(*) FROM outbox WHERE event_type = '`+events.TypeAttivitaUpdated+`'`))
}

func TestRepositoryAssignmentsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	repo := NewRepository(pool)

	seedRegistry(t, ctx, pool)
	nord := siteID(t, ctx, pool, "Cantiere Nord")
	now := time.Now().UTC()

	require.NoError(t, repo.AssignCantiere(ctx, "operaio", nord, "admin", now))
	require.NoError(t, repo.AssignCantiere(ctx, "operaio", nord, "admin", now))
	require.ErrorIs(t, repo.AssignCantiere(ctx, "nessuno", nord, "admin", now), domain.ErrNotFound)

	sites, err := repo.ListCantieri(ctx, "operaio")
	require.NoError(t, err)
	require.Len(t, sites, 1)
	require.Equal(t, []domain.UserRef{{ID: "operaio", Name: "Mario Rossi"}}, sites[0].Users)

	require.NoError(t, repo.SetCantiereStatus(ctx, nord, false, &now, "admin", now))
	sites, err = repo.ListCantieri(ctx, "")
	require.NoError(t, err)
	require.Len(t, sites, 2)
	require.False(t, sites[0].Open)
	require.NotNil(t, sites[0].ClosedAt)

	require.NoError(t, repo.UnassignCantiere(ctx, "operaio", nord))
	require.NoError(t, repo.UnassignCantiere(ctx, "operaio", nord))
	sites, err = repo.ListCantieri(ctx, "operaio")
	require.NoError(t, err)
	require.Empty(t, sites)

	users, err := repo.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	user, err := repo.GetUser(ctx, "nessuno")
	require.NoError(t, err)
	require.Nil(t, user)
}

func startDatabase(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()
	return testsupport.StartPostgres(ctx, t)
}

func seedRegistry(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(ctx, `INSERT INTO users (id, name, email, role) VALUES
        ('admin', 'Amministratore', 'admin@example.com', 'admin'),
        ('operaio', 'Mario Rossi', 'mario.rossi@example.com', 'user')`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO cantieri (nome) VALUES ('Cantiere Nord'), ('Cantiere Sud')`)
	require.NoError(t, err)
}

func siteID(t *testing.T, ctx context.Context, pool *pgxpool.Pool, nome string) int64 {
	t.Helper()
	var id int64
	require.NoError(t, pool.QueryRow(ctx, `SELECT id FROM cantieri WHERE nome = $1`, nome).Scan(&id))
	return id
}

func countRows(t *testing.T, ctx context.Context, pool *pgxpool.Pool, query string) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(ctx, query).Scan(&n))
	return n
}
