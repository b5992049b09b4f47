package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/movimentoterra/internal/domain"
)

// ListCantieri returns every site, or only those assigned to userID, with their assigned users.
func (r *Repository) ListCantieri(ctx context.Context, userID string) ([]domain.Cantiere, error) {
	query := `SELECT c.id, c.nome, c.descrizione, c.open, c.closed_at,
            COALESCE(c.created_by, ''), c.created_at, COALESCE(c.updated_by, ''), c.updated_at
        FROM cantieri c`
	args := []interface{}{}
	if userID != "" {
		query += ` WHERE EXISTS (SELECT 1 FROM user_cantieri uc WHERE uc.cantiere_id = c.id AND uc.user_id = $1)`
		args = append(args, userID)
	}
	query += ` ORDER BY c.nome, c.id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	sites, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Cantiere, error) {
		var c domain.Cantiere
		err := row.Scan(&c.ID, &c.Nome, &c.Descrizione, &c.Open, &c.ClosedAt, &c.CreatedBy, &c.CreatedAt, &c.UpdatedBy, &c.UpdatedAt)
		return c, err
	})
	if err != nil {
		return nil, err
	}

	refs, err := r.userRefs(ctx, `SELECT uc.cantiere_id, u.id, u.name FROM user_cantieri uc JOIN users u ON u.id = uc.user_id ORDER BY u.id`)
	if err != nil {
		return nil, err
	}
	for i := range sites {
		sites[i].Users = nonNil(refs[sites[i].ID])
	}
	return sites, nil
}

// SetCantiereStatus opens or closes a site.
func (r *Repository) SetCantiereStatus(ctx context.Context, id int64, open bool, closedAt *time.Time, by string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE cantieri SET open = $2, closed_at = $3, updated_by = $4, updated_at = $5 WHERE id = $1`,
		id, open, closedAt, by, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListMezzi returns every vehicle, or only those assigned to userID, with their assigned users.
func (r *Repository) ListMezzi(ctx context.Context, userID string) ([]domain.Mezzo, error) {
	query := `SELECT m.id, m.nome, m.descrizione, m.requires_license_c, m.requires_license_ce,
            COALESCE(m.created_by, ''), m.created_at, COALESCE(m.updated_by, ''), m.updated_at
        FROM mezzi m`
	args := []interface{}{}
	if userID != "" {
		query += ` WHERE EXISTS (SELECT 1 FROM user_mezzi um WHERE um.mezzo_id = m.id AND um.user_id = $1)`
		args = append(args, userID)
	}
	query += ` ORDER BY m.nome, m.id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	vehicles, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Mezzo, error) {
		var m domain.Mezzo
		err := row.Scan(&m.ID, &m.Nome, &m.Descrizione, &m.RequiresLicenseC, &m.RequiresLicenseCE, &m.CreatedBy, &m.CreatedAt, &m.UpdatedBy, &m.UpdatedAt)
		return m, err
	})
	if err != nil {
		return nil, err
	}

	refs, err := r.userRefs(ctx, `SELECT um.mezzo_id, u.id, u.name FROM user_mezzi um JOIN users u ON u.id = um.user_id ORDER BY u.id`)
	if err != nil {
		return nil, err
	}
	for i := range vehicles {
		vehicles[i].Users = nonNil(refs[vehicles[i].ID])
	}
	return vehicles, nil
}

// ListAttrezzature returns every piece of equipment.
func (r *Repository) ListAttrezzature(ctx context.Context) ([]domain.Attrezzatura, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, nome, descrizione, cantiere_id,
            COALESCE(created_by, ''), created_at, COALESCE(updated_by, ''), updated_at
        FROM attrezzature ORDER BY nome, id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Attrezzatura, error) {
		var a domain.Attrezzatura
		err := row.Scan(&a.ID, &a.Nome, &a.Descrizione, &a.CantiereID, &a.CreatedBy, &a.CreatedAt, &a.UpdatedBy, &a.UpdatedAt)
		return a, err
	})
}

// ListTrasporti returns transports dated inside [from, to]; zero bounds are open.
func (r *Repository) ListTrasporti(ctx context.Context, from, to time.Time) ([]domain.Trasporto, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, mezzo_id, attrezzatura_id, from_cantiere_id, to_cantiere_id, date, user_id,
            COALESCE(created_by, ''), created_at, COALESCE(updated_by, ''), updated_at
        FROM trasporti
        WHERE ($1::date IS NULL OR date >= $1) AND ($2::date IS NULL OR date <= $2)
        ORDER BY date DESC, id DESC`, optionalDate(from), optionalDate(to))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Trasporto, error) {
		var t domain.Trasporto
		err := row.Scan(&t.ID, &t.MezzoID, &t.AttrezzaturaID, &t.FromCantiereID, &t.ToCantiereID, &t.Date, &t.UserID, &t.CreatedBy, &t.CreatedAt, &t.UpdatedBy, &t.UpdatedAt)
		t.Date = domain.CalendarDate(t.Date, time.UTC)
		return t, err
	})
}

// AssignCantiere links a user to a site; an existing link is left untouched.
func (r *Repository) AssignCantiere(ctx context.Context, userID string, cantiereID int64, by string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO user_cantieri (user_id, cantiere_id, created_by, created_at)
        VALUES ($1,$2,$3,$4) ON CONFLICT (user_id, cantiere_id) DO NOTHING`, userID, cantiereID, by, at)
	return missingOnFK(err)
}

// UnassignCantiere removes a user from a site.
func (r *Repository) UnassignCantiere(ctx context.Context, userID string, cantiereID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_cantieri WHERE user_id = $1 AND cantiere_id = $2`, userID, cantiereID)
	return err
}

// AssignMezzo links a user to a vehicle; an existing link is left untouched.
func (r *Repository) AssignMezzo(ctx context.Context, userID string, mezzoID int64, by string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO user_mezzi (user_id, mezzo_id, created_by, created_at)
        VALUES ($1,$2,$3,$4) ON CONFLICT (user_id, mezzo_id) DO NOTHING`, userID, mezzoID, by, at)
	return missingOnFK(err)
}

// UnassignMezzo removes a user from a vehicle.
func (r *Repository) UnassignMezzo(ctx context.Context, userID string, mezzoID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_mezzi WHERE user_id = $1 AND mezzo_id = $2`, userID, mezzoID)
	return err
}

const selectUser = `SELECT id, name, email, role, banned, COALESCE(ban_reason, ''), license_b, license_c, license_ce, COALESCE(phone, ''), created_at
        FROM users`

// ListUsers returns the user directory ordered by name.
func (r *Repository) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.pool.Query(ctx, selectUser+` ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.User, error) {
		return scanUser(row)
	})
}

// GetUser returns one user, or nil when missing.
func (r *Repository) GetUser(ctx context.Context, id string) (*domain.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, selectUser+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Banned, &u.BanReason, &u.LicenseB, &u.LicenseC, &u.LicenseCE, &u.Phone, &u.CreatedAt)
	return u, err
}

func (r *Repository) userRefs(ctx context.Context, query string) (map[int64][]domain.UserRef, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]domain.UserRef)
	for rows.Next() {
		var (
			id  int64
			ref domain.UserRef
		)
		if err := rows.Scan(&id, &ref.ID, &ref.Name); err != nil {
			return nil, err
		}
		out[id] = append(out[id], ref)
	}
	return out, rows.Err()
}

func nonNil(refs []domain.UserRef) []domain.UserRef {
	if refs == nil {
		return []domain.UserRef{}
	}
	return refs
}

func optionalDate(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func missingOnFK(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(translate(err), ErrUnknownReference) {
		return domain.ErrNotFound
	}
	return err
}
