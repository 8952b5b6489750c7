package sqlstore

import (
	"context"

	"github.com/jrsteele09/cids/users"
)

type UserRepo struct{ s *Store }

var _ users.Repo = (*UserRepo)(nil)

func (s *Store) Users() *UserRepo { return &UserRepo{s: s} }

const userColumns = `id, email, name, department, tenant, groups_json, blocked, first_seen, last_login`

func (r *UserRepo) RecordLogin(ctx context.Context, u *users.User) (*users.User, error) {
	groups, err := encodeJSON(u.Groups)
	if err != nil {
		return nil, err
	}
	row := r.s.queryRow(ctx, r.s.db, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, FALSE, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			department = excluded.department,
			tenant = excluded.tenant,
			groups_json = excluded.groups_json,
			last_login = excluded.last_login
		RETURNING `+userColumns,
		u.ID, u.Email, u.Name, u.Department, u.Tenant, groups, u.FirstSeen.UTC(), u.LastLogin.UTC())
	return scanUser(row)
}

func (r *UserRepo) Get(ctx context.Context, id string) (*users.User, error) {
	return scanUser(r.s.queryRow(ctx, r.s.db, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*users.User, error) {
	return scanUser(r.s.queryRow(ctx, r.s.db,
		`SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER(?) ORDER BY last_login DESC LIMIT 1`, email))
}

func (r *UserRepo) List(ctx context.Context, offset, limit int) ([]*users.User, error) {
	clause, args := limitClause(offset, limit)
	rows, err := r.s.query(ctx, r.s.db, `SELECT `+userColumns+` FROM users ORDER BY id`+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*users.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *UserRepo) SetBlocked(ctx context.Context, id string, blocked bool) error {
	return affected(r.s.exec(ctx, r.s.db, `UPDATE users SET blocked = ? WHERE id = ?`, blocked, id))
}

func scanUser(row scanner) (*users.User, error) {
	var (
		u      users.User
		groups string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Department, &u.Tenant, &groups, &u.Blocked, &u.FirstSeen, &u.LastLogin); err != nil {
		return nil, notFound(err)
	}
	if err := decodeJSON(groups, &u.Groups); err != nil {
		return nil, err
	}
	u.FirstSeen = u.FirstSeen.UTC()
	u.LastLogin = u.LastLogin.UTC()
	return &u, nil
}
