package sqlstore

import (
	"context"
	"strings"

	"github.com/jrsteele09/cids/audit"
)

type AuditRepo struct{ s *Store }

var _ audit.Repo = (*AuditRepo)(nil)

func (s *Store) Audit() *AuditRepo { return &AuditRepo{s: s} }

func (r *AuditRepo) Append(ctx context.Context, e audit.Entry) error {
	details, err := encodeJSON(e.Details)
	if err != nil {
		return err
	}
	_, err = r.s.exec(ctx, r.s.db, `
		INSERT INTO activity_log (id, at, actor, action, target, outcome, ip, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.At.UTC(), e.Actor, e.Action, e.Target, e.Outcome, e.IP, details)
	return err
}

// List returns newest entries first.
func (r *AuditRepo) List(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	var (
		where []string
		args  []any
	)
	if filter.Actor != "" {
		where = append(where, "actor = ?")
		args = append(args, filter.Actor)
	}
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, filter.Action)
	}
	query := `SELECT id, at, actor, action, target, outcome, ip, details FROM activity_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.s.query(ctx, r.s.db, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]audit.Entry, 0)
	for rows.Next() {
		var (
			e       audit.Entry
			details string
		)
		if err := rows.Scan(&e.ID, &e.At, &e.Actor, &e.Action, &e.Target, &e.Outcome, &e.IP, &details); err != nil {
			return nil, err
		}
		if err := decodeJSON(details, &e.Details); err != nil {
			return nil, err
		}
		e.At = e.At.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
