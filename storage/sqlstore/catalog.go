package sqlstore

import (
	"context"
	"database/sql"

	"github.com/jrsteele09/cids/internal/errors"
	"github.com/jrsteele09/cids/permissions"
)

type CatalogRepo struct{ s *Store }

var _ permissions.Repo = (*CatalogRepo)(nil)

func (s *Store) Catalog() *CatalogRepo { return &CatalogRepo{s: s} }

// ReplacePermissions deletes and reinserts an app's catalog in one
// transaction; readers see the old or the new set, never a mix.
func (r *CatalogRepo) ReplacePermissions(ctx context.Context, appID string, rows []permissions.Discovered) error {
	return r.s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := r.s.exec(ctx, tx, `DELETE FROM discovered_permissions WHERE app_id = ?`, appID); err != nil {
			return errors.Wrapf(err, "clear catalog")
		}
		for _, d := range rows {
			if _, err := r.s.exec(ctx, tx, `
				INSERT INTO discovered_permissions (app_id, resource, action, field, category, sensitive)
				VALUES (?, ?, ?, ?, ?, ?)`,
				appID, d.Resource, d.Action, d.Field, string(d.Category), d.Sensitive); err != nil {
				return errors.Wrapf(err, "insert %s", d.String())
			}
		}
		return nil
	})
}

func (r *CatalogRepo) ListPermissions(ctx context.Context, appID string) ([]permissions.Discovered, error) {
	rows, err := r.s.query(ctx, r.s.db, `
		SELECT app_id, resource, action, field, category, sensitive FROM discovered_permissions
		WHERE app_id = ? ORDER BY resource, action, field`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]permissions.Discovered, 0)
	for rows.Next() {
		var (
			d        permissions.Discovered
			category string
		)
		if err := rows.Scan(&d.AppID, &d.Resource, &d.Action, &d.Field, &category, &d.Sensitive); err != nil {
			return nil, err
		}
		d.Category = permissions.Category(category)
		out = append(out, d)
	}
	return out, rows.Err()
}
