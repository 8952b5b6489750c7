package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/jrsteele09/cids/clients"
)

type ClientRepo struct{ s *Store }

var _ clients.Repo = (*ClientRepo)(nil)

func (s *Store) Clients() *ClientRepo { return &ClientRepo{s: s} }

const clientColumns = `id, name, description, owner_email, redirect_uris, is_active, discovery_endpoint,
	allow_discovery, last_discovery_at, last_discovery_status, last_discovery_error, created_at`

func (r *ClientRepo) Upsert(ctx context.Context, c *clients.Client) error {
	uris, err := encodeJSON(c.RedirectURIs)
	if err != nil {
		return err
	}
	created := c.CreatedAt
	if created.IsZero() {
		created = r.s.now()
	}
	_, err = r.s.exec(ctx, r.s.db, `
		INSERT INTO registered_apps (`+clientColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			owner_email = excluded.owner_email,
			redirect_uris = excluded.redirect_uris,
			is_active = excluded.is_active,
			discovery_endpoint = excluded.discovery_endpoint,
			allow_discovery = excluded.allow_discovery`,
		c.ID, c.Name, c.Description, c.OwnerEmail, uris, c.IsActive, c.DiscoveryEndpoint,
		c.AllowDiscovery, nullTime(c.LastDiscoveryAt), string(c.LastDiscoveryStatus), c.LastDiscoveryError, created.UTC())
	return err
}

func (r *ClientRepo) Delete(ctx context.Context, clientID string) error {
	_, err := r.s.exec(ctx, r.s.db, `DELETE FROM registered_apps WHERE id = ?`, clientID)
	return err
}

func (r *ClientRepo) Get(ctx context.Context, clientID string) (*clients.Client, error) {
	row := r.s.queryRow(ctx, r.s.db, `SELECT `+clientColumns+` FROM registered_apps WHERE id = ?`, clientID)
	return scanClient(row)
}

func (r *ClientRepo) List(ctx context.Context, offset, limit int) ([]*clients.Client, error) {
	clause, args := limitClause(offset, limit)
	rows, err := r.s.query(ctx, r.s.db, `SELECT `+clientColumns+` FROM registered_apps ORDER BY id`+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*clients.Client, 0)
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *ClientRepo) RecordDiscovery(ctx context.Context, clientID string, status clients.DiscoveryStatus, at time.Time, errMsg string) error {
	return affected(r.s.exec(ctx, r.s.db, `
		UPDATE registered_apps
		SET last_discovery_at = ?, last_discovery_status = ?, last_discovery_error = ?
		WHERE id = ?`, at.UTC(), string(status), errMsg, clientID))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClient(row scanner) (*clients.Client, error) {
	var (
		c       clients.Client
		uris    string
		status  string
		lastRun sql.NullTime
	)
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.OwnerEmail, &uris, &c.IsActive, &c.DiscoveryEndpoint,
		&c.AllowDiscovery, &lastRun, &status, &c.LastDiscoveryError, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if err := decodeJSON(uris, &c.RedirectURIs); err != nil {
		return nil, err
	}
	c.LastDiscoveryAt = timePtr(lastRun)
	c.LastDiscoveryStatus = clients.DiscoveryStatus(status)
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}
