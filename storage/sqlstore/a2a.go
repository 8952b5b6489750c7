package sqlstore

import (
	"context"

	"github.com/jrsteele09/cids/a2a"
)

type A2ARepo struct{ s *Store }

var _ a2a.Repo = (*A2ARepo)(nil)

func (s *Store) A2A() *A2ARepo { return &A2ARepo{s: s} }

func (r *A2ARepo) Upsert(ctx context.Context, p *a2a.Permission) error {
	scopes, err := encodeJSON(p.AllowedScopes)
	if err != nil {
		return err
	}
	endpoints, err := encodeJSON(p.AllowedEndpoints)
	if err != nil {
		return err
	}
	_, err = r.s.exec(ctx, r.s.db, `
		INSERT INTO a2a_permissions (source_app_id, target_app_id, allowed_scopes, allowed_endpoints, max_token_duration)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (source_app_id, target_app_id) DO UPDATE SET
			allowed_scopes = excluded.allowed_scopes,
			allowed_endpoints = excluded.allowed_endpoints,
			max_token_duration = excluded.max_token_duration`,
		p.SourceAppID, p.TargetAppID, scopes, endpoints, p.MaxTokenDuration)
	return err
}

func (r *A2ARepo) Delete(ctx context.Context, sourceAppID, targetAppID string) error {
	_, err := r.s.exec(ctx, r.s.db,
		`DELETE FROM a2a_permissions WHERE source_app_id = ? AND target_app_id = ?`, sourceAppID, targetAppID)
	return err
}

func (r *A2ARepo) Get(ctx context.Context, sourceAppID, targetAppID string) (*a2a.Permission, error) {
	row := r.s.queryRow(ctx, r.s.db, `
		SELECT source_app_id, target_app_id, allowed_scopes, allowed_endpoints, max_token_duration
		FROM a2a_permissions WHERE source_app_id = ? AND target_app_id = ?`, sourceAppID, targetAppID)
	return scanA2A(row)
}

func (r *A2ARepo) ListBySource(ctx context.Context, sourceAppID string) ([]*a2a.Permission, error) {
	rows, err := r.s.query(ctx, r.s.db, `
		SELECT source_app_id, target_app_id, allowed_scopes, allowed_endpoints, max_token_duration
		FROM a2a_permissions WHERE source_app_id = ? ORDER BY target_app_id`, sourceAppID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*a2a.Permission, 0)
	for rows.Next() {
		p, err := scanA2A(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanA2A(row scanner) (*a2a.Permission, error) {
	var (
		p                 a2a.Permission
		scopes, endpoints string
	)
	if err := row.Scan(&p.SourceAppID, &p.TargetAppID, &scopes, &endpoints, &p.MaxTokenDuration); err != nil {
		return nil, notFound(err)
	}
	if err := decodeJSON(scopes, &p.AllowedScopes); err != nil {
		return nil, err
	}
	if err := decodeJSON(endpoints, &p.AllowedEndpoints); err != nil {
		return nil, err
	}
	return &p, nil
}
