package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/jrsteele09/cids/apikeys"
	"github.com/jrsteele09/cids/internal/errors"
)

type APIKeyRepo struct{ s *Store }

var _ apikeys.Repo = (*APIKeyRepo)(nil)

func (s *Store) APIKeys() *APIKeyRepo { return &APIKeyRepo{s: s} }

const apiKeyColumns = `id, prefix, lookup_id, secret_hash, salt, owner_app_id, name, permissions, created_by,
	created_at, expires_at, is_active, last_used_at, usage_count, rotated_at, grace_deadline, revoked_at`

func (r *APIKeyRepo) Create(ctx context.Context, key *apikeys.APIKey, deactivateOthers bool) error {
	perms, err := encodeJSON(key.Permissions)
	if err != nil {
		return err
	}
	return r.s.inTx(ctx, func(tx *sql.Tx) error {
		if deactivateOthers {
			if _, err := r.s.exec(ctx, tx, `UPDATE api_keys SET is_active = FALSE WHERE owner_app_id = ? AND is_active = TRUE`, key.OwnerAppID); err != nil {
				return errors.Wrapf(err, "deactivate previous keys")
			}
		}
		_, err := r.s.exec(ctx, tx, `INSERT INTO api_keys (`+apiKeyColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			key.ID, key.Prefix, key.LookupID, key.SecretHash, key.Salt, key.OwnerAppID, key.Name, perms, key.CreatedBy,
			key.CreatedAt.UTC(), nullTime(key.ExpiresAt), key.IsActive, nullTime(key.LastUsedAt), key.UsageCount,
			nullTime(key.RotatedAt), nullTime(key.GraceDeadline), nullTime(key.RevokedAt))
		return err
	})
}

func (r *APIKeyRepo) Get(ctx context.Context, id string) (*apikeys.APIKey, error) {
	return scanAPIKey(r.s.queryRow(ctx, r.s.db, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ?`, id))
}

func (r *APIKeyRepo) FindByLookup(ctx context.Context, lookupID string) ([]*apikeys.APIKey, error) {
	return r.list(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE lookup_id = ?`, lookupID)
}

func (r *APIKeyRepo) ListByOwner(ctx context.Context, ownerAppID string) ([]*apikeys.APIKey, error) {
	return r.list(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE owner_app_id = ? ORDER BY created_at`, ownerAppID)
}

func (r *APIKeyRepo) ListDue(ctx context.Context, now time.Time) ([]*apikeys.APIKey, error) {
	now = now.UTC()
	return r.list(ctx, `SELECT `+apiKeyColumns+` FROM api_keys
		WHERE is_active = TRUE
		AND ((expires_at IS NOT NULL AND expires_at <= ?) OR (grace_deadline IS NOT NULL AND grace_deadline <= ?))`, now, now)
}

func (r *APIKeyRepo) Update(ctx context.Context, key *apikeys.APIKey) error {
	perms, err := encodeJSON(key.Permissions)
	if err != nil {
		return err
	}
	return affected(r.s.exec(ctx, r.s.db, `
		UPDATE api_keys SET
			name = ?, permissions = ?, expires_at = ?, is_active = ?, rotated_at = ?,
			grace_deadline = ?, revoked_at = ?
		WHERE id = ?`,
		key.Name, perms, nullTime(key.ExpiresAt), key.IsActive, nullTime(key.RotatedAt),
		nullTime(key.GraceDeadline), nullTime(key.RevokedAt), key.ID))
}

func (r *APIKeyRepo) RecordUsage(ctx context.Context, id string, at time.Time) error {
	return affected(r.s.exec(ctx, r.s.db,
		`UPDATE api_keys SET last_used_at = ?, usage_count = usage_count + 1 WHERE id = ?`, at.UTC(), id))
}

func (r *APIKeyRepo) list(ctx context.Context, query string, args ...any) ([]*apikeys.APIKey, error) {
	rows, err := r.s.query(ctx, r.s.db, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*apikeys.APIKey, 0)
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func scanAPIKey(row scanner) (*apikeys.APIKey, error) {
	var (
		k                                              apikeys.APIKey
		perms                                          string
		expires, lastUsed, rotated, grace, revokedTime sql.NullTime
	)
	err := row.Scan(&k.ID, &k.Prefix, &k.LookupID, &k.SecretHash, &k.Salt, &k.OwnerAppID, &k.Name, &perms, &k.CreatedBy,
		&k.CreatedAt, &expires, &k.IsActive, &lastUsed, &k.UsageCount, &rotated, &grace, &revokedTime)
	if err != nil {
		return nil, notFound(err)
	}
	if err := decodeJSON(perms, &k.Permissions); err != nil {
		return nil, err
	}
	k.CreatedAt = k.CreatedAt.UTC()
	k.ExpiresAt = timePtr(expires)
	k.LastUsedAt = timePtr(lastUsed)
	k.RotatedAt = timePtr(rotated)
	k.GraceDeadline = timePtr(grace)
	k.RevokedAt = timePtr(revokedTime)
	return &k, nil
}
