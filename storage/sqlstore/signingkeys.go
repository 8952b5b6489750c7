package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/jrsteele09/cids/token/keys"
)

type SigningKeyRepo struct{ s *Store }

var _ keys.Store = (*SigningKeyRepo)(nil)

func (s *Store) SigningKeys() *SigningKeyRepo { return &SigningKeyRepo{s: s} }

func (r *SigningKeyRepo) LoadSigningKeys(ctx context.Context) ([]keys.StoredKey, error) {
	rows, err := r.s.query(ctx, r.s.db, `SELECT kid, private_pem, created_at, retired_at FROM signing_keys ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]keys.StoredKey, 0)
	for rows.Next() {
		var (
			k       keys.StoredKey
			retired sql.NullTime
		)
		if err := rows.Scan(&k.KeyID, &k.PrivateKeyPEM, &k.CreatedAt, &retired); err != nil {
			return nil, err
		}
		k.CreatedAt = k.CreatedAt.UTC()
		k.RetiredAt = timePtr(retired)
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *SigningKeyRepo) SaveSigningKey(ctx context.Context, k keys.StoredKey) error {
	_, err := r.s.exec(ctx, r.s.db, `
		INSERT INTO signing_keys (kid, private_pem, created_at, retired_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (kid) DO UPDATE SET retired_at = excluded.retired_at`,
		k.KeyID, k.PrivateKeyPEM, k.CreatedAt.UTC(), nullTime(k.RetiredAt))
	return err
}

func (r *SigningKeyRepo) RetireSigningKey(ctx context.Context, keyID string, at time.Time) error {
	return affected(r.s.exec(ctx, r.s.db, `UPDATE signing_keys SET retired_at = ? WHERE kid = ?`, at.UTC(), keyID))
}

func (r *SigningKeyRepo) DeleteSigningKey(ctx context.Context, keyID string) error {
	_, err := r.s.exec(ctx, r.s.db, `DELETE FROM signing_keys WHERE kid = ?`, keyID)
	return err
}
