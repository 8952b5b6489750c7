package sqlstore

import (
	"context"
	"time"

	"github.com/jrsteele09/cids/token"
)

type RevocationRepo struct{ s *Store }

var _ token.RevocationList = (*RevocationRepo)(nil)

func (s *Store) Revocations() *RevocationRepo { return &RevocationRepo{s: s} }

func (r *RevocationRepo) Revoke(ctx context.Context, jti string, exp time.Time) error {
	_, err := r.s.exec(ctx, r.s.db, `
		INSERT INTO revoked_tokens (jti, expires_at) VALUES (?, ?)
		ON CONFLICT (jti) DO NOTHING`, jti, exp.UTC())
	return err
}

func (r *RevocationRepo) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var n int
	err := r.s.queryRow(ctx, r.s.db, `SELECT COUNT(*) FROM revoked_tokens WHERE jti = ?`, jti).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Cleanup drops entries whose token has expired anyway.
func (r *RevocationRepo) Cleanup(ctx context.Context) (int, error) {
	res, err := r.s.exec(ctx, r.s.db, `DELETE FROM revoked_tokens WHERE expires_at <= ?`, r.s.now().UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
