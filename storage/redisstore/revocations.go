package redisstore

import (
	"context"
	"time"

	"github.com/jrsteele09/cids/internal/errors"
	"github.com/jrsteele09/cids/token"
)

const kindRevoked = "revoked"

type RevocationList struct{ s *Store }

var _ token.RevocationList = (*RevocationList)(nil)

func (s *Store) Revocations() *RevocationList { return &RevocationList{s: s} }

// Revoke keeps the id until exp, after which the token fails its own
// expiry check.
func (l *RevocationList) Revoke(ctx context.Context, jti string, exp time.Time) error {
	if err := l.s.client.SetNX(ctx, l.s.key(kindRevoked, jti), formatTime(exp), l.s.ttl(exp)).Err(); err != nil {
		return errors.Wrapf(err, "revoke %s", jti)
	}
	return nil
}

func (l *RevocationList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := l.s.client.Exists(ctx, l.s.key(kindRevoked, jti)).Result()
	if err != nil {
		return false, errors.Wrapf(err, "check revocation")
	}
	return n > 0, nil
}

func (l *RevocationList) Cleanup(context.Context) (int, error) {
	return 0, nil
}
