package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/jrsteele09/cids/internal/errors"
	"github.com/jrsteele09/cids/token/refresh"
)

type RefreshRepo struct{ s *Store }

var _ refresh.Repo = (*RefreshRepo)(nil)

func (s *Store) Refresh() *RefreshRepo { return &RefreshRepo{s: s} }

const familyColumns = `f.id, f.status, f.current_hash, f.snapshot, f.created_at, f.rotated_at, f.expires_at, f.revoked_at, f.revoked_reason`

func (r *RefreshRepo) CreateFamily(ctx context.Context, family *refresh.Family, first *refresh.Record) error {
	snapshot, err := encodeJSON(family.Snapshot)
	if err != nil {
		return err
	}
	return r.s.inTx(ctx, func(tx *sql.Tx) error {
		err := affected(r.s.exec(ctx, tx, `
			INSERT INTO refresh_families (id, status, current_hash, snapshot, created_at, rotated_at, expires_at, revoked_at, revoked_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`,
			family.ID, string(family.Status), family.CurrentHash, snapshot, family.CreatedAt.UTC(),
			family.RotatedAt.UTC(), family.ExpiresAt.UTC(), nullTime(family.RevokedAt), family.RevokedReason))
		if errors.Is(err, errors.ErrNotFound) {
			return errors.ErrAlreadyExists
		}
		if err != nil {
			return err
		}
		return r.insertToken(ctx, tx, first)
	})
}

func (r *RefreshRepo) insertToken(ctx context.Context, q execer, rec *refresh.Record) error {
	_, err := r.s.exec(ctx, q, `
		INSERT INTO refresh_tokens (token_hash, family_id, issued_at, expires_at) VALUES (?, ?, ?, ?)`,
		rec.TokenHash, rec.FamilyID, rec.IssuedAt.UTC(), rec.ExpiresAt.UTC())
	return err
}

func (r *RefreshRepo) GetByHash(ctx context.Context, tokenHash string) (*refresh.Record, *refresh.Family, error) {
	row := r.s.queryRow(ctx, r.s.db, `
		SELECT t.token_hash, t.family_id, t.issued_at, t.expires_at, `+familyColumns+`
		FROM refresh_tokens t JOIN refresh_families f ON f.id = t.family_id
		WHERE t.token_hash = ?`, tokenHash)

	var rec refresh.Record
	fam, err := scanFamily(row, &rec.TokenHash, &rec.FamilyID, &rec.IssuedAt, &rec.ExpiresAt)
	if err != nil {
		return nil, nil, err
	}
	rec.IssuedAt = rec.IssuedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	return &rec, fam, nil
}

func (r *RefreshRepo) GetFamily(ctx context.Context, familyID string) (*refresh.Family, error) {
	return scanFamily(r.s.queryRow(ctx, r.s.db, `SELECT `+familyColumns+` FROM refresh_families f WHERE f.id = ?`, familyID))
}

// Rotate is a compare-and-swap on current_hash. A single conditional UPDATE
// decides the winner when two redemptions of the same token race.
func (r *RefreshRepo) Rotate(ctx context.Context, familyID, expectedHash string, next *refresh.Record) error {
	return r.s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := r.s.exec(ctx, tx, `
			UPDATE refresh_families SET current_hash = ?, rotated_at = ?, expires_at = ?
			WHERE id = ? AND status = ? AND current_hash = ?`,
			next.TokenHash, next.IssuedAt.UTC(), next.ExpiresAt.UTC(), familyID, string(refresh.FamilyActive), expectedHash)
		if err := affected(res, err); err != nil {
			if !errors.Is(err, errors.ErrNotFound) {
				return err
			}
			var n int
			if err := r.s.queryRow(ctx, tx, `SELECT COUNT(*) FROM refresh_families WHERE id = ?`, familyID).Scan(&n); err != nil {
				return err
			}
			if n == 0 {
				return errors.ErrNotFound
			}
			return refresh.ErrRotationConflict
		}
		return r.insertToken(ctx, tx, next)
	})
}

// RevokeFamily is a no-op for a family that is already revoked.
func (r *RefreshRepo) RevokeFamily(ctx context.Context, familyID, reason string, at time.Time) error {
	res, err := r.s.exec(ctx, r.s.db, `
		UPDATE refresh_families SET status = ?, revoked_at = ?, revoked_reason = ?
		WHERE id = ? AND status = ?`,
		string(refresh.FamilyRevoked), at.UTC(), reason, familyID, string(refresh.FamilyActive))
	if err := affected(res, err); err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			return err
		}
		_, err := r.GetFamily(ctx, familyID)
		return err
	}
	return nil
}

func (r *RefreshRepo) DeleteToken(ctx context.Context, tokenHash string) error {
	_, err := r.s.exec(ctx, r.s.db, `DELETE FROM refresh_tokens WHERE token_hash = ?`, tokenHash)
	return err
}

// DeleteExpired removes expired families and their tokens and reports the
// number of tokens removed. Superseded tokens are kept while their family
// lives so that a late replay is still recognised.
func (r *RefreshRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	var removed int64
	err := r.s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := r.s.exec(ctx, tx, `
			DELETE FROM refresh_tokens
			WHERE expires_at <= ?
			  AND NOT EXISTS (
				SELECT 1 FROM refresh_families f
				WHERE f.id = refresh_tokens.family_id AND f.expires_at > ?)`, now.UTC(), now.UTC())
		if err != nil {
			return err
		}
		if removed, err = res.RowsAffected(); err != nil {
			return err
		}
		_, err = r.s.exec(ctx, tx, `DELETE FROM refresh_families WHERE expires_at <= ?`, now.UTC())
		return err
	})
	return int(removed), err
}

// scanFamily scans the family columns, preceded by any extra destinations.
func scanFamily(row scanner, extra ...any) (*refresh.Family, error) {
	var (
		fam      refresh.Family
		status   string
		snapshot string
		revoked  sql.NullTime
	)
	dest := append(extra, &fam.ID, &status, &fam.CurrentHash, &snapshot, &fam.CreatedAt,
		&fam.RotatedAt, &fam.ExpiresAt, &revoked, &fam.RevokedReason)
	if err := row.Scan(dest...); err != nil {
		return nil, notFound(err)
	}
	if err := decodeJSON(snapshot, &fam.Snapshot); err != nil {
		return nil, err
	}
	fam.Status = refresh.FamilyStatus(status)
	fam.CreatedAt = fam.CreatedAt.UTC()
	fam.RotatedAt = fam.RotatedAt.UTC()
	fam.ExpiresAt = fam.ExpiresAt.UTC()
	fam.RevokedAt = timePtr(revoked)
	return &fam, nil
}
