package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jrsteele09/cids/internal/errors"
	"github.com/jrsteele09/cids/token/refresh"
)

const (
	kindFamily = "refresh:family"
	kindToken  = "refresh:token"
)

type RefreshRepo struct{ s *Store }

var _ refresh.Repo = (*RefreshRepo)(nil)

func (s *Store) Refresh() *RefreshRepo { return &RefreshRepo{s: s} }

// Families are hashes so the scripts below can compare and set single
// fields. Scripts return -1 for a missing family.
var createFamilyScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1],
	'id', ARGV[1], 'status', ARGV[2], 'current_hash', ARGV[3], 'snapshot', ARGV[4],
	'created_at', ARGV[5], 'rotated_at', ARGV[6], 'expires_at', ARGV[7],
	'revoked_at', '', 'revoked_reason', '')
redis.call('PEXPIRE', KEYS[1], ARGV[8])
redis.call('SET', KEYS[2], ARGV[9], 'PX', ARGV[10])
return 1
`)

var rotateScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
	return -1
end
if status ~= 'active' or redis.call('HGET', KEYS[1], 'current_hash') ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'current_hash', ARGV[2], 'rotated_at', ARGV[3], 'expires_at', ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
redis.call('SET', KEYS[2], ARGV[6], 'PX', ARGV[5])
-- the superseded token lives as long as its family so a late replay is still seen
if redis.call('EXISTS', KEYS[3]) == 1 then
	redis.call('PEXPIRE', KEYS[3], ARGV[5])
end
return 1
`)

var revokeScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
	return -1
end
if status ~= 'active' then
	return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'revoked_at', ARGV[2], 'revoked_reason', ARGV[3])
return 1
`)

type storedRecord struct {
	FamilyID  string    `json:"family_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r *RefreshRepo) CreateFamily(ctx context.Context, family *refresh.Family, first *refresh.Record) error {
	snapshot, err := json.Marshal(family.Snapshot)
	if err != nil {
		return errors.Wrapf(err, "encode snapshot")
	}
	rec, err := encodeRecord(first)
	if err != nil {
		return err
	}
	res, err := createFamilyScript.Run(ctx, r.s.client,
		[]string{r.s.key(kindFamily, family.ID), r.s.key(kindToken, first.TokenHash)},
		family.ID, string(family.Status), family.CurrentHash, string(snapshot),
		formatTime(family.CreatedAt), formatTime(family.RotatedAt), formatTime(family.ExpiresAt),
		r.s.ttl(family.ExpiresAt).Milliseconds(), rec, r.s.ttl(first.ExpiresAt).Milliseconds(),
	).Int()
	if err != nil {
		return errors.Wrapf(err, "create refresh family")
	}
	if res == 0 {
		return errors.ErrAlreadyExists
	}
	return nil
}

func (r *RefreshRepo) GetByHash(ctx context.Context, tokenHash string) (*refresh.Record, *refresh.Family, error) {
	raw, err := r.s.client.Get(ctx, r.s.key(kindToken, tokenHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, nil, errors.Wrapf(err, "get refresh token")
	}
	var stored storedRecord
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, nil, errors.Wrapf(err, "decode refresh token")
	}
	fam, err := r.GetFamily(ctx, stored.FamilyID)
	if err != nil {
		return nil, nil, err
	}
	return &refresh.Record{
		TokenHash: tokenHash,
		FamilyID:  stored.FamilyID,
		IssuedAt:  stored.IssuedAt.UTC(),
		ExpiresAt: stored.ExpiresAt.UTC(),
	}, fam, nil
}

func (r *RefreshRepo) GetFamily(ctx context.Context, familyID string) (*refresh.Family, error) {
	fields, err := r.s.client.HGetAll(ctx, r.s.key(kindFamily, familyID)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "get refresh family")
	}
	if len(fields) == 0 {
		return nil, errors.ErrNotFound
	}
	return decodeFamily(fields)
}

func (r *RefreshRepo) Rotate(ctx context.Context, familyID, expectedHash string, next *refresh.Record) error {
	rec, err := encodeRecord(next)
	if err != nil {
		return err
	}
	res, err := rotateScript.Run(ctx, r.s.client,
		[]string{r.s.key(kindFamily, familyID), r.s.key(kindToken, next.TokenHash), r.s.key(kindToken, expectedHash)},
		expectedHash, next.TokenHash, formatTime(next.IssuedAt), formatTime(next.ExpiresAt),
		r.s.ttl(next.ExpiresAt).Milliseconds(), rec,
	).Int()
	if err != nil {
		return errors.Wrapf(err, "rotate refresh family")
	}
	switch res {
	case -1:
		return errors.ErrNotFound
	case 0:
		return refresh.ErrRotationConflict
	}
	return nil
}

func (r *RefreshRepo) RevokeFamily(ctx context.Context, familyID, reason string, at time.Time) error {
	res, err := revokeScript.Run(ctx, r.s.client, []string{r.s.key(kindFamily, familyID)},
		string(refresh.FamilyRevoked), formatTime(at), reason).Int()
	if err != nil {
		return errors.Wrapf(err, "revoke refresh family")
	}
	if res == -1 {
		return errors.ErrNotFound
	}
	return nil
}

func (r *RefreshRepo) DeleteToken(ctx context.Context, tokenHash string) error {
	return r.s.client.Del(ctx, r.s.key(kindToken, tokenHash)).Err()
}

// DeleteExpired is a no-op; Redis expires tokens and families by TTL.
func (r *RefreshRepo) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

func encodeRecord(rec *refresh.Record) (string, error) {
	b, err := json.Marshal(storedRecord{FamilyID: rec.FamilyID, IssuedAt: rec.IssuedAt.UTC(), ExpiresAt: rec.ExpiresAt.UTC()})
	if err != nil {
		return "", errors.Wrapf(err, "encode refresh token")
	}
	return string(b), nil
}

func decodeFamily(fields map[string]string) (*refresh.Family, error) {
	fam := &refresh.Family{
		ID:            fields["id"],
		Status:        refresh.FamilyStatus(fields["status"]),
		CurrentHash:   fields["current_hash"],
		RevokedReason: fields["revoked_reason"],
	}
	if err := json.Unmarshal([]byte(fields["snapshot"]), &fam.Snapshot); err != nil {
		return nil, errors.Wrapf(err, "decode snapshot")
	}
	var err error
	if fam.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return nil, err
	}
	if fam.RotatedAt, err = parseTime(fields["rotated_at"]); err != nil {
		return nil, err
	}
	if fam.ExpiresAt, err = parseTime(fields["expires_at"]); err != nil {
		return nil, err
	}
	if v := fields["revoked_at"]; v != "" {
		at, err := parseTime(v)
		if err != nil {
			return nil, err
		}
		fam.RevokedAt = &at
	}
	return fam, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse time %q", v)
	}
	return t.UTC(), nil
}
