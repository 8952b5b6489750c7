package repofake

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/cids/internal/errors"
	"github.com/jrsteele09/cids/token/refresh"
)

var _ refresh.Repo = (*FakeRefreshRepo)(nil)

type FakeRefreshRepo struct {
	lock     sync.RWMutex
	tokens   map[string]refresh.Record
	families map[string]refresh.Family
}

func NewFakeRefreshRepo() *FakeRefreshRepo {
	return &FakeRefreshRepo{
		tokens:   make(map[string]refresh.Record),
		families: make(map[string]refresh.Family),
	}
}

func (r *FakeRefreshRepo) CreateFamily(_ context.Context, family *refresh.Family, first *refresh.Record) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.families[family.ID]; ok {
		return errors.ErrAlreadyExists
	}
	r.families[family.ID] = *family
	r.tokens[first.TokenHash] = *first
	return nil
}

func (r *FakeRefreshRepo) GetByHash(_ context.Context, tokenHash string) (*refresh.Record, *refresh.Family, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	rec, ok := r.tokens[tokenHash]
	if !ok {
		return nil, nil, errors.ErrNotFound
	}
	fam, ok := r.families[rec.FamilyID]
	if !ok {
		return nil, nil, errors.ErrNotFound
	}
	return &rec, &fam, nil
}

func (r *FakeRefreshRepo) GetFamily(_ context.Context, familyID string) (*refresh.Family, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	fam, ok := r.families[familyID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return &fam, nil
}

func (r *FakeRefreshRepo) Rotate(_ context.Context, familyID, expectedHash string, next *refresh.Record) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	fam, ok := r.families[familyID]
	if !ok {
		return errors.ErrNotFound
	}
	if fam.Status != refresh.FamilyActive || fam.CurrentHash != expectedHash {
		return refresh.ErrRotationConflict
	}
	fam.CurrentHash = next.TokenHash
	fam.RotatedAt = next.IssuedAt
	fam.ExpiresAt = next.ExpiresAt
	r.families[familyID] = fam
	r.tokens[next.TokenHash] = *next
	return nil
}

func (r *FakeRefreshRepo) RevokeFamily(_ context.Context, familyID, reason string, at time.Time) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	fam, ok := r.families[familyID]
	if !ok {
		return errors.ErrNotFound
	}
	if fam.Status == refresh.FamilyRevoked {
		return nil
	}
	fam.Status = refresh.FamilyRevoked
	fam.RevokedAt = &at
	fam.RevokedReason = reason
	r.families[familyID] = fam
	return nil
}

func (r *FakeRefreshRepo) DeleteToken(_ context.Context, tokenHash string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.tokens, tokenHash)
	return nil
}

func (r *FakeRefreshRepo) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	removed := 0
	for hash, rec := range r.tokens {
		if fam, ok := r.families[rec.FamilyID]; ok && now.Before(fam.ExpiresAt) {
			continue
		}
		if !now.Before(rec.ExpiresAt) {
			delete(r.tokens, hash)
			removed++
		}
	}
	for id, fam := range r.families {
		if !now.Before(fam.ExpiresAt) {
			delete(r.families, id)
		}
	}
	return removed, nil
}
