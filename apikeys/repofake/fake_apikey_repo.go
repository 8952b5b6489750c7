package repofake

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jrsteele09/cids/apikeys"
	"github.com/jrsteele09/cids/internal/errors"
)

var _ apikeys.Repo = (*FakeAPIKeyRepo)(nil)

type FakeAPIKeyRepo struct {
	lock sync.RWMutex
	keys map[string]apikeys.APIKey

	// FailUsage makes RecordUsage fail, to exercise log-and-continue paths.
	FailUsage bool
}

func NewFakeAPIKeyRepo() *FakeAPIKeyRepo {
	return &FakeAPIKeyRepo{keys: make(map[string]apikeys.APIKey)}
}

func (r *FakeAPIKeyRepo) Create(_ context.Context, key *apikeys.APIKey, deactivateOthers bool) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.keys[key.ID]; ok {
		return errors.ErrAlreadyExists
	}
	if deactivateOthers {
		for id, k := range r.keys {
			if k.OwnerAppID == key.OwnerAppID && k.IsActive {
				k.IsActive = false
				r.keys[id] = k
			}
		}
	}
	r.keys[key.ID] = *key
	return nil
}

func (r *FakeAPIKeyRepo) Get(_ context.Context, id string) (*apikeys.APIKey, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	k, ok := r.keys[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return &k, nil
}

func (r *FakeAPIKeyRepo) FindByLookup(_ context.Context, lookupID string) ([]*apikeys.APIKey, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	var out []*apikeys.APIKey
	for _, k := range r.keys {
		if k.LookupID == lookupID {
			k := k
			out = append(out, &k)
		}
	}
	return out, nil
}

func (r *FakeAPIKeyRepo) ListByOwner(_ context.Context, ownerAppID string) ([]*apikeys.APIKey, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	out := make([]*apikeys.APIKey, 0)
	for _, k := range r.keys {
		if k.OwnerAppID == ownerAppID {
			k := k
			out = append(out, &k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *FakeAPIKeyRepo) Update(_ context.Context, key *apikeys.APIKey) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	existing, ok := r.keys[key.ID]
	if !ok {
		return errors.ErrNotFound
	}
	// usage is owned by RecordUsage
	key.UsageCount = existing.UsageCount
	key.LastUsedAt = existing.LastUsedAt
	r.keys[key.ID] = *key
	return nil
}

func (r *FakeAPIKeyRepo) RecordUsage(_ context.Context, id string, at time.Time) error {
	if r.FailUsage {
		return errors.New("usage store unavailable")
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	k, ok := r.keys[id]
	if !ok {
		return errors.ErrNotFound
	}
	k.UsageCount++
	k.LastUsedAt = &at
	r.keys[id] = k
	return nil
}

func (r *FakeAPIKeyRepo) ListDue(_ context.Context, now time.Time) ([]*apikeys.APIKey, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	var out []*apikeys.APIKey
	for _, k := range r.keys {
		if !k.IsActive {
			continue
		}
		expired := k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
		graceOver := k.GraceDeadline != nil && !now.Before(*k.GraceDeadline)
		if expired || graceOver {
			k := k
			out = append(out, &k)
		}
	}
	return out, nil
}
