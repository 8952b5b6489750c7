package repofake

import (
	"context"
	"sort"
	"sync"

	"github.com/jrsteele09/cids/a2a"
	"github.com/jrsteele09/cids/internal/errors"
)

var _ a2a.Repo = (*FakeA2ARepo)(nil)

type pair struct {
	source, target string
}

type FakeA2ARepo struct {
	lock     sync.RWMutex
	policies map[pair]a2a.Permission
}

func NewFakeA2ARepo() *FakeA2ARepo {
	return &FakeA2ARepo{policies: make(map[pair]a2a.Permission)}
}

func (r *FakeA2ARepo) Upsert(_ context.Context, p *a2a.Permission) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.policies[pair{p.SourceAppID, p.TargetAppID}] = *p
	return nil
}

func (r *FakeA2ARepo) Delete(_ context.Context, sourceAppID, targetAppID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.policies, pair{sourceAppID, targetAppID})
	return nil
}

func (r *FakeA2ARepo) Get(_ context.Context, sourceAppID, targetAppID string) (*a2a.Permission, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	p, ok := r.policies[pair{sourceAppID, targetAppID}]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return &p, nil
}

func (r *FakeA2ARepo) ListBySource(_ context.Context, sourceAppID string) ([]*a2a.Permission, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	out := make([]*a2a.Permission, 0)
	for k, p := range r.policies {
		if k.source == sourceAppID {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TargetAppID < out[j].TargetAppID
	})
	return out, nil
}
