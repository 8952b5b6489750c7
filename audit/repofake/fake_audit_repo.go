package repofake

import (
	"context"
	"sync"

	"github.com/jrsteele09/cids/audit"
)

var _ audit.Repo = (*FakeAuditRepo)(nil)

type FakeAuditRepo struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

func NewFakeAuditRepo() *FakeAuditRepo {
	return &FakeAuditRepo{}
}

func (r *FakeAuditRepo) Append(_ context.Context, entry audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *FakeAuditRepo) List(_ context.Context, filter audit.Filter) ([]audit.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]audit.Entry, 0)
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if filter.Actor != "" && e.Actor != filter.Actor {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}
