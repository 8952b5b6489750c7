package repofake

import (
	"context"
	"sync"

	"github.com/jrsteele09/cids/permissions"
)

var _ permissions.Repo = (*FakeCatalogRepo)(nil)

type FakeCatalogRepo struct {
	lock sync.RWMutex
	rows map[string][]permissions.Discovered

	// FailReplace makes ReplacePermissions fail without touching the set.
	FailReplace error
}

func NewFakeCatalogRepo() *FakeCatalogRepo {
	return &FakeCatalogRepo{rows: make(map[string][]permissions.Discovered)}
}

func (r *FakeCatalogRepo) ReplacePermissions(_ context.Context, appID string, rows []permissions.Discovered) error {
	if r.FailReplace != nil {
		return r.FailReplace
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	r.rows[appID] = append([]permissions.Discovered(nil), rows...)
	return nil
}

func (r *FakeCatalogRepo) ListPermissions(_ context.Context, appID string) ([]permissions.Discovered, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return append([]permissions.Discovered(nil), r.rows[appID]...), nil
}
