package repofake

import (
	"context"
	"sort"
	"sync"

	"github.com/jrsteele09/cids/roles"
)

var _ roles.Repo = (*FakeRolesRepo)(nil)

type roleKey struct {
	appID, name string
}

type FakeRolesRepo struct {
	lock     sync.RWMutex
	roles    map[roleKey]roles.Role
	mappings map[roles.Mapping]struct{}
}

func NewFakeRolesRepo() *FakeRolesRepo {
	return &FakeRolesRepo{
		roles:    make(map[roleKey]roles.Role),
		mappings: make(map[roles.Mapping]struct{}),
	}
}

func (r *FakeRolesRepo) UpsertRole(_ context.Context, role *roles.Role) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.roles[roleKey{role.AppID, role.Name}] = *role
	return nil
}

func (r *FakeRolesRepo) DeleteRole(_ context.Context, appID, name string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.roles, roleKey{appID, name})
	return nil
}

func (r *FakeRolesRepo) ListRoles(_ context.Context, appID string) ([]*roles.Role, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	out := make([]*roles.Role, 0)
	for k, v := range r.roles {
		if k.appID == appID {
			v := v
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *FakeRolesRepo) UpsertMapping(_ context.Context, mapping *roles.Mapping) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.mappings[*mapping] = struct{}{}
	return nil
}

func (r *FakeRolesRepo) DeleteMapping(_ context.Context, mapping *roles.Mapping) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.mappings, *mapping)
	return nil
}

func (r *FakeRolesRepo) ListMappings(_ context.Context, appID string) ([]*roles.Mapping, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	out := make([]*roles.Mapping, 0)
	for m := range r.mappings {
		if m.AppID == appID {
			m := m
			out = append(out, &m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].RoleName < out[j].RoleName
	})
	return out, nil
}
