package fakeuserrepo

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/jrsteele09/cids/internal/errors"
	"github.com/jrsteele09/cids/users"
)

var _ users.Repo = (*FakeUserRepo)(nil)

type FakeUserRepo struct {
	users map[string]users.User
	lock  sync.RWMutex
}

func NewFakeUserRepo() *FakeUserRepo {
	return &FakeUserRepo{
		users: make(map[string]users.User),
	}
}

func (ur *FakeUserRepo) RecordLogin(_ context.Context, u *users.User) (*users.User, error) {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	stored := *u
	stored.Groups = append([]string(nil), u.Groups...)
	if existing, ok := ur.users[u.ID]; ok {
		stored.Blocked = existing.Blocked
		stored.FirstSeen = existing.FirstSeen
	}
	ur.users[u.ID] = stored
	return &stored, nil
}

func (ur *FakeUserRepo) Get(_ context.Context, id string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()
	u, ok := ur.users[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return &u, nil
}

func (ur *FakeUserRepo) GetByEmail(_ context.Context, email string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()
	for _, u := range ur.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, errors.ErrNotFound
}

func (ur *FakeUserRepo) List(_ context.Context, offset, limit int) ([]*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	all := make([]*users.User, 0, len(ur.users))
	for _, v := range ur.users {
		u := v
		all = append(all, &u)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].ID < all[j].ID
	})
	if offset >= len(all) {
		return nil, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

func (ur *FakeUserRepo) SetBlocked(_ context.Context, id string, blocked bool) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()
	u, ok := ur.users[id]
	if !ok {
		return errors.ErrNotFound
	}
	u.Blocked = blocked
	ur.users[id] = u
	return nil
}
