package fakeclientrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jrsteele09/cids/clients"
	"github.com/jrsteele09/cids/internal/errors"
)

var _ clients.Repo = (*FakeClientRepo)(nil)

type FakeClientRepo struct {
	clients map[string]clients.Client
	lock    sync.RWMutex
}

func NewFakeClientRepo() *FakeClientRepo {
	return &FakeClientRepo{
		clients: make(map[string]clients.Client),
	}
}

func (r *FakeClientRepo) Upsert(_ context.Context, client *clients.Client) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.clients[client.ID] = *client
	return nil
}

func (r *FakeClientRepo) Delete(_ context.Context, clientID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.clients, clientID)
	return nil
}

func (r *FakeClientRepo) Get(_ context.Context, clientID string) (*clients.Client, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	client, ok := r.clients[clientID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return &client, nil
}

func (r *FakeClientRepo) List(_ context.Context, offset, limit int) ([]*clients.Client, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	all := make([]*clients.Client, 0, len(r.clients))
	for _, v := range r.clients {
		c := v
		all = append(all, &c)
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

func (r *FakeClientRepo) RecordDiscovery(_ context.Context, clientID string, status clients.DiscoveryStatus, at time.Time, errMsg string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	client, ok := r.clients[clientID]
	if !ok {
		return errors.ErrNotFound
	}
	client.LastDiscoveryAt = &at
	client.LastDiscoveryStatus = status
	client.LastDiscoveryError = errMsg
	r.clients[clientID] = client
	return nil
}
