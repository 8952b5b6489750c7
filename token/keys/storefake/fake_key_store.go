package storefake

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/cids/internal/errors"
	"github.com/jrsteele09/cids/token/keys"
)

var _ keys.Store = (*FakeKeyStore)(nil)

type FakeKeyStore struct {
	mu   sync.RWMutex
	keys map[string]keys.StoredKey
}

func NewFakeKeyStore() *FakeKeyStore {
	return &FakeKeyStore{keys: make(map[string]keys.StoredKey)}
}

func (s *FakeKeyStore) LoadSigningKeys(_ context.Context) ([]keys.StoredKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]keys.StoredKey, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k)
	}
	return out, nil
}

func (s *FakeKeyStore) SaveSigningKey(_ context.Context, key keys.StoredKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.KeyID] = key
	return nil
}

func (s *FakeKeyStore) RetireSigningKey(_ context.Context, keyID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[keyID]
	if !ok {
		return errors.ErrNotFound
	}
	k.RetiredAt = &at
	s.keys[keyID] = k
	return nil
}

func (s *FakeKeyStore) DeleteSigningKey(_ context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, keyID)
	return nil
}

func (s *FakeKeyStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}
