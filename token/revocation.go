package token

import (
	"context"
	"sync"
	"time"
)

// RevocationList records revoked access token ids until the token would
// have expired anyway.
type RevocationList interface {
	Revoke(ctx context.Context, jti string, exp time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	Cleanup(ctx context.Context) (int, error)
}

// InMemoryRevocationList is a process-local RevocationList.
type InMemoryRevocationList struct {
	revoked map[string]time.Time
	mu      sync.RWMutex
	now     func() time.Time
}

var _ RevocationList = (*InMemoryRevocationList)(nil)

func NewInMemoryRevocationList() *InMemoryRevocationList {
	return &InMemoryRevocationList{
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (c *InMemoryRevocationList) Revoke(_ context.Context, jti string, exp time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revoked[jti] = exp
	return nil
}

func (c *InMemoryRevocationList) IsRevoked(_ context.Context, jti string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.revoked[jti]
	return exists, nil
}

func (c *InMemoryRevocationList) Cleanup(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for jti, exp := range c.revoked {
		if now.After(exp) {
			delete(c.revoked, jti)
			removed++
		}
	}
	return removed, nil
}
