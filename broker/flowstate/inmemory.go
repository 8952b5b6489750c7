package flowstate

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/cids/internal/errors"
)

var _ Repo = (*InMemoryRepo)(nil)

// InMemoryRepo is a thread-safe in-memory implementation of Repo
type InMemoryRepo struct {
	mu     sync.Mutex
	states map[string]State
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		states: make(map[string]State),
	}
}

func (r *InMemoryRepo) Put(_ context.Context, key string, s *State) error {
	if key == "" {
		return errors.Wrapf(errors.ErrInvalidRequest, "state cannot be empty")
	}
	if s == nil {
		return errors.Wrapf(errors.ErrInvalidRequest, "flow state cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.states[key]; exists {
		return errors.ErrAlreadyExists
	}
	r.states[key] = *s
	return nil
}

func (r *InMemoryRepo) Take(_ context.Context, key string) (*State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.states[key]
	if !exists {
		return nil, errors.ErrNotFound
	}
	delete(r.states, key)
	return &s, nil
}

func (r *InMemoryRepo) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for k, s := range r.states {
		if s.Expired(now) {
			delete(r.states, k)
			n++
		}
	}
	return n, nil
}
