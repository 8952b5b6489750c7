package keys

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/cids/internal/errors"
	"github.com/jrsteele09/cids/internal/ids"
)

type ManagerOption func(*Manager)

func WithStore(store Store) ManagerOption {
	return func(m *Manager) {
		m.store = store
	}
}

func WithKeyBits(bits int) ManagerOption {
	return func(m *Manager) {
		m.bits = bits
	}
}

// WithVerifyGrace sets how long a retired key remains in the verify set.
func WithVerifyGrace(grace time.Duration) ManagerOption {
	return func(m *Manager) {
		m.verifyGrace = grace
	}
}

func WithNowTime(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager owns the signing key lifecycle. The active key is created on first
// use and replaced by Rotate in a single pointer swap; rotated keys stay in a
// read-only verify set until purged.
type Manager struct {
	store       Store
	bits        int
	verifyGrace time.Duration
	now         func() time.Time

	current atomic.Pointer[KeyPair]

	// lifecycleMu serializes initialization, rotation and purge.
	lifecycleMu sync.Mutex
	mu          sync.RWMutex
	verify      map[string]*KeyPair
}

func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		bits:        minRSABits,
		verifyGrace: 24 * time.Hour,
		now:         time.Now,
		verify:      make(map[string]*KeyPair),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current returns the active signing key, generating one if none exists.
func (m *Manager) Current(ctx context.Context) (*KeyPair, error) {
	if kp := m.current.Load(); kp != nil {
		return kp, nil
	}
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if err := m.initLocked(ctx); err != nil {
		return nil, err
	}
	return m.current.Load(), nil
}

func (m *Manager) initLocked(ctx context.Context) error {
	if m.current.Load() != nil {
		return nil
	}

	if m.store != nil {
		stored, err := m.store.LoadSigningKeys(ctx)
		if err != nil {
			return fmt.Errorf("failed to load signing keys: %w", err)
		}
		var active *KeyPair
		loaded := make(map[string]*KeyPair, len(stored))
		for _, sk := range stored {
			kp, err := fromStored(sk)
			if err != nil {
				log.Err(err).Str("kid", sk.KeyID).Msg("skipping unreadable signing key")
				continue
			}
			loaded[kp.KeyID] = kp
			if !kp.Retired() && (active == nil || kp.CreatedAt.After(active.CreatedAt)) {
				active = kp
			}
		}
		if active != nil {
			m.mu.Lock()
			for kid, kp := range loaded {
				m.verify[kid] = kp
			}
			m.mu.Unlock()
			m.current.Store(active)
			log.Info().Str("kid", active.KeyID).Int("verify_keys", len(loaded)).Msg("loaded signing keys")
			return nil
		}
	}

	kp, err := m.generate(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.verify[kp.KeyID] = kp
	m.mu.Unlock()
	m.current.Store(kp)
	log.Info().Str("kid", kp.KeyID).Msg("generated signing key")
	return nil
}

func (m *Manager) generate(ctx context.Context) (*KeyPair, error) {
	kp, err := generateKeyPair(ids.New(), m.bits, m.now().UTC())
	if err != nil {
		return nil, err
	}
	if m.store != nil {
		sk, err := toStored(kp)
		if err != nil {
			return nil, fmt.Errorf("failed to export signing key: %w", err)
		}
		if err := m.store.SaveSigningKey(ctx, sk); err != nil {
			return nil, fmt.Errorf("failed to persist signing key: %w", err)
		}
	}
	return kp, nil
}

// Rotate makes a freshly generated key current. The previous key is retired
// into the verify set so tokens it signed keep verifying.
func (m *Manager) Rotate(ctx context.Context) (*KeyPair, error) {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if err := m.initLocked(ctx); err != nil {
		return nil, err
	}

	next, err := m.generate(ctx)
	if err != nil {
		return nil, err
	}
	prev := m.current.Load()
	retiredAt := m.now().UTC()

	m.mu.Lock()
	m.verify[next.KeyID] = next
	m.mu.Unlock()

	m.current.Store(next)

	retired := *prev
	retired.RetiredAt = &retiredAt
	m.mu.Lock()
	m.verify[prev.KeyID] = &retired
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.RetireSigningKey(ctx, prev.KeyID, retiredAt); err != nil {
			log.Err(err).Str("kid", prev.KeyID).Msg("failed to persist signing key retirement")
		}
	}
	log.Info().Str("kid", next.KeyID).Str("retired_kid", prev.KeyID).Msg("rotated signing key")
	return next, nil
}

// VerificationKey returns the public key for kid. Unknown ids fail closed.
func (m *Manager) VerificationKey(ctx context.Context, kid string) (*KeyPair, error) {
	if _, err := m.Current(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	kp, ok := m.verify[kid]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnknownKeyID, "kid %q", kid)
	}
	return kp, nil
}

// PublicKeySet returns the active key followed by retained retired keys.
func (m *Manager) PublicKeySet(ctx context.Context) (*JWKS, error) {
	current, err := m.Current(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	pairs := make([]*KeyPair, 0, len(m.verify))
	for _, kp := range m.verify {
		pairs = append(pairs, kp)
	}
	m.mu.RUnlock()

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].KeyID == current.KeyID {
			return true
		}
		if pairs[j].KeyID == current.KeyID {
			return false
		}
		return pairs[i].CreatedAt.After(pairs[j].CreatedAt)
	})

	jwks := &JWKS{Keys: make([]JWK, 0, len(pairs))}
	for _, kp := range pairs {
		jwk, err := kp.JWK()
		if err != nil {
			return nil, err
		}
		jwks.Keys = append(jwks.Keys, jwk)
	}
	return jwks, nil
}

// Purge drops retired keys whose verify grace has elapsed and returns how
// many were removed.
func (m *Manager) Purge(ctx context.Context) (int, error) {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	cutoff := m.now().Add(-m.verifyGrace)
	var expired []string
	m.mu.Lock()
	for kid, kp := range m.verify {
		if kp.Retired() && kp.RetiredAt.Before(cutoff) {
			expired = append(expired, kid)
			delete(m.verify, kid)
		}
	}
	m.mu.Unlock()

	if m.store != nil {
		for _, kid := range expired {
			if err := m.store.DeleteSigningKey(ctx, kid); err != nil {
				return len(expired), fmt.Errorf("failed to delete signing key %s: %w", kid, err)
			}
		}
	}
	if len(expired) > 0 {
		log.Info().Strs("kids", expired).Msg("purged retired signing keys")
	}
	return len(expired), nil
}
