package apikeys

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"

	"github.com/jrsteele09/cids/audit"
	"github.com/jrsteele09/cids/internal/errors"
	"github.com/jrsteele09/cids/internal/ids"
	"github.com/jrsteele09/cids/internal/metrics"
)

const (
	alphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	usageTimeout = 5 * time.Second
)

// Created holds the plaintext key, shown to the caller exactly once.
type Created struct {
	Key    string  `json:"key"`
	APIKey *APIKey `json:"metadata"`
}

type CreateRequest struct {
	OwnerAppID  string
	Name        string
	Permissions []string
	TTL         time.Duration // zero uses the manager default, negative never expires
	CreatedBy   string
}

type ManagerOption func(*Manager)

// WithMultipleActiveKeys lets an owner hold more than one active key.
func WithMultipleActiveKeys() ManagerOption {
	return func(m *Manager) {
		m.multipleActive = true
	}
}

func WithDefaultTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		m.defaultTTL = ttl
	}
}

func WithAuditor(recorder audit.Recorder) ManagerOption {
	return func(m *Manager) {
		m.auditor = recorder
	}
}

func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = mt
	}
}

func WithNowTime(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager implements the API key lifecycle.
type Manager struct {
	repo           Repo
	multipleActive bool
	defaultTTL     time.Duration
	auditor        audit.Recorder
	metrics        *metrics.Metrics
	now            func() time.Time

	usage sync.WaitGroup
}

func NewManager(repo Repo, opts ...ManagerOption) (*Manager, error) {
	if repo == nil {
		return nil, errors.New("[apikeys.NewManager] repo is required")
	}
	m := &Manager{
		repo: repo,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Create issues a key for an application. Unless multiple active keys are
// allowed, the owner's previous active keys are deactivated.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Created, error) {
	if req.OwnerAppID == "" {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "owner app id is required")
	}
	created, err := m.newKey(req)
	if err != nil {
		return nil, err
	}
	if err := m.repo.Create(ctx, created.APIKey, !m.multipleActive); err != nil {
		return nil, errors.Wrapf(err, "failed to store api key")
	}
	audit.Safe(ctx, m.auditor, audit.Entry{
		Actor:   req.CreatedBy,
		Action:  audit.ActionAPIKeyCreated,
		Target:  created.APIKey.ID,
		Details: map[string]string{"owner_app_id": req.OwnerAppID},
	})
	return created, nil
}

func (m *Manager) newKey(req CreateRequest) (*Created, error) {
	secret, err := randomString(secretLen)
	if err != nil {
		return nil, err
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	plaintext := KeyPrefix + secret
	hash, err := hashKey(plaintext, salt)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	key := &APIKey{
		ID:          ids.New(),
		Prefix:      KeyPrefix + secret[:lookupLen],
		LookupID:    secret[:lookupLen],
		SecretHash:  hash,
		Salt:        hex.EncodeToString(salt),
		OwnerAppID:  req.OwnerAppID,
		Name:        req.Name,
		Permissions: req.Permissions,
		CreatedBy:   req.CreatedBy,
		CreatedAt:   now,
		IsActive:    true,
	}
	ttl := req.TTL
	if ttl == 0 {
		ttl = m.defaultTTL
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		key.ExpiresAt = &exp
	}
	return &Created{Key: plaintext, APIKey: key}, nil
}

func hashKey(plaintext string, salt []byte) (string, error) {
	h, err := blake2b.New256(salt)
	if err != nil {
		return "", fmt.Errorf("failed to init key hash: %w", err)
	}
	h.Write([]byte(plaintext))
	return hex.EncodeToString(h.Sum(nil)), nil
}

func randomString(n int) (string, error) {
	out := make([]byte, n)
	limit := big.NewInt(int64(len(alphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate random key: %w", err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}

// Validate authenticates a presented key. A rotated key past its grace
// deadline is revoked here, on first use after the deadline. Usage is
// recorded asynchronously and never affects the result.
func (m *Manager) Validate(ctx context.Context, presented string) (*APIKey, error) {
	key, err := m.validate(ctx, presented)
	if err != nil {
		m.metrics.APIKeyValidated(outcome(err))
		return nil, err
	}
	m.metrics.APIKeyValidated("valid")
	m.recordUsage(ctx, key.ID)
	return key, nil
}

func (m *Manager) validate(ctx context.Context, presented string) (*APIKey, error) {
	secret, ok := parseKey(presented)
	if !ok {
		return nil, errors.ErrNotFound
	}
	candidates, err := m.repo.FindByLookup(ctx, secret[:lookupLen])
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.ErrNotFound
		}
		return nil, errors.Wrapf(err, "failed to look up api key")
	}

	var key *APIKey
	for _, c := range candidates {
		salt, err := hex.DecodeString(c.Salt)
		if err != nil {
			log.Err(err).Str("key_id", c.ID).Msg("api key has unreadable salt")
			continue
		}
		hash, err := hashKey(presented, salt)
		if err != nil {
			return nil, err
		}
		if subtle.ConstantTimeCompare([]byte(hash), []byte(c.SecretHash)) == 1 {
			key = c
			break
		}
	}
	if key == nil {
		return nil, errors.ErrNotFound
	}

	now := m.now().UTC()
	if !key.IsActive || key.RevokedAt != nil {
		return nil, errors.Wrapf(errors.ErrRevoked, "api key %s", key.ID)
	}
	if key.GraceDeadline != nil && !now.Before(*key.GraceDeadline) {
		m.expireGrace(ctx, key)
		return nil, errors.Wrapf(errors.ErrRevoked, "api key %s past rotation grace", key.ID)
	}
	if key.ExpiresAt != nil && !now.Before(*key.ExpiresAt) {
		return nil, errors.Wrapf(errors.ErrExpired, "api key %s", key.ID)
	}
	return key, nil
}

func (m *Manager) expireGrace(ctx context.Context, key *APIKey) {
	key.IsActive = false
	key.RevokedAt = key.GraceDeadline
	if err := m.repo.Update(ctx, key); err != nil {
		log.Err(err).Str("key_id", key.ID).Msg("failed to revoke api key past grace")
	}
}

func (m *Manager) recordUsage(ctx context.Context, keyID string) {
	at := m.now().UTC()
	m.usage.Add(1)
	go func() {
		defer m.usage.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), usageTimeout)
		defer cancel()
		if err := m.repo.RecordUsage(ctx, keyID, at); err != nil {
			log.Warn().Err(err).Str("key_id", keyID).Msg("failed to record api key usage")
		}
	}()
}

// WaitUsage blocks until pending usage updates finish.
func (m *Manager) WaitUsage() {
	m.usage.Wait()
}

// Rotate issues a replacement for keyID. The old key keeps validating until
// now+grace; a zero grace revokes it immediately.
func (m *Manager) Rotate(ctx context.Context, keyID string, grace time.Duration, actor string) (*Created, error) {
	old, err := m.repo.Get(ctx, keyID)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	if !old.Usable(now) {
		return nil, errors.Wrapf(errors.ErrRevoked, "api key %s cannot be rotated", keyID)
	}

	created, err := m.newKey(CreateRequest{
		OwnerAppID:  old.OwnerAppID,
		Name:        old.Name,
		Permissions: old.Permissions,
		CreatedBy:   actor,
		TTL:         remainingTTL(old, now),
	})
	if err != nil {
		return nil, err
	}
	if err := m.repo.Create(ctx, created.APIKey, false); err != nil {
		return nil, errors.Wrapf(err, "failed to store rotated api key")
	}

	old.RotatedAt = &now
	if grace <= 0 {
		old.IsActive = false
		old.RevokedAt = &now
	} else {
		deadline := now.Add(grace)
		old.GraceDeadline = &deadline
	}
	if err := m.repo.Update(ctx, old); err != nil {
		return nil, errors.Wrapf(err, "failed to update rotated api key")
	}

	audit.Safe(ctx, m.auditor, audit.Entry{
		Actor:  actor,
		Action: audit.ActionAPIKeyRotated,
		Target: old.ID,
		Details: map[string]string{
			"new_key_id": created.APIKey.ID,
			"grace":      grace.String(),
		},
	})
	return created, nil
}

// remainingTTL keeps a rotated key's replacement on the original expiry
// schedule; keys that never expire stay that way.
func remainingTTL(k *APIKey, now time.Time) time.Duration {
	if k.ExpiresAt == nil {
		return -1
	}
	return k.ExpiresAt.Sub(now)
}

// Revoke immediately and permanently disables a key.
func (m *Manager) Revoke(ctx context.Context, keyID, actor string) error {
	key, err := m.repo.Get(ctx, keyID)
	if err != nil {
		return err
	}
	if key.RevokedAt != nil {
		return nil
	}
	now := m.now().UTC()
	key.IsActive = false
	key.RevokedAt = &now
	if err := m.repo.Update(ctx, key); err != nil {
		return errors.Wrapf(err, "failed to revoke api key %s", keyID)
	}
	audit.Safe(ctx, m.auditor, audit.Entry{Actor: actor, Action: audit.ActionAPIKeyRevoked, Target: keyID})
	return nil
}

func (m *Manager) Get(ctx context.Context, keyID string) (*APIKey, error) {
	return m.repo.Get(ctx, keyID)
}

func (m *Manager) List(ctx context.Context, ownerAppID string) ([]*APIKey, error) {
	return m.repo.ListByOwner(ctx, ownerAppID)
}

// Sweep deactivates keys past their expiry or rotation grace.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	now := m.now().UTC()
	due, err := m.repo.ListDue(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, key := range due {
		key.IsActive = false
		if key.GraceDeadline != nil && !now.Before(*key.GraceDeadline) && key.RevokedAt == nil {
			key.RevokedAt = key.GraceDeadline
		}
		if err := m.repo.Update(ctx, key); err != nil {
			return 0, errors.Wrapf(err, "failed to deactivate api key %s", key.ID)
		}
	}
	return len(due), nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, errors.ErrExpired):
		return "expired"
	case errors.Is(err, errors.ErrRevoked):
		return "revoked"
	case errors.Is(err, errors.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
