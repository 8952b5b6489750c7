package refresh

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"

	"github.com/jrsteele09/cids/audit"
	"github.com/jrsteele09/cids/internal/errors"
	"github.com/jrsteele09/cids/internal/ids"
	"github.com/jrsteele09/cids/internal/metrics"
)

const (
	ReasonReplay = "replay"
	ReasonLogout = "logout"
	ReasonAdmin  = "admin"
)

// Issued is returned once to the client; only the hash is persisted.
type Issued struct {
	Token     string
	FamilyID  string
	ExpiresAt time.Time
}

// Redemption is the result of a successful rotation.
type Redemption struct {
	Issued
	Snapshot Snapshot
}

type ManagerOption func(*Manager)

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

// WithTokenLength sets the number of random bytes in a refresh token.
func WithTokenLength(n int) ManagerOption {
	return func(m *Manager) {
		if n >= 16 {
			m.tokenLength = n
		}
	}
}

// Manager handles refresh token issuance, rotation and replay detection.
type Manager struct {
	repo        Repo
	ttl         time.Duration
	tokenLength int
	auditor     audit.Recorder
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewManager creates a new refresh token manager
func NewManager(repo Repo, ttl time.Duration, opts ...ManagerOption) (*Manager, error) {
	if repo == nil {
		return nil, errors.New("[refresh.NewManager] repo is required")
	}
	if ttl <= 0 {
		return nil, errors.New("[refresh.NewManager] ttl must be positive")
	}
	m := &Manager{
		repo:        repo,
		ttl:         ttl,
		tokenLength: 32,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// HashToken returns the stored form of a refresh token.
func HashToken(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (m *Manager) newToken() (string, error) {
	tokenBytes := make([]byte, m.tokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(tokenBytes), nil
}

// Issue starts a new family for snapshot.
func (m *Manager) Issue(ctx context.Context, snapshot Snapshot) (*Issued, error) {
	if snapshot.Subject == "" {
		return nil, errors.Wrapf(errors.ErrMissingClaim, "refresh snapshot subject")
	}
	plaintext, err := m.newToken()
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	rec := &Record{
		TokenHash: HashToken(plaintext),
		FamilyID:  ids.New(),
		IssuedAt:  now,
		ExpiresAt: now.Add(m.ttl),
	}
	fam := &Family{
		ID:          rec.FamilyID,
		Status:      FamilyActive,
		CurrentHash: rec.TokenHash,
		Snapshot:    snapshot,
		CreatedAt:   now,
		RotatedAt:   now,
		ExpiresAt:   rec.ExpiresAt,
	}
	if err := m.repo.CreateFamily(ctx, fam, rec); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}
	m.metrics.TokenIssued("refresh")
	return &Issued{Token: plaintext, FamilyID: fam.ID, ExpiresAt: rec.ExpiresAt}, nil
}

// Redeem rotates a refresh token. Presenting any token other than the
// family's current one revokes the whole family.
func (m *Manager) Redeem(ctx context.Context, plaintext string) (*Redemption, error) {
	if plaintext == "" {
		return nil, errors.ErrNotFound
	}
	hash := HashToken(plaintext)
	rec, fam, err := m.repo.GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.ErrNotFound
		}
		return nil, errors.Wrapf(err, "failed to load refresh token")
	}

	now := m.now().UTC()
	if fam.Status == FamilyRevoked {
		return nil, errors.Wrapf(errors.ErrRevoked, "refresh family %s", fam.ID)
	}
	// A superseded token is replay even once it has expired.
	if fam.CurrentHash != hash {
		return nil, m.replay(ctx, fam, "superseded token presented")
	}
	if !now.Before(rec.ExpiresAt) {
		if err := m.repo.DeleteToken(ctx, hash); err != nil {
			log.Err(err).Str("family_id", fam.ID).Msg("failed to purge expired refresh token")
		}
		return nil, errors.Wrapf(errors.ErrExpired, "refresh token")
	}

	next, err := m.newToken()
	if err != nil {
		return nil, err
	}
	nextRec := &Record{
		TokenHash: HashToken(next),
		FamilyID:  fam.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.repo.Rotate(ctx, fam.ID, hash, nextRec); err != nil {
		if errors.Is(err, ErrRotationConflict) {
			return nil, m.replay(ctx, fam, "concurrent redemption")
		}
		return nil, errors.Wrapf(err, "failed to rotate refresh token")
	}
	m.metrics.TokenIssued("refresh")

	return &Redemption{
		Issued:   Issued{Token: next, FamilyID: fam.ID, ExpiresAt: nextRec.ExpiresAt},
		Snapshot: fam.Snapshot,
	}, nil
}

func (m *Manager) replay(ctx context.Context, fam *Family, detail string) error {
	if err := m.repo.RevokeFamily(ctx, fam.ID, ReasonReplay, m.now().UTC()); err != nil {
		log.Err(err).Str("family_id", fam.ID).Msg("failed to revoke refresh family after replay")
	}
	m.metrics.ReplayDetected()
	log.Warn().Str("family_id", fam.ID).Str("sub", fam.Snapshot.Subject).Str("detail", detail).Msg("refresh token replay detected")
	audit.Safe(ctx, m.auditor, audit.Entry{
		Actor:   fam.Snapshot.Subject,
		Action:  audit.ActionReplayDetected,
		Target:  fam.ID,
		Outcome: audit.OutcomeFailure,
		Details: map[string]string{"detail": detail},
	})
	return errors.Wrapf(errors.ErrReplayDetected, "refresh family %s", fam.ID)
}

// RevokeFamily ends a family; every token in it stops redeeming.
func (m *Manager) RevokeFamily(ctx context.Context, familyID, reason string) error {
	if err := m.repo.RevokeFamily(ctx, familyID, reason, m.now().UTC()); err != nil {
		return errors.Wrapf(err, "failed to revoke refresh family %s", familyID)
	}
	return nil
}

// RevokeToken revokes the family the presented token belongs to.
func (m *Manager) RevokeToken(ctx context.Context, plaintext, reason string) (*Family, error) {
	_, fam, err := m.repo.GetByHash(ctx, HashToken(plaintext))
	if err != nil {
		return nil, err
	}
	if err := m.RevokeFamily(ctx, fam.ID, reason); err != nil {
		return nil, err
	}
	return fam, nil
}

// Sweep removes expired tokens and families.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	return m.repo.DeleteExpired(ctx, m.now().UTC())
}
