package refresh

import (
	"context"
	"time"

	"github.com/jrsteele09/cids/internal/errors"
)

// ErrRotationConflict is returned by Repo.Rotate when the family's current
// token is no longer the one being redeemed, or the family is not active.
var ErrRotationConflict = errors.New("refresh family rotation conflict")

type FamilyStatus string

const (
	FamilyActive  FamilyStatus = "active"
	FamilyRevoked FamilyStatus = "revoked"
)

// Snapshot is the identity captured at login and replayed on each refresh.
type Snapshot struct {
	Subject    string   `json:"sub"`
	Email      string   `json:"email,omitempty"`
	Name       string   `json:"name,omitempty"`
	Department string   `json:"department,omitempty"`
	Tenant     string   `json:"tenant,omitempty"`
	Groups     []string `json:"groups,omitempty"`
	Apps       []string `json:"apps,omitempty"`
}

// Family is the chain of refresh tokens descended from one login. Only the
// token whose hash equals CurrentHash may be redeemed.
type Family struct {
	ID            string
	Status        FamilyStatus
	CurrentHash   string
	Snapshot      Snapshot
	CreatedAt     time.Time
	RotatedAt     time.Time
	ExpiresAt     time.Time
	RevokedAt     *time.Time
	RevokedReason string
}

// Record is one issued refresh token. Only its hash is stored.
type Record struct {
	TokenHash string
	FamilyID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Repo stores refresh families and tokens. Rotate must be atomic: it
// succeeds only if the family is active and its current hash still equals
// expectedHash.
type Repo interface {
	CreateFamily(ctx context.Context, family *Family, first *Record) error
	GetByHash(ctx context.Context, tokenHash string) (*Record, *Family, error)
	GetFamily(ctx context.Context, familyID string) (*Family, error)
	Rotate(ctx context.Context, familyID, expectedHash string, next *Record) error
	RevokeFamily(ctx context.Context, familyID, reason string, at time.Time) error
	DeleteToken(ctx context.Context, tokenHash string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
