package apikeys

import (
	"context"
	"strings"
	"time"
)

const (
	// KeyPrefix marks every API key issued by the broker.
	KeyPrefix = "cids_ak_"
	secretLen = 32
	lookupLen = 8
	saltLen   = 16
)

// APIKey is the stored metadata of a key. The plaintext is never stored;
// SecretHash is a BLAKE2b MAC of it keyed with Salt.
type APIKey struct {
	ID            string     `json:"id"`
	Prefix        string     `json:"prefix"`
	LookupID      string     `json:"-"`
	SecretHash    string     `json:"-"`
	Salt          string     `json:"-"`
	OwnerAppID    string     `json:"ownerAppId"`
	Name          string     `json:"name,omitempty"`
	Permissions   []string   `json:"permissions,omitempty"`
	CreatedBy     string     `json:"createdBy,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	IsActive      bool       `json:"isActive"`
	LastUsedAt    *time.Time `json:"lastUsedAt,omitempty"`
	UsageCount    int64      `json:"usageCount"`
	RotatedAt     *time.Time `json:"rotatedAt,omitempty"`
	GraceDeadline *time.Time `json:"graceDeadline,omitempty"`
	RevokedAt     *time.Time `json:"revokedAt,omitempty"`
}

// Usable reports whether the key may authenticate at now, ignoring the
// secret check.
func (k *APIKey) Usable(now time.Time) bool {
	if !k.IsActive || k.RevokedAt != nil {
		return false
	}
	if k.GraceDeadline != nil && !now.Before(*k.GraceDeadline) {
		return false
	}
	if k.ExpiresAt != nil && !now.Before(*k.ExpiresAt) {
		return false
	}
	return true
}

// LooksLikeKey reports whether s has the shape of a broker API key.
func LooksLikeKey(s string) bool {
	_, ok := parseKey(s)
	return ok
}

// parseKey returns the random portion of a well formed key.
func parseKey(s string) (string, bool) {
	if !strings.HasPrefix(s, KeyPrefix) {
		return "", false
	}
	secret := s[len(KeyPrefix):]
	if len(secret) != secretLen {
		return "", false
	}
	for _, r := range secret {
		if !isAlphanumeric(r) {
			return "", false
		}
	}
	return secret, true
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// Repo stores API key metadata.
type Repo interface {
	// Create stores key. With deactivateOthers, every other active key of
	// the same owner is deactivated in the same operation.
	Create(ctx context.Context, key *APIKey, deactivateOthers bool) error
	Get(ctx context.Context, id string) (*APIKey, error)
	FindByLookup(ctx context.Context, lookupID string) ([]*APIKey, error)
	ListByOwner(ctx context.Context, ownerAppID string) ([]*APIKey, error)
	Update(ctx context.Context, key *APIKey) error
	RecordUsage(ctx context.Context, id string, at time.Time) error
	// ListDue returns active keys whose expiry or grace deadline is at or
	// before now.
	ListDue(ctx context.Context, now time.Time) ([]*APIKey, error)
}
