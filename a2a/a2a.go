package a2a

import (
	"context"
	"slices"
	"strings"

	"github.com/jrsteele09/cids/internal/errors"
)

// Permission is the policy allowing SourceAppID to obtain service tokens
// for TargetAppID. MaxTokenDuration is in seconds.
type Permission struct {
	SourceAppID      string   `json:"sourceAppId"`
	TargetAppID      string   `json:"targetAppId"`
	AllowedScopes    []string `json:"allowedScopes"`
	AllowedEndpoints []string `json:"allowedEndpoints,omitempty"`
	MaxTokenDuration int64    `json:"maxTokenDuration"`
}

func (p *Permission) Validate() error {
	if strings.TrimSpace(p.SourceAppID) == "" || strings.TrimSpace(p.TargetAppID) == "" {
		return errors.Wrapf(errors.ErrInvalidRequest, "source and target app ids are required")
	}
	if p.SourceAppID == p.TargetAppID {
		return errors.Wrapf(errors.ErrInvalidRequest, "source and target must differ")
	}
	if p.MaxTokenDuration <= 0 {
		return errors.Wrapf(errors.ErrInvalidRequest, "max token duration must be positive")
	}
	return nil
}

// Allows reports whether every requested scope is in AllowedScopes.
func (p *Permission) Allows(scopes []string) (string, bool) {
	for _, s := range scopes {
		if !slices.Contains(p.AllowedScopes, s) {
			return s, false
		}
	}
	return "", true
}

// Repo stores A2A policies keyed by source and target.
type Repo interface {
	Upsert(ctx context.Context, p *Permission) error
	Delete(ctx context.Context, sourceAppID, targetAppID string) error
	Get(ctx context.Context, sourceAppID, targetAppID string) (*Permission, error)
	ListBySource(ctx context.Context, sourceAppID string) ([]*Permission, error)
}
