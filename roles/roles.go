package roles

import (
	"context"
	"strings"

	"github.com/jrsteele09/cids/internal/errors"
	"github.com/jrsteele09/cids/permissions"
)

// Role is a named bundle of allowed and denied permissions for one
// application, plus row-level-security filter templates keyed by resource.
type Role struct {
	AppID        string              `json:"appId"`
	Name         string              `json:"name"`
	Description  string              `json:"description,omitempty"`
	Allowed      []string            `json:"allowedPermissions"`
	Denied       []string            `json:"deniedPermissions,omitempty"`
	RLSTemplates map[string][]string `json:"rlsFilters,omitempty"`
}

// Validate checks that every permission string parses.
func (r *Role) Validate() error {
	if strings.TrimSpace(r.AppID) == "" || strings.TrimSpace(r.Name) == "" {
		return errors.Wrapf(errors.ErrInvalidRequest, "role requires app id and name")
	}
	if _, err := permissions.ParseAll(r.Allowed); err != nil {
		return errors.Wrapf(err, "role %s allowed permissions", r.Name)
	}
	if _, err := permissions.ParseAll(r.Denied); err != nil {
		return errors.Wrapf(err, "role %s denied permissions", r.Name)
	}
	return nil
}

// Mapping binds an IdP group to a role of one application. TenantScope,
// when set, restricts the mapping to users of that tenant.
type Mapping struct {
	AppID       string `json:"appId"`
	Group       string `json:"group"`
	RoleName    string `json:"roleName"`
	TenantScope string `json:"tenantScope,omitempty"`
}

func (m *Mapping) Validate() error {
	if m.AppID == "" || m.Group == "" || m.RoleName == "" {
		return errors.Wrapf(errors.ErrInvalidRequest, "role mapping requires app id, group and role name")
	}
	return nil
}

type Repo interface {
	UpsertRole(ctx context.Context, role *Role) error
	DeleteRole(ctx context.Context, appID, name string) error
	ListRoles(ctx context.Context, appID string) ([]*Role, error)
	UpsertMapping(ctx context.Context, mapping *Mapping) error
	DeleteMapping(ctx context.Context, mapping *Mapping) error
	ListMappings(ctx context.Context, appID string) ([]*Mapping, error)
}
