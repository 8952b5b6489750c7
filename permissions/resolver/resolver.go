package resolver

import (
	"context"

	"github.com/jrsteele09/cids/internal/errors"
	"github.com/jrsteele09/cids/permissions"
	"github.com/jrsteele09/cids/roles"
)

// Resolver loads roles, mappings and the catalog on every call and hands
// them to Resolve. It keeps no cache.
type Resolver struct {
	roles   roles.Repo
	catalog permissions.Repo
}

func New(rolesRepo roles.Repo, catalogRepo permissions.Repo) (*Resolver, error) {
	if rolesRepo == nil {
		return nil, errors.New("[resolver.New] roles repo is required")
	}
	if catalogRepo == nil {
		return nil, errors.New("[resolver.New] catalog repo is required")
	}
	return &Resolver{roles: rolesRepo, catalog: catalogRepo}, nil
}

// Resolve returns the effective permissions of a user with groups for appID.
func (r *Resolver) Resolve(ctx context.Context, appID string, groups []string, subject Subject) (Result, error) {
	mappings, err := r.roles.ListMappings(ctx, appID)
	if err != nil {
		return Result{}, errors.Wrapf(err, "failed to list role mappings for %s", appID)
	}
	in := Input{AppID: appID, Groups: groups, Mappings: mappings, Subject: subject}
	if !anyMatch(mappings, groups) {
		return Resolve(in), nil
	}

	if in.Roles, err = r.roles.ListRoles(ctx, appID); err != nil {
		return Result{}, errors.Wrapf(err, "failed to list roles for %s", appID)
	}
	if in.Catalog, err = r.catalog.ListPermissions(ctx, appID); err != nil {
		return Result{}, errors.Wrapf(err, "failed to load catalog for %s", appID)
	}
	return Resolve(in), nil
}

// ResolveAll resolves every app and keeps only those where the user holds
// at least one role.
func (r *Resolver) ResolveAll(ctx context.Context, appIDs []string, groups []string, subject Subject) (map[string]Result, error) {
	out := make(map[string]Result)
	for _, appID := range appIDs {
		res, err := r.Resolve(ctx, appID, groups, subject)
		if err != nil {
			return nil, err
		}
		if len(res.Roles) > 0 {
			out[appID] = res
		}
	}
	return out, nil
}

func anyMatch(mappings []*roles.Mapping, groups []string) bool {
	for _, m := range mappings {
		for _, g := range groups {
			if m.Group == g {
				return true
			}
		}
	}
	return false
}
