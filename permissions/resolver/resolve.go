package resolver

import (
	"slices"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/cids/permissions"
	"github.com/jrsteele09/cids/roles"
)

// Subject supplies the values substituted into RLS filter templates.
type Subject struct {
	UserID     string
	Email      string
	Department string
	Tenant     string
}

// Input is everything a resolution depends on.
type Input struct {
	AppID    string
	Groups   []string
	Roles    []*roles.Role
	Mappings []*roles.Mapping
	Catalog  []permissions.Discovered
	Subject  Subject
}

// Result is the effective authorization of one user for one application.
type Result struct {
	Roles       []string            `json:"roles"`
	Permissions []string            `json:"permissions"`
	RLSFilters  map[string][]string `json:"rlsFilters,omitempty"`
}

// Resolve computes effective permissions as allowed minus denied across all
// roles the user's groups map to. Deny always wins, including a specific
// deny against a wildcard or category allow. A user with no roles gets
// nothing. The result depends only on in.
func Resolve(in Input) Result {
	matched := matchRoles(in)
	res := Result{
		Roles:       make([]string, 0, len(matched)),
		Permissions: []string{},
	}
	if len(matched) == 0 {
		return res
	}

	catalog := permissions.NewCatalog(in.Catalog)
	var allowed, denied []permissions.Permission
	for _, r := range matched {
		res.Roles = append(res.Roles, r.Name)
		allowed = append(allowed, parseLenient(in.AppID, r.Name, r.Allowed)...)
		denied = append(denied, parseLenient(in.AppID, r.Name, r.Denied)...)
	}

	effective := map[string]struct{}{}
	for _, a := range allowed {
		if a.Kind == permissions.SelectWildcard && !catalog.Has(a.Scope()) {
			// Nothing to expand against: keep the wildcard only if no deny
			// touches the scope, since field denies cannot be applied to it.
			if !touchesScope(denied, a.Scope()) {
				effective[a.String()] = struct{}{}
			}
			continue
		}
		for _, f := range catalog.Expand(a) {
			if !isDenied(denied, catalog, f) {
				effective[f.String()] = struct{}{}
			}
		}
	}
	for p := range effective {
		res.Permissions = append(res.Permissions, p)
	}
	sort.Strings(res.Permissions)

	res.RLSFilters = collectFilters(matched, in.Subject)
	return res
}

func matchRoles(in Input) []*roles.Role {
	byName := make(map[string]*roles.Role, len(in.Roles))
	for _, r := range in.Roles {
		if r.AppID == in.AppID {
			byName[r.Name] = r
		}
	}
	seen := map[string]struct{}{}
	var matched []*roles.Role
	for _, m := range in.Mappings {
		if m.AppID != in.AppID || !slices.Contains(in.Groups, m.Group) {
			continue
		}
		if m.TenantScope != "" && m.TenantScope != in.Subject.Tenant {
			continue
		}
		r, ok := byName[m.RoleName]
		if !ok {
			log.Warn().Str("app_id", in.AppID).Str("role", m.RoleName).Str("group", m.Group).Msg("role mapping references unknown role")
			continue
		}
		if _, dup := seen[r.Name]; dup {
			continue
		}
		seen[r.Name] = struct{}{}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	return matched
}

func parseLenient(appID, role string, in []string) []permissions.Permission {
	out := make([]permissions.Permission, 0, len(in))
	for _, s := range in {
		p, err := permissions.Parse(s)
		if err != nil {
			log.Warn().Err(err).Str("app_id", appID).Str("role", role).Msg("ignoring invalid permission")
			continue
		}
		out = append(out, p)
	}
	return out
}

func isDenied(denied []permissions.Permission, catalog *permissions.Catalog, f permissions.Permission) bool {
	category := catalog.CategoryOf(f.Scope(), f.Field)
	for _, d := range denied {
		if d.Covers(f, category) {
			return true
		}
	}
	return false
}

func touchesScope(denied []permissions.Permission, s permissions.Scope) bool {
	for _, d := range denied {
		if d.Scope() == s {
			return true
		}
	}
	return false
}

func collectFilters(matched []*roles.Role, subject Subject) map[string][]string {
	replacer := strings.NewReplacer(
		"{user_id}", quote(subject.UserID),
		"{email}", quote(subject.Email),
		"{department}", quote(subject.Department),
		"{tenant}", quote(subject.Tenant),
	)
	out := map[string][]string{}
	for _, r := range matched {
		resources := make([]string, 0, len(r.RLSTemplates))
		for res := range r.RLSTemplates {
			resources = append(resources, res)
		}
		sort.Strings(resources)
		for _, res := range resources {
			for _, tmpl := range r.RLSTemplates[res] {
				expr := replacer.Replace(tmpl)
				if !slices.Contains(out[res], expr) {
					out[res] = append(out[res], expr)
				}
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// quote escapes single quotes so substituted values stay inside a SQL
// string literal.
func quote(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}
