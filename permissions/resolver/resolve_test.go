package resolver_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/cids/permissions"
	catalogfake "github.com/jrsteele09/cids/permissions/repofake"
	"github.com/jrsteele09/cids/permissions/resolver"
	"github.com/jrsteele09/cids/roles"
	rolesfake "github.com/jrsteele09/cids/roles/repofake"
)

const hrApp = "hr_app"

func employeesCatalog() []permissions.Discovered {
	row := func(field string, c permissions.Category) permissions.Discovered {
		return permissions.Discovered{AppID: hrApp, Resource: "employees", Action: "read", Field: field, Category: c, Sensitive: c == permissions.CategorySensitive}
	}
	return []permissions.Discovered{
		row("id", permissions.CategoryBase),
		row("name", permissions.CategoryPII),
		row("ssn", permissions.CategorySensitive),
		row("salary", permissions.CategoryFinancial),
		row("*", permissions.CategoryBase),
	}
}

func TestHRManagerScenario(t *testing.T) {
	res := resolver.Resolve(resolver.Input{
		AppID:  hrApp,
		Groups: []string{"hr-staff"},
		Roles: []*roles.Role{{
			AppID:   hrApp,
			Name:    "hr_manager",
			Allowed: []string{"employees.read.base", "employees.read.pii"},
			Denied:  []string{"employees.read.ssn"},
		}},
		Mappings: []*roles.Mapping{{AppID: hrApp, Group: "hr-staff", RoleName: "hr_manager"}},
		Catalog:  employeesCatalog(),
	})

	require.Equal(t, []string{"hr_manager"}, res.Roles)
	require.Equal(t, []string{"employees.read.id", "employees.read.name"}, res.Permissions)
}

func TestWildcardAllowSpecificDeny(t *testing.T) {
	res := resolver.Resolve(resolver.Input{
		AppID:  hrApp,
		Groups: []string{"g"},
		Roles: []*roles.Role{{
			AppID:   hrApp,
			Name:    "reader",
			Allowed: []string{"employees.read.*"},
			Denied:  []string{"employees.read.ssn"},
		}},
		Mappings: []*roles.Mapping{{AppID: hrApp, Group: "g", RoleName: "reader"}},
		Catalog:  employeesCatalog(),
	})

	require.Equal(t, []string{"employees.read.id", "employees.read.name", "employees.read.salary"}, res.Permissions)
}

func TestDenyPrecedenceIsOrderIndependent(t *testing.T) {
	allow := &roles.Role{AppID: hrApp, Name: "a_payroll", Allowed: []string{"employees.read.salary", "employees.read.id"}}
	deny := &roles.Role{AppID: hrApp, Name: "z_restricted", Allowed: []string{"employees.read.id"}, Denied: []string{"employees.read.financial"}}
	mappings := []*roles.Mapping{
		{AppID: hrApp, Group: "payroll", RoleName: "a_payroll"},
		{AppID: hrApp, Group: "contractors", RoleName: "z_restricted"},
	}

	for _, order := range [][]*roles.Role{{allow, deny}, {deny, allow}} {
		res := resolver.Resolve(resolver.Input{
			AppID:    hrApp,
			Groups:   []string{"contractors", "payroll"},
			Roles:    order,
			Mappings: mappings,
			Catalog:  employeesCatalog(),
		})
		require.Equal(t, []string{"employees.read.id"}, res.Permissions)
		require.Equal(t, []string{"a_payroll", "z_restricted"}, res.Roles)
	}
}

func TestZeroRolesDenyByDefault(t *testing.T) {
	res := resolver.Resolve(resolver.Input{
		AppID:    hrApp,
		Groups:   []string{"unmapped"},
		Roles:    []*roles.Role{{AppID: hrApp, Name: "reader", Allowed: []string{"employees.read.*"}}},
		Mappings: []*roles.Mapping{{AppID: hrApp, Group: "g", RoleName: "reader"}},
		Catalog:  employeesCatalog(),
	})
	require.Empty(t, res.Permissions)
	require.Empty(t, res.Roles)
	require.Nil(t, res.RLSFilters)
}

func TestWildcardWithoutCatalog(t *testing.T) {
	mappings := []*roles.Mapping{{AppID: hrApp, Group: "g", RoleName: "r"}}

	res := resolver.Resolve(resolver.Input{
		AppID:    hrApp,
		Groups:   []string{"g"},
		Roles:    []*roles.Role{{AppID: hrApp, Name: "r", Allowed: []string{"orders.read.*", "orders.read.pii"}}},
		Mappings: mappings,
	})
	require.Equal(t, []string{"orders.read.*"}, res.Permissions)

	res = resolver.Resolve(resolver.Input{
		AppID:    hrApp,
		Groups:   []string{"g"},
		Roles:    []*roles.Role{{AppID: hrApp, Name: "r", Allowed: []string{"orders.read.*"}, Denied: []string{"orders.read.card"}}},
		Mappings: mappings,
	})
	require.Empty(t, res.Permissions, "cannot subtract a field from an unexpanded wildcard")
}

func TestRLSFilterSubstitution(t *testing.T) {
	res := resolver.Resolve(resolver.Input{
		AppID:  hrApp,
		Groups: []string{"g1", "g2"},
		Roles: []*roles.Role{
			{AppID: hrApp, Name: "dept", Allowed: []string{"employees.read.id"}, RLSTemplates: map[string][]string{
				"employees": {"department = '{department}'"},
			}},
			{AppID: hrApp, Name: "self", Allowed: []string{"employees.read.id"}, RLSTemplates: map[string][]string{
				"employees": {"owner_email = '{email}'", "department = '{department}'"},
				"timesheets": {"user_id = '{user_id}'"},
			}},
		},
		Mappings: []*roles.Mapping{
			{AppID: hrApp, Group: "g1", RoleName: "dept"},
			{AppID: hrApp, Group: "g2", RoleName: "self"},
		},
		Subject: resolver.Subject{UserID: "u1", Email: "o'neil@example.com", Department: "HR"},
	})

	require.Equal(t, map[string][]string{
		"employees":  {"department = 'HR'", "owner_email = 'o''neil@example.com'"},
		"timesheets": {"user_id = 'u1'"},
	}, res.RLSFilters)
}

func TestTenantScopedMapping(t *testing.T) {
	in := resolver.Input{
		AppID:    hrApp,
		Groups:   []string{"g"},
		Roles:    []*roles.Role{{AppID: hrApp, Name: "r", Allowed: []string{"employees.read.id"}}},
		Mappings: []*roles.Mapping{{AppID: hrApp, Group: "g", RoleName: "r", TenantScope: "acme"}},
		Subject:  resolver.Subject{Tenant: "other"},
	}
	require.Empty(t, resolver.Resolve(in).Roles)

	in.Subject.Tenant = "acme"
	require.Equal(t, []string{"r"}, resolver.Resolve(in).Roles)
}

func TestResolverReflectsMappingChanges(t *testing.T) {
	ctx := context.Background()
	rolesRepo := rolesfake.NewFakeRolesRepo()
	catalogRepo := catalogfake.NewFakeCatalogRepo()
	require.NoError(t, catalogRepo.ReplacePermissions(ctx, hrApp, employeesCatalog()))
	require.NoError(t, rolesRepo.UpsertRole(ctx, &roles.Role{AppID: hrApp, Name: "reader", Allowed: []string{"employees.read.base"}}))

	r, err := resolver.New(rolesRepo, catalogRepo)
	require.NoError(t, err)

	res, err := r.Resolve(ctx, hrApp, []string{"g"}, resolver.Subject{})
	require.NoError(t, err)
	require.Empty(t, res.Permissions)

	require.NoError(t, rolesRepo.UpsertMapping(ctx, &roles.Mapping{AppID: hrApp, Group: "g", RoleName: "reader"}))
	res, err = r.Resolve(ctx, hrApp, []string{"g"}, resolver.Subject{})
	require.NoError(t, err)
	require.Equal(t, []string{"employees.read.id"}, res.Permissions)

	all, err := r.ResolveAll(ctx, []string{hrApp, "other_app"}, []string{"g"}, resolver.Subject{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Contains(t, all, hrApp)
}
