package permissions_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/cids/permissions"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		kind permissions.SelectorKind
	}{
		{"employees.read.ssn", permissions.SelectField},
		{"employees.read.pii", permissions.SelectCategory},
		{"employees.read.*", permissions.SelectWildcard},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			p, err := permissions.Parse(c.in)
			require.NoError(t, err)
			require.Equal(t, c.kind, p.Kind)
			require.Equal(t, c.in, p.String())
		})
	}

	for _, bad := range []string{"", "employees.read", "a.b.c.d", "employees..ssn", "emp*.read.x", "employees.read.s*"} {
		_, err := permissions.Parse(bad)
		require.Error(t, err, bad)
	}
}

func TestCovers(t *testing.T) {
	ssn := permissions.FieldPermission("employees", "read", "ssn")

	require.True(t, permissions.MustParse("employees.read.*").Covers(ssn, permissions.CategorySensitive))
	require.True(t, permissions.MustParse("employees.read.sensitive").Covers(ssn, permissions.CategorySensitive))
	require.False(t, permissions.MustParse("employees.read.pii").Covers(ssn, permissions.CategorySensitive))
	require.False(t, permissions.MustParse("employees.update.*").Covers(ssn, permissions.CategorySensitive))
	require.True(t, permissions.MustParse("employees.read.ssn").Covers(ssn, ""))
	require.False(t, permissions.MustParse("employees.read.sensitive").Covers(ssn, ""))
}

func TestCatalogExpand(t *testing.T) {
	catalog := permissions.NewCatalog([]permissions.Discovered{
		{AppID: "hr", Resource: "employees", Action: "read", Field: "id", Category: permissions.CategoryBase},
		{AppID: "hr", Resource: "employees", Action: "read", Field: "name", Category: permissions.CategoryPII},
		{AppID: "hr", Resource: "employees", Action: "read", Field: "email", Category: permissions.CategoryPII},
		{AppID: "hr", Resource: "employees", Action: "read", Field: "*", Category: permissions.CategoryBase},
	})

	var got []string
	for _, p := range catalog.Expand(permissions.MustParse("employees.read.pii")) {
		got = append(got, p.String())
	}
	require.Equal(t, []string{"employees.read.email", "employees.read.name"}, got)

	require.Len(t, catalog.Expand(permissions.MustParse("employees.read.*")), 3)
	require.Empty(t, catalog.Expand(permissions.MustParse("payroll.read.*")))
	require.Len(t, catalog.Expand(permissions.MustParse("payroll.read.amount")), 1)
}
