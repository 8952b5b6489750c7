package roles_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/cids/roles"
)

func TestRoleValidate(t *testing.T) {
	r := &roles.Role{
		AppID:   "hr_app",
		Name:    "hr_manager",
		Allowed: []string{"employees.read.base", "employees.read.pii"},
		Denied:  []string{"employees.read.ssn"},
	}
	require.NoError(t, r.Validate())

	r.Denied = append(r.Denied, "employees.ssn")
	require.Error(t, r.Validate())

	require.Error(t, (&roles.Role{Name: "x"}).Validate())
}

func TestMappingValidate(t *testing.T) {
	require.NoError(t, (&roles.Mapping{AppID: "a", Group: "g", RoleName: "r"}).Validate())
	require.Error(t, (&roles.Mapping{AppID: "a", Group: "g"}).Validate())
}
