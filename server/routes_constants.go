package server

// Route path constants
const (
	// Token validation boundary
	RouteWellKnownJWKS = "/.well-known/jwks.json"
	RouteValidate      = "/auth/validate"
	RouteServiceToken  = "/auth/service-token"

	// Login flow
	RouteLogin    = "/auth/login"
	RouteCallback = "/auth/callback"
	RouteRefresh  = "/auth/refresh"
	RouteLogout   = "/auth/logout"
	RouteIdentity = "/auth/identity"

	// Admin API
	RouteAdminApps            = "/admin/apps"
	RouteAdminApp             = "/admin/apps/{id}"
	RouteAdminAppAPIKeys      = "/admin/apps/{id}/api-keys"
	RouteAdminAppDiscover     = "/admin/apps/{id}/discover"
	RouteAdminAppPermissions  = "/admin/apps/{id}/permissions"
	RouteAdminAPIKeyRotate    = "/admin/api-keys/{id}/rotate"
	RouteAdminAPIKey          = "/admin/api-keys/{id}"
	RouteAdminRoles           = "/admin/roles"
	RouteAdminRoleMappings    = "/admin/role-mappings"
	RouteAdminA2APermissions  = "/admin/a2a-permissions"
	RouteAdminSigningRotate   = "/admin/signing-keys/rotate"
	RouteAdminRevokeToken     = "/admin/tokens/revoke"
	RouteAdminRefreshFamilies = "/admin/refresh-families/{id}"
	RouteAdminUserBlock       = "/admin/users/{id}/block"
	RouteAdminAudit           = "/admin/audit"

	// Operations
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"
)
