package server

func (s *Server) initRoutes() {
	// Token validation boundary
	s.RegisterRouteHandler("GET "+RouteWellKnownJWKS, ChainMiddleware(s.JWKSHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteValidate, ChainMiddleware(s.ValidateHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteServiceToken, ChainMiddleware(s.ServiceTokenHandler(), s.RateLimitedAPIMiddleware()...))

	// LOGIN
	s.RegisterRouteHandler("GET "+RouteLogin, ChainMiddleware(s.LoginHandler(), s.RateLimitedAPIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteCallback, ChainMiddleware(s.CallbackHandler(), s.RateLimitedAPIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteCallback, ChainMiddleware(s.CallbackHandler(), s.RateLimitedAPIMiddleware()...)) // form_post response mode
	s.RegisterRouteHandler("POST "+RouteRefresh, ChainMiddleware(s.RefreshHandler(), s.RateLimitedAPIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteLogout, ChainMiddleware(s.LogoutHandler(), s.RateLimitedAPIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteIdentity, ChainMiddleware(s.IdentityHandler(), s.APIMiddleware()...))

	// Admin routes (require the admin bearer token)
	s.RegisterRouteHandler("POST "+RouteAdminApps, ChainMiddleware(s.RegisterAppHandler(), s.AdminMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAdminApps, ChainMiddleware(s.ListAppsHandler(), s.AdminMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAdminApp, ChainMiddleware(s.GetAppHandler(), s.AdminMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAdminAppAPIKeys, ChainMiddleware(s.CreateAPIKeyHandler(), s.AdminMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAdminAppAPIKeys, ChainMiddleware(s.ListAPIKeysHandler(), s.AdminMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAdminAppDiscover, ChainMiddleware(s.DiscoverHandler(), s.AdminMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAdminAppPermissions, ChainMiddleware(s.AppPermissionsHandler(), s.AdminMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAdminAPIKeyRotate, ChainMiddleware(s.RotateAPIKeyHandler(), s.AdminMiddleware()...))
	s.RegisterRouteHandler("DELETE "+RouteAdminAPIKey, ChainMiddleware(s.RevokeAPIKeyHandler(), s.AdminMiddleware()...))
	s.RegisterRouteHandler("PUT "+RouteAdminRoles, ChainMiddleware(s.UpsertRoleHandler(), s.AdminMiddleware()...))
	s.RegisterRouteHandler("PUT "+RouteAdminRoleMappings, ChainMiddleware(s.UpsertRoleMappingHandler(), s.AdminMiddleware()...))
	s.RegisterRouteHandler("DELETE "+RouteAdminRoleMappings, ChainMiddleware(s.DeleteRoleMappingHandler(), s.AdminMiddleware()...))
	s.RegisterRouteHandler("PUT "+RouteAdminA2APermissions, ChainMiddleware(s.UpsertA2AHandler(), s.AdminMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAdminSigningRotate, ChainMiddleware(s.RotateSigningKeyHandler(), s.AdminMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAdminRevokeToken, ChainMiddleware(s.RevokeTokenHandler(), s.AdminMiddleware()...))
	s.RegisterRouteHandler("DELETE "+RouteAdminRefreshFamilies, ChainMiddleware(s.RevokeFamilyHandler(), s.AdminMiddleware()...))
	s.RegisterRouteHandler("PUT "+RouteAdminUserBlock, ChainMiddleware(s.BlockUserHandler(), s.AdminMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAdminAudit, ChainMiddleware(s.AuditHandler(), s.AdminMiddleware()...))

	s.RegisterRouteHandler("GET "+RouteHealth, ChainMiddleware(s.HealthHandler(), s.RecoverMiddleware))
	if s.deps.Metrics != nil {
		s.RegisterRouteHandler("GET "+RouteMetrics, s.deps.Metrics.Handler())
	}
}
