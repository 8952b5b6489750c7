package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/cids/a2a"
	a2afake "github.com/jrsteele09/cids/a2a/repofake"
	"github.com/jrsteele09/cids/apikeys"
	apikeyfake "github.com/jrsteele09/cids/apikeys/repofake"
	"github.com/jrsteele09/cids/audit"
	auditfake "github.com/jrsteele09/cids/audit/repofake"
	"github.com/jrsteele09/cids/broker"
	"github.com/jrsteele09/cids/broker/flowstate"
	"github.com/jrsteele09/cids/clients"
	fakeclientrepo "github.com/jrsteele09/cids/clients/fakerepo"
	"github.com/jrsteele09/cids/discovery"
	"github.com/jrsteele09/cids/internal/config"
	"github.com/jrsteele09/cids/internal/errors"
	"github.com/jrsteele09/cids/internal/metrics"
	"github.com/jrsteele09/cids/permissions"
	catalogfake "github.com/jrsteele09/cids/permissions/repofake"
	"github.com/jrsteele09/cids/permissions/resolver"
	"github.com/jrsteele09/cids/roles"
	rolesfake "github.com/jrsteele09/cids/roles/repofake"
	"github.com/jrsteele09/cids/server"
	"github.com/jrsteele09/cids/token"
	"github.com/jrsteele09/cids/token/jwt"
	"github.com/jrsteele09/cids/token/keys"
	"github.com/jrsteele09/cids/token/refresh"
	refreshfake "github.com/jrsteele09/cids/token/refresh/repofake"
	fakeuserrepo "github.com/jrsteele09/cids/users/repofake"
)

const (
	adminToken = "test-admin-token"
	hrApp      = "hr_app"
	clientIP   = "10.0.0.1"
	returnURL  = "https://hr.example/app"
	// httptest.NewRequest peers come from 192.0.2.1
	proxyPeer     = "192.0.2.1:1234"
	untrustedPeer = "198.51.100.7:4000"
)

type fakeIdP struct {
	mu         sync.Mutex
	identities map[string]*broker.ExternalIdentity
	verifiers  map[string]string
	lastQuery  url.Values
}

func (p *fakeIdP) AuthCodeURL(state, nonce, verifier string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	q := url.Values{"state": {state}, "nonce": {nonce}, "verifier": {verifier}}
	p.lastQuery = q
	return "https://idp.test/authorize?" + q.Encode()
}

func (p *fakeIdP) issue(code string, ident broker.ExternalIdentity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ident.Nonce = p.lastQuery.Get("nonce")
	p.identities[code] = &ident
	p.verifiers[code] = p.lastQuery.Get("verifier")
}

func (p *fakeIdP) Exchange(_ context.Context, code, verifier string) (*broker.ExternalIdentity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ident, ok := p.identities[code]
	if !ok || p.verifiers[code] != verifier {
		return nil, errors.Wrapf(errors.ErrIdPError, "invalid_grant")
	}
	delete(p.identities, code)
	out := *ident
	return &out, nil
}

type testFixture struct {
	srv       *server.Server
	idp       *fakeIdP
	codec     *jwt.Codec
	keys      *keys.Manager
	clients   *fakeclientrepo.FakeClientRepo
	users     *fakeuserrepo.FakeUserRepo
	auditRepo *auditfake.FakeAuditRepo
	fetcher   discovery.FetcherFunc
	health    error
}

func setupTestFixture(t *testing.T, env ...string) *testFixture {
	t.Helper()
	t.Setenv("ADMIN_TOKEN", adminToken)
	t.Setenv("ENV", "TEST")
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	t.Setenv("TRUSTED_PROXY_CIDRS", "192.0.2.0/24")
	for i := 0; i+1 < len(env); i += 2 {
		t.Setenv(env[i], env[i+1])
	}
	cfg := config.New()
	ctx := context.Background()

	f := &testFixture{
		idp: &fakeIdP{
			identities: make(map[string]*broker.ExternalIdentity),
			verifiers:  make(map[string]string),
		},
		keys:      keys.NewManager(),
		clients:   fakeclientrepo.NewFakeClientRepo(),
		users:     fakeuserrepo.NewFakeUserRepo(),
		auditRepo: auditfake.NewFakeAuditRepo(),
	}
	auditLog := audit.NewLog(f.auditRepo)

	require.NoError(t, f.clients.Upsert(ctx, &clients.Client{
		ID:                hrApp,
		Name:              "HR",
		IsActive:          true,
		RedirectURIs:      []string{returnURL},
		AllowDiscovery:    true,
		DiscoveryEndpoint: "https://hr.example/discovery/endpoints",
	}))

	catalog := catalogfake.NewFakeCatalogRepo()
	require.NoError(t, catalog.ReplacePermissions(ctx, hrApp, []permissions.Discovered{
		{AppID: hrApp, Resource: "employees", Action: "read", Field: "id", Category: permissions.CategoryBase},
		{AppID: hrApp, Resource: "employees", Action: "read", Field: "ssn", Category: permissions.CategorySensitive},
	}))
	roleRepo := rolesfake.NewFakeRolesRepo()
	require.NoError(t, roleRepo.UpsertRole(ctx, &roles.Role{
		AppID:   hrApp,
		Name:    "hr_manager",
		Allowed: []string{"employees.read.*"},
		Denied:  []string{"employees.read.sensitive"},
	}))
	require.NoError(t, roleRepo.UpsertMapping(ctx, &roles.Mapping{AppID: hrApp, Group: "hr", RoleName: "hr_manager"}))

	res, err := resolver.New(roleRepo, catalog)
	require.NoError(t, err)

	f.codec, err = jwt.NewCodec(f.keys, "https://cids.test", cfg.GetAccessTokenExpiry(),
		jwt.WithRevocationList(token.NewInMemoryRevocationList()),
		jwt.WithAuditor(auditLog),
	)
	require.NoError(t, err)

	refreshTokens, err := refresh.NewManager(refreshfake.NewFakeRefreshRepo(), cfg.GetRefreshTokenExpiry(), refresh.WithAuditor(auditLog))
	require.NoError(t, err)

	b, err := broker.New(f.idp,
		broker.Repos{Users: f.users, Clients: f.clients, Flows: flowstate.NewInMemoryRepo()},
		res, f.codec, refreshTokens,
		broker.WithIPBinding(true),
		broker.WithAuditor(auditLog),
	)
	require.NoError(t, err)

	apiKeys, err := apikeys.NewManager(apikeyfake.NewFakeAPIKeyRepo(), apikeys.WithAuditor(auditLog))
	require.NoError(t, err)
	t.Cleanup(apiKeys.WaitUsage)

	policies := a2afake.NewFakeA2ARepo()
	issuer, err := a2a.NewIssuer(apiKeys, policies, f.clients, f.codec, a2a.WithAuditor(auditLog))
	require.NoError(t, err)

	f.fetcher = func(context.Context, string) (*discovery.Response, error) {
		return nil, errors.Wrapf(errors.ErrDiscoveryFetch, "connection refused")
	}
	disc, err := discovery.NewCatalog(f.clients, catalog, discovery.FetcherFunc(func(ctx context.Context, endpoint string) (*discovery.Response, error) {
		return f.fetcher(ctx, endpoint)
	}), discovery.WithAuditor(auditLog))
	require.NoError(t, err)

	f.srv, err = server.New(cfg, server.Deps{
		Keys:        f.keys,
		Codec:       f.codec,
		Broker:      b,
		Refresh:     refreshTokens,
		APIKeys:     apiKeys,
		A2A:         issuer,
		A2APolicies: policies,
		Discovery:   disc,
		Clients:     f.clients,
		Roles:       roleRepo,
		Users:       f.users,
		Audit:       auditLog,
		Metrics:     metrics.New(),
		Health:      func(context.Context) error { return f.health },
	})
	require.NoError(t, err)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *testFixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	return f.doFrom(t, proxyPeer, method, path, body, headers)
}

// doFrom sends the request as if it arrived from the given peer address.
func (f *testFixture) doFrom(t *testing.T, peer, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = peer
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func (f *testFixture) admin(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, method, path, body, map[string]string{"Authorization": "Bearer " + adminToken})
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func bearer(tok string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tok, "X-Client-IP": clientIP}
}

// forApp adds the audience header /auth/validate checks tokens against.
func forApp(headers map[string]string, appID string) map[string]string {
	headers["X-Expected-Audience"] = appID
	return headers
}

// login drives the browser flow through the HTTP surface.
func (f *testFixture) login(t *testing.T) broker.TokenSet {
	t.Helper()
	rec := f.do(t, http.MethodGet, "/auth/login?return_url="+url.QueryEscape(returnURL), nil, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	f.idp.issue("code-1", broker.ExternalIdentity{
		Subject:    "alice-sub",
		Email:      "alice@example.com",
		Name:       "Alice",
		Department: "HR",
		Groups:     []string{"hr"},
	})
	rec = f.do(t, http.MethodGet, "/auth/callback?state="+state+"&code=code-1", nil, map[string]string{"X-Client-IP": clientIP})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[broker.TokenSet](t, rec)
}

type validateResponse struct {
	Valid  bool           `json:"valid"`
	Claims map[string]any `json:"claims"`
	Error  string         `json:"error"`
}

func TestJWKS(t *testing.T) {
	f := setupTestFixture(t)

	rec := f.do(t, http.MethodGet, "/.well-known/jwks.json", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Cache-Control"), "public")
	jwks := decode[keys.JWKS](t, rec)
	require.Len(t, jwks.Keys, 1)
}

func TestLoginValidateRefreshLogout(t *testing.T) {
	f := setupTestFixture(t)
	tokens := f.login(t)
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
	require.Equal(t, returnURL, tokens.ReturnURL)

	headers := bearer(tokens.AccessToken)
	headers["X-Expected-Audience"] = hrApp
	rec := f.do(t, http.MethodPost, "/auth/validate", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	v := decode[validateResponse](t, rec)
	require.True(t, v.Valid)
	require.Equal(t, "alice-sub", v.Claims["sub"])

	// Same token from another address
	headers["X-Client-IP"] = "10.9.9.9"
	rec = f.do(t, http.MethodPost, "/auth/validate", nil, headers)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	v = decode[validateResponse](t, rec)
	require.False(t, v.Valid)
	require.Equal(t, "invalid_token", v.Error)

	rec = f.do(t, http.MethodGet, "/auth/identity?app_id="+hrApp, nil, bearer(tokens.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ident := decode[broker.Identity](t, rec)
	require.Equal(t, []string{"hr_manager"}, ident.Roles)
	require.Equal(t, []string{"employees.read.id"}, ident.Permissions)

	rec = f.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": tokens.RefreshToken}, map[string]string{"X-Client-IP": clientIP})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rotated := decode[broker.TokenSet](t, rec)
	require.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)

	// Replaying the spent token revokes the family
	rec = f.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": tokens.RefreshToken}, map[string]string{"X-Client-IP": clientIP})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid_grant")

	rec = f.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": rotated.RefreshToken}, map[string]string{"X-Client-IP": clientIP})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/auth/logout", map[string]string{"refresh_token": rotated.RefreshToken}, bearer(tokens.AccessToken))
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodPost, "/auth/logout", map[string]string{"refresh_token": rotated.RefreshToken}, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	headers["X-Client-IP"] = clientIP
	rec = f.do(t, http.MethodPost, "/auth/validate", nil, headers)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginRejectsUnknownReturnURL(t *testing.T) {
	f := setupTestFixture(t)

	rec := f.do(t, http.MethodGet, "/auth/login?return_url="+url.QueryEscape("https://evil.example/"), nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackStateMismatch(t *testing.T) {
	f := setupTestFixture(t)

	rec := f.do(t, http.MethodGet, "/auth/callback?state=forged&code=x", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid_token")
}

func TestValidateMissingBearer(t *testing.T) {
	f := setupTestFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/validate", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, decode[validateResponse](t, rec).Valid)
}

func TestAdminRequiresToken(t *testing.T) {
	f := setupTestFixture(t)

	rec := f.do(t, http.MethodGet, "/admin/apps", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(t, http.MethodGet, "/admin/apps", nil, map[string]string{"Authorization": "Bearer nope"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.admin(t, http.MethodGet, "/admin/apps", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

type registerResponse struct {
	App    clients.Client   `json:"app"`
	APIKey *apikeys.Created `json:"apiKey"`
}

func TestServiceTokenFlow(t *testing.T) {
	f := setupTestFixture(t)

	rec := f.admin(t, http.MethodPost, "/admin/apps", map[string]any{"id": "billing", "name": "Billing", "createApiKey": true})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	reg := decode[registerResponse](t, rec)
	require.True(t, reg.App.IsActive)
	require.NotNil(t, reg.APIKey)
	require.True(t, strings.HasPrefix(reg.APIKey.Key, apikeys.KeyPrefix))

	rec = f.admin(t, http.MethodPost, "/admin/apps", map[string]any{"id": "billing", "name": "Billing"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.admin(t, http.MethodPost, "/admin/apps", map[string]any{"id": "inventory", "name": "Inventory"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.admin(t, http.MethodPut, "/admin/a2a-permissions", a2a.Permission{
		SourceAppID:      "billing",
		TargetAppID:      "inventory",
		AllowedScopes:    []string{"inventory.read"},
		MaxTokenDuration: 300,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	keyHeader := map[string]string{"X-API-Key": reg.APIKey.Key}
	rec = f.do(t, http.MethodPost, "/auth/service-token", map[string]any{
		"target_client_id": "inventory",
		"requested_scopes": []string{"inventory.read"},
		"duration":         120,
	}, keyHeader)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expires_in"`
	}](t, rec)
	require.Equal(t, int64(120), resp.ExpiresIn)

	claims, err := f.codec.VerifyAccessToken(context.Background(), resp.Token, jwt.VerifyOptions{ExpectedAudience: "inventory"})
	require.NoError(t, err)
	require.Equal(t, jwt.TokenTypeService, claims.TokenType)
	require.Equal(t, "billing", claims.Subject)

	// Validation without an audience only accepts tokens addressed to CIDS
	rec = f.do(t, http.MethodPost, "/auth/validate", nil, bearer(resp.Token))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, decode[validateResponse](t, rec).Valid)
	rec = f.do(t, http.MethodPost, "/auth/validate", nil, forApp(bearer(resp.Token), "billing"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(t, http.MethodPost, "/auth/validate", nil, forApp(bearer(resp.Token), "inventory"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, decode[validateResponse](t, rec).Valid)

	rec = f.do(t, http.MethodPost, "/auth/service-token", map[string]any{
		"target_client_id": "inventory",
		"requested_scopes": []string{"inventory.delete"},
	}, keyHeader)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/auth/service-token", map[string]any{"target_client_id": "inventory"}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// The key itself validates as a credential
	rec = f.do(t, http.MethodPost, "/auth/validate", nil, map[string]string{"Authorization": "Bearer " + reg.APIKey.Key})
	require.Equal(t, http.StatusOK, rec.Code)
	v := decode[validateResponse](t, rec)
	require.True(t, v.Valid)
	require.Equal(t, "billing", v.Claims["client_id"])
}

func TestAPIKeyRotateAndRevoke(t *testing.T) {
	f := setupTestFixture(t)

	rec := f.admin(t, http.MethodPost, "/admin/apps/"+hrApp+"/api-keys", map[string]any{"name": "hr-svc"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[apikeys.Created](t, rec)

	rec = f.admin(t, http.MethodPost, "/admin/api-keys/"+created.APIKey.ID+"/rotate", map[string]any{"graceSeconds": 0})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rotated := decode[apikeys.Created](t, rec)
	require.NotEqual(t, created.Key, rotated.Key)

	rec = f.do(t, http.MethodPost, "/auth/validate", nil, map[string]string{"Authorization": "Bearer " + created.Key})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.admin(t, http.MethodDelete, "/admin/api-keys/"+rotated.APIKey.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodPost, "/auth/validate", nil, map[string]string{"Authorization": "Bearer " + rotated.Key})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.admin(t, http.MethodPost, "/admin/apps/missing/api-keys", map[string]any{})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDiscoverEndpoint(t *testing.T) {
	f := setupTestFixture(t)

	rec := f.admin(t, http.MethodPost, "/admin/apps/"+hrApp+"/discover", nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	f.fetcher = func(context.Context, string) (*discovery.Response, error) {
		return &discovery.Response{
			Version: discovery.ContractVersion,
			AppID:   hrApp,
			AppName: "HR",
			Endpoints: []discovery.Endpoint{{
				Method:   "GET",
				Path:     "/employees",
				Resource: "employees",
				Action:   "read",
				ResponseFields: map[string]discovery.Field{
					"id":     {Type: "string", Category: "base"},
					"salary": {Type: "number", Category: "financial"},
				},
			}},
		}, nil
	}
	rec = f.admin(t, http.MethodPost, "/admin/apps/"+hrApp+"/discover?force=true", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decode[discovery.RunResult](t, rec)
	require.Equal(t, clients.DiscoverySuccess, run.Status)

	rec = f.admin(t, http.MethodGet, "/admin/apps/"+hrApp+"/permissions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "salary")

	rec = f.admin(t, http.MethodPost, "/admin/apps", map[string]any{"id": "quiet", "name": "Quiet"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = f.admin(t, http.MethodPost, "/admin/apps/quiet/discover", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestRoleAdministration(t *testing.T) {
	f := setupTestFixture(t)

	rec := f.admin(t, http.MethodPut, "/admin/roles", roles.Role{AppID: hrApp, Name: "auditor", Allowed: []string{"employees.read.base"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.admin(t, http.MethodPut, "/admin/roles", roles.Role{AppID: hrApp, Name: "broken", Allowed: []string{"not a permission"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.admin(t, http.MethodPut, "/admin/roles", roles.Role{AppID: "nope", Name: "x"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	mapping := roles.Mapping{AppID: hrApp, Group: "audit", RoleName: "auditor"}
	rec = f.admin(t, http.MethodPut, "/admin/role-mappings", mapping)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.admin(t, http.MethodDelete, "/admin/role-mappings", mapping)
	require.Equal(t, http.StatusNoContent, rec.Code)

	entries, err := f.auditRepo.List(context.Background(), audit.Filter{Action: audit.ActionPolicyUpdated})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "admin", entries[0].Actor)
}

func TestSigningKeyRotation(t *testing.T) {
	f := setupTestFixture(t)
	tokens := f.login(t)

	rec := f.admin(t, http.MethodPost, "/admin/signing-keys/rotate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/.well-known/jwks.json", nil, nil)
	require.Len(t, decode[keys.JWKS](t, rec).Keys, 2)

	// Tokens signed before rotation still verify
	rec = f.do(t, http.MethodPost, "/auth/validate", nil, forApp(bearer(tokens.AccessToken), hrApp))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminRevokeToken(t *testing.T) {
	f := setupTestFixture(t)
	tokens := f.login(t)

	claims, err := f.codec.VerifyAccessToken(context.Background(), tokens.AccessToken, jwt.VerifyOptions{ExpectedAudience: hrApp, ObservedIP: clientIP})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/auth/validate", nil, forApp(bearer(tokens.AccessToken), hrApp))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.admin(t, http.MethodPost, "/admin/tokens/revoke", map[string]any{"jti": claims.ID})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/auth/validate", nil, forApp(bearer(tokens.AccessToken), hrApp))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBlockedUserCannotRefresh(t *testing.T) {
	f := setupTestFixture(t)
	tokens := f.login(t)

	rec := f.admin(t, http.MethodPut, "/admin/users/alice-sub/block", map[string]bool{"blocked": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": tokens.RefreshToken}, map[string]string{"X-Client-IP": clientIP})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.admin(t, http.MethodGet, "/admin/audit?action="+audit.ActionUserBlocked, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "alice-sub")
}

func TestRateLimit(t *testing.T) {
	f := setupTestFixture(t, "RATE_LIMIT_ENABLED", "true", "RATE_LIMIT_RPS", "1", "RATE_LIMIT_BURST", "1")

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := f.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": fmt.Sprintf("rt-%d", i)}, nil)
		codes = append(codes, rec.Code)
	}
	require.Equal(t, http.StatusUnauthorized, codes[0])
	require.Contains(t, codes[1:], http.StatusTooManyRequests)

	// Validation is not rate limited
	rec := f.do(t, http.MethodGet, "/.well-known/jwks.json", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitKeysOnPeerAddress(t *testing.T) {
	f := setupTestFixture(t, "RATE_LIMIT_ENABLED", "true", "RATE_LIMIT_RPS", "1", "RATE_LIMIT_BURST", "1")

	limited := 0
	for i := 0; i < 20; i++ {
		headers := map[string]string{"X-Client-IP": fmt.Sprintf("10.1.1.%d", i+1)}
		rec := f.doFrom(t, untrustedPeer, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": "rt"}, headers)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	require.GreaterOrEqual(t, limited, 15, "rotating X-Client-IP must not reset the bucket")

	// Even a trusted proxy shares one bucket across the clients it forwards
	f.doFrom(t, proxyPeer, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": "rt"}, map[string]string{"X-Client-IP": "10.2.2.1"})
	rec := f.doFrom(t, proxyPeer, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": "rt"}, map[string]string{"X-Client-IP": "10.2.2.2"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = f.doFrom(t, "203.0.113.9:5000", http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": "rt"}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code, "other peers keep their own bucket")
}

func TestClientIPHeaderOnlyFromTrustedProxies(t *testing.T) {
	f := setupTestFixture(t)
	tokens := f.login(t)
	identity := "/auth/identity?app_id=" + hrApp

	// A stolen token replayed from elsewhere cannot claim the bound address
	rec := f.doFrom(t, untrustedPeer, http.MethodGet, identity, nil, bearer(tokens.AccessToken))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.doFrom(t, untrustedPeer, http.MethodPost, "/auth/validate", nil, forApp(bearer(tokens.AccessToken), hrApp))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// The bound address itself, with no header, is accepted
	rec = f.doFrom(t, clientIP+":5555", http.MethodGet, identity, nil, map[string]string{"Authorization": "Bearer " + tokens.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// A trusted proxy forwarding for the bound address is accepted
	rec = f.doFrom(t, proxyPeer, http.MethodGet, identity, nil, bearer(tokens.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestClientIPHeaderIgnoredWithoutTrustedProxies(t *testing.T) {
	f := setupTestFixture(t, "TRUSTED_PROXY_CIDRS", "")

	rec := f.do(t, http.MethodGet, "/auth/login?return_url="+url.QueryEscape(returnURL), nil, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	f.idp.issue("code-2", broker.ExternalIdentity{Subject: "bob-sub", Email: "bob@example.com", Groups: []string{"hr"}})

	rec = f.doFrom(t, untrustedPeer, http.MethodGet, "/auth/callback?state="+loc.Query().Get("state")+"&code=code-2", nil, map[string]string{"X-Client-IP": clientIP})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tokens := decode[broker.TokenSet](t, rec)

	claims, err := f.codec.VerifyAccessToken(context.Background(), tokens.AccessToken, jwt.VerifyOptions{ExpectedAudience: hrApp, ObservedIP: "198.51.100.7"})
	require.NoError(t, err)
	require.Equal(t, "198.51.100.7", claims.BoundIP)
}

func TestHealth(t *testing.T) {
	f := setupTestFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	f.health = errors.New("database unreachable")
	rec = f.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsExposed(t *testing.T) {
	f := setupTestFixture(t)
	f.do(t, http.MethodGet, "/.well-known/jwks.json", nil, nil)

	rec := f.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "cids_http_requests_total")
}

func TestRecoverMiddleware(t *testing.T) {
	f := setupTestFixture(t)

	h := server.ChainMiddleware(func(http.ResponseWriter, *http.Request) { panic("boom") }, f.srv.RecoverMiddleware)
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGeneratedAdminToken(t *testing.T) {
	f := setupTestFixture(t, "ADMIN_TOKEN", "")

	rec := f.do(t, http.MethodGet, "/admin/apps", nil, map[string]string{"Authorization": "Bearer "})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.admin(t, http.MethodGet, "/admin/apps", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
