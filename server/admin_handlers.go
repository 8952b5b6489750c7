package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jrsteele09/cids/a2a"
	"github.com/jrsteele09/cids/apikeys"
	"github.com/jrsteele09/cids/audit"
	"github.com/jrsteele09/cids/clients"
	"github.com/jrsteele09/cids/internal/errors"
	"github.com/jrsteele09/cids/roles"
	"github.com/jrsteele09/cids/token/refresh"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type registerAppRequest struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description,omitempty"`
	OwnerEmail        string   `json:"ownerEmail,omitempty"`
	RedirectURIs      []string `json:"redirectURIs,omitempty"`
	IsActive          *bool    `json:"isActive,omitempty"`
	DiscoveryEndpoint string   `json:"discoveryEndpoint,omitempty"`
	AllowDiscovery    bool     `json:"allowDiscovery"`
	// CreateAPIKey issues the application's first API key in the same call.
	CreateAPIKey bool `json:"createApiKey,omitempty"`
}

type registerAppResponse struct {
	App    *clients.Client  `json:"app"`
	APIKey *apikeys.Created `json:"apiKey,omitempty"`
}

// RegisterAppHandler registers a downstream application.
func (s *Server) RegisterAppHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerAppRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		app := &clients.Client{
			ID:                strings.TrimSpace(req.ID),
			Name:              req.Name,
			Description:       req.Description,
			OwnerEmail:        req.OwnerEmail,
			RedirectURIs:      req.RedirectURIs,
			IsActive:          req.IsActive == nil || *req.IsActive,
			DiscoveryEndpoint: req.DiscoveryEndpoint,
			AllowDiscovery:    req.AllowDiscovery,
			CreatedAt:         time.Now().UTC(),
		}
		if err := app.Validate(); err != nil {
			writeError(w, r, err)
			return
		}

		ctx := r.Context()
		switch _, err := s.deps.Clients.Get(ctx, app.ID); {
		case err == nil:
			writeError(w, r, errors.Wrapf(errors.ErrAlreadyExists, "application %s", app.ID))
			return
		case !errors.Is(err, errors.ErrNotFound):
			writeError(w, r, err)
			return
		}
		if err := s.deps.Clients.Upsert(ctx, app); err != nil {
			writeError(w, r, err)
			return
		}
		s.recordAdmin(r, audit.ActionAppRegistered, app.ID, nil)

		resp := registerAppResponse{App: app}
		if req.CreateAPIKey {
			created, err := s.deps.APIKeys.Create(ctx, apikeys.CreateRequest{
				OwnerAppID: app.ID,
				Name:       "default",
				CreatedBy:  actorFrom(r),
			})
			if err != nil {
				writeError(w, r, err)
				return
			}
			resp.APIKey = created
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func (s *Server) ListAppsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset, limit := paging(r)
		apps, err := s.deps.Clients.List(r.Context(), offset, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"apps": apps, "offset": offset, "limit": limit})
	}
}

func (s *Server) GetAppHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		app, err := s.deps.Clients.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, app)
	}
}

type createAPIKeyRequest struct {
	Name        string   `json:"name,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	// TTLSeconds of zero uses the configured default, negative never expires.
	TTLSeconds int64 `json:"ttlSeconds,omitempty"`
}

// CreateAPIKeyHandler issues a key for an application. The plaintext key is
// only ever returned by this call.
func (s *Server) CreateAPIKeyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createAPIKeyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		appID := r.PathValue("id")
		if _, err := s.deps.Clients.Get(r.Context(), appID); err != nil {
			writeError(w, r, err)
			return
		}
		created, err := s.deps.APIKeys.Create(r.Context(), apikeys.CreateRequest{
			OwnerAppID:  appID,
			Name:        req.Name,
			Permissions: req.Permissions,
			TTL:         time.Duration(req.TTLSeconds) * time.Second,
			CreatedBy:   actorFrom(r),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func (s *Server) ListAPIKeysHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := s.deps.APIKeys.List(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"apiKeys": keys})
	}
}

type rotateAPIKeyRequest struct {
	GraceSeconds *int64 `json:"graceSeconds,omitempty"`
}

// RotateAPIKeyHandler replaces a key. The old key keeps validating for the
// grace period, which defaults to the configured rotation grace.
func (s *Server) RotateAPIKeyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rotateAPIKeyRequest
		if r.ContentLength > 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, r, err)
				return
			}
		}
		grace := s.config.GetAPIKeyRotationGrace()
		if req.GraceSeconds != nil {
			if *req.GraceSeconds < 0 {
				writeError(w, r, errors.Wrapf(errors.ErrInvalidRequest, "graceSeconds must not be negative"))
				return
			}
			grace = time.Duration(*req.GraceSeconds) * time.Second
		}

		created, err := s.deps.APIKeys.Rotate(r.Context(), r.PathValue("id"), grace, actorFrom(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, created)
	}
}

func (s *Server) RevokeAPIKeyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.deps.APIKeys.Revoke(r.Context(), r.PathValue("id"), actorFrom(r)); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// DiscoverHandler runs permission discovery for one application now.
// force=true ignores the cooldown.
func (s *Server) DiscoverHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
		res, err := s.deps.Discovery.Run(r.Context(), r.PathValue("id"), force)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) AppPermissionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID := r.PathValue("id")
		if _, err := s.deps.Clients.Get(r.Context(), appID); err != nil {
			writeError(w, r, err)
			return
		}
		perms, err := s.deps.Discovery.Permissions(r.Context(), appID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"appId": appID, "permissions": perms})
	}
}

func (s *Server) UpsertRoleHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var role roles.Role
		if err := decodeJSON(w, r, &role); err != nil {
			writeError(w, r, err)
			return
		}
		if err := role.Validate(); err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.requireApps(r.Context(), role.AppID); err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.deps.Roles.UpsertRole(r.Context(), &role); err != nil {
			writeError(w, r, err)
			return
		}
		s.recordAdmin(r, audit.ActionPolicyUpdated, role.AppID+"/"+role.Name, map[string]string{"kind": "role"})
		writeJSON(w, http.StatusOK, role)
	}
}

func (s *Server) UpsertRoleMappingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var mapping roles.Mapping
		if err := decodeJSON(w, r, &mapping); err != nil {
			writeError(w, r, err)
			return
		}
		if err := mapping.Validate(); err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.requireApps(r.Context(), mapping.AppID); err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.deps.Roles.UpsertMapping(r.Context(), &mapping); err != nil {
			writeError(w, r, err)
			return
		}
		s.recordAdmin(r, audit.ActionPolicyUpdated, mapping.AppID+"/"+mapping.Group, map[string]string{
			"kind": "role_mapping",
			"role": mapping.RoleName,
		})
		writeJSON(w, http.StatusOK, mapping)
	}
}

func (s *Server) DeleteRoleMappingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var mapping roles.Mapping
		if err := decodeJSON(w, r, &mapping); err != nil {
			writeError(w, r, err)
			return
		}
		if err := mapping.Validate(); err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.deps.Roles.DeleteMapping(r.Context(), &mapping); err != nil {
			writeError(w, r, err)
			return
		}
		s.recordAdmin(r, audit.ActionPolicyUpdated, mapping.AppID+"/"+mapping.Group, map[string]string{
			"kind":    "role_mapping",
			"role":    mapping.RoleName,
			"deleted": "true",
		})
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) UpsertA2AHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var perm a2a.Permission
		if err := decodeJSON(w, r, &perm); err != nil {
			writeError(w, r, err)
			return
		}
		if err := perm.Validate(); err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.requireApps(r.Context(), perm.SourceAppID, perm.TargetAppID); err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.deps.A2APolicies.Upsert(r.Context(), &perm); err != nil {
			writeError(w, r, err)
			return
		}
		s.recordAdmin(r, audit.ActionPolicyUpdated, perm.SourceAppID+"->"+perm.TargetAppID, map[string]string{
			"kind":   "a2a",
			"scopes": strings.Join(perm.AllowedScopes, " "),
		})
		writeJSON(w, http.StatusOK, perm)
	}
}

// RotateSigningKeyHandler makes a new signing key current. Tokens signed by
// the previous key keep verifying until the verify grace passes.
func (s *Server) RotateSigningKeyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kp, err := s.deps.Keys.Rotate(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		s.recordAdmin(r, audit.ActionSigningKeyRotate, kp.KeyID, nil)
		writeJSON(w, http.StatusOK, map[string]any{"kid": kp.KeyID, "createdAt": kp.CreatedAt})
	}
}

type revokeTokenRequest struct {
	JTI string `json:"jti"`
	// ExpiresAt bounds how long the revocation is kept. Zero keeps it for
	// one access token lifetime.
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// RevokeTokenHandler adds an access token id to the revocation list.
func (s *Server) RevokeTokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req revokeTokenRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if strings.TrimSpace(req.JTI) == "" {
			writeError(w, r, errors.Wrapf(errors.ErrInvalidRequest, "jti is required"))
			return
		}
		exp := req.ExpiresAt
		if exp.IsZero() {
			exp = time.Now().Add(s.config.GetAccessTokenExpiry())
		}
		if err := s.deps.Codec.Revoke(r.Context(), req.JTI, exp); err != nil {
			writeError(w, r, err)
			return
		}
		s.recordAdmin(r, audit.ActionTokenRevoked, req.JTI, nil)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) RevokeFamilyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		familyID := r.PathValue("id")
		if err := s.deps.Refresh.RevokeFamily(r.Context(), familyID, refresh.ReasonAdmin); err != nil {
			writeError(w, r, err)
			return
		}
		s.recordAdmin(r, audit.ActionTokenRevoked, familyID, map[string]string{"kind": "refresh_family"})
		w.WriteHeader(http.StatusNoContent)
	}
}

type blockUserRequest struct {
	Blocked bool `json:"blocked"`
}

// BlockUserHandler blocks or unblocks a user. Blocked users cannot log in
// or refresh; their outstanding access tokens expire naturally.
func (s *Server) BlockUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req blockUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		userID := r.PathValue("id")
		if err := s.deps.Users.SetBlocked(r.Context(), userID, req.Blocked); err != nil {
			writeError(w, r, err)
			return
		}
		s.recordAdmin(r, audit.ActionUserBlocked, userID, map[string]string{"blocked": strconv.FormatBool(req.Blocked)})
		writeJSON(w, http.StatusOK, map[string]any{"id": userID, "blocked": req.Blocked})
	}
}

func (s *Server) AuditHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		_, limit := paging(r)
		entries, err := s.deps.Audit.List(r.Context(), audit.Filter{
			Actor:  q.Get("actor"),
			Action: q.Get("action"),
			Limit:  limit,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
	}
}

// HealthHandler reports whether the backing stores answer.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := s.deps.Health(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) requireApps(ctx context.Context, appIDs ...string) error {
	for _, id := range appIDs {
		if _, err := s.deps.Clients.Get(ctx, id); err != nil {
			return errors.Wrapf(err, "application %s", id)
		}
	}
	return nil
}

func (s *Server) recordAdmin(r *http.Request, action, target string, details map[string]string) {
	audit.Safe(r.Context(), s.deps.Audit, audit.Entry{
		Actor:   actorFrom(r),
		Action:  action,
		Target:  target,
		Outcome: audit.OutcomeSuccess,
		IP:      s.observedIP(r),
		Details: details,
	})
}

func paging(r *http.Request) (offset, limit int) {
	q := r.URL.Query()
	offset, _ = strconv.Atoi(q.Get("offset"))
	limit, _ = strconv.Atoi(q.Get("limit"))
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return offset, limit
}
