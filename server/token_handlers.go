package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/cids/a2a"
	"github.com/jrsteele09/cids/apikeys"
	"github.com/jrsteele09/cids/internal/errors"
	"github.com/jrsteele09/cids/token/jwt"
)

// JWKSHandler publishes the public half of every verifiable signing key.
func (s *Server) JWKSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jwks, err := s.deps.Keys.PublicKeySet(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=300")
		w.WriteHeader(http.StatusOK)
		_ = jsonEncode(w, jwks)
	}
}

type validateResponse struct {
	Valid  bool   `json:"valid"`
	Claims any    `json:"claims,omitempty"`
	Error  string `json:"error,omitempty"`
}

// apiKeyClaims is what validation reveals about an API key.
type apiKeyClaims struct {
	TokenType   string     `json:"token_type"`
	KeyID       string     `json:"key_id"`
	ClientID    string     `json:"client_id"`
	Permissions []string   `json:"permissions,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// ValidateHandler checks a bearer credential on behalf of a downstream
// application. Both access tokens and API keys are accepted.
func (s *Server) ValidateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeJSON(w, http.StatusUnauthorized, validateResponse{Error: "invalid_token"})
			return
		}

		if apikeys.LooksLikeKey(raw) {
			key, err := s.deps.APIKeys.Validate(r.Context(), raw)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, validateResponse{Error: "invalid_token"})
				return
			}
			writeJSON(w, http.StatusOK, validateResponse{Valid: true, Claims: apiKeyClaims{
				TokenType:   "api_key",
				KeyID:       key.ID,
				ClientID:    key.OwnerAppID,
				Permissions: key.Permissions,
				ExpiresAt:   key.ExpiresAt,
			}})
			return
		}

		// Without an explicit audience only tokens addressed to CIDS itself pass.
		audience := strings.TrimSpace(r.Header.Get(headerExpectedAudience))
		if audience == "" {
			audience = s.deps.Codec.Issuer()
		}
		claims, err := s.deps.Codec.VerifyAccessToken(r.Context(), raw, s.verifyOptions(r, audience))
		if err != nil {
			if errors.KindOf(err) != errors.KindAuthentication {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusUnauthorized, validateResponse{Error: "invalid_token"})
			return
		}
		writeJSON(w, http.StatusOK, validateResponse{Valid: true, Claims: claims})
	}
}

type serviceTokenRequest struct {
	SourceClientID  string   `json:"source_client_id,omitempty"`
	TargetClientID  string   `json:"target_client_id"`
	RequestedScopes []string `json:"requested_scopes"`
	Duration        int64    `json:"duration,omitempty"`
}

type serviceTokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int64  `json:"expires_in"`
}

// ServiceTokenHandler exchanges an application API key for a short lived
// token addressed to one target application.
func (s *Server) ServiceTokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get(headerAPIKey)
		if apiKey == "" {
			writeError(w, r, errors.Wrapf(errors.ErrInvalidAPIKey, "missing %s header", headerAPIKey))
			return
		}

		var req serviceTokenRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		issued, err := s.deps.A2A.IssueServiceToken(r.Context(), a2a.Request{
			SourceAppID: req.SourceClientID,
			APIKey:      apiKey,
			TargetAppID: req.TargetClientID,
			Scopes:      req.RequestedScopes,
			Duration:    req.Duration,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, serviceTokenResponse{
			Token:     issued.Token,
			TokenType: "Bearer",
			ExpiresIn: issued.ExpiresIn,
		})
	}
}

func (s *Server) verifyOptions(r *http.Request, audience string) jwt.VerifyOptions {
	return jwt.VerifyOptions{
		ExpectedAudience:  audience,
		ObservedIP:        s.observedIP(r),
		DeviceFingerprint: deviceFingerprint(r),
		CallerClass:       callerClass(r),
	}
}
