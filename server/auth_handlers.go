package server

import (
	"net/http"
	"strings"

	"github.com/jrsteele09/cids/broker"
	"github.com/jrsteele09/cids/internal/errors"
)

// LoginHandler starts the external identity provider flow. Browsers get a
// redirect; callers asking for JSON get the authorization URL instead.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		redirect, err := s.deps.Broker.BeginLogin(r.Context(), broker.LoginRequest{
			ReturnURL: r.URL.Query().Get("return_url"),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}

		if strings.Contains(r.Header.Get("Accept"), "application/json") {
			writeJSON(w, http.StatusOK, redirect)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, redirect.URL, http.StatusFound)
	}
}

// CallbackHandler completes the login. The provider may answer with a query
// string or with form_post.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeError(w, r, errors.Wrapf(errors.ErrInvalidRequest, "invalid callback parameters"))
			return
		}

		tokens, err := s.deps.Broker.Callback(r.Context(), broker.CallbackRequest{
			State:             r.Form.Get("state"),
			Code:              r.Form.Get("code"),
			Error:             r.Form.Get("error"),
			ErrorDescription:  r.Form.Get("error_description"),
			ObservedIP:        s.observedIP(r),
			DeviceFingerprint: deviceFingerprint(r),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tokens)
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshHandler rotates a refresh token and mints a fresh access token.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if req.RefreshToken == "" {
			writeError(w, r, errors.Wrapf(errors.ErrInvalidRequest, "refresh_token is required"))
			return
		}

		tokens, err := s.deps.Broker.Refresh(r.Context(), broker.RefreshRequest{
			RefreshToken:      req.RefreshToken,
			ObservedIP:        s.observedIP(r),
			DeviceFingerprint: deviceFingerprint(r),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tokens)
	}
}

// LogoutHandler revokes the refresh family and, when presented, the access
// token. Repeating a logout is not an error.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if r.ContentLength > 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, r, err)
				return
			}
		}

		err := s.deps.Broker.Logout(r.Context(), broker.LogoutRequest{
			RefreshToken:      req.RefreshToken,
			AccessToken:       bearerToken(r),
			ObservedIP:        s.observedIP(r),
			DeviceFingerprint: deviceFingerprint(r),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// IdentityHandler returns the caller's current roles and permissions for one
// application, re-resolved rather than read from the token.
func (s *Server) IdentityHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, r, errors.Wrapf(errors.ErrMalformed, "missing bearer token"))
			return
		}

		ident, err := s.deps.Broker.Identity(r.Context(), raw, r.URL.Query().Get("app_id"), s.verifyOptions(r, ""))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ident)
	}
}
