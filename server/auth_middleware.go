package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeyActor stores who performed an admin request
	ContextKeyActor ContextKey = "actor"
)

const (
	headerClientIP          = "X-Client-IP"
	headerCallerClass       = "X-CIDS-Caller-Class"
	headerDeviceFingerprint = "X-Device-Fingerprint"
	headerExpectedAudience  = "X-Expected-Audience"
	headerAPIKey            = "X-API-Key"
	headerActor             = "X-Admin-Actor"

	adminActor = "admin"
)

// RequireAdminToken rejects requests whose bearer token is not the
// configured admin token. An optional X-Admin-Actor header names the
// operator in the audit log.
func (s *Server) RequireAdminToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="cids-admin"`)
			writeJSONError(w, "unauthorized", "admin token required", http.StatusUnauthorized)
			return
		}

		actor := adminActor
		if named := strings.TrimSpace(r.Header.Get(headerActor)); named != "" {
			actor = adminActor + ":" + named
		}
		ctx := context.WithValue(r.Context(), ContextKeyActor, actor)
		next(w, r.WithContext(ctx))
	}
}

func actorFrom(r *http.Request) string {
	if actor, ok := r.Context().Value(ContextKeyActor).(string); ok {
		return actor
	}
	return adminActor
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func callerClass(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(headerCallerClass))
}

func deviceFingerprint(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(headerDeviceFingerprint))
}
