package jwt

import (
	"encoding/hex"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/blake2b"
)

const (
	TokenTypeUser    = "user"
	TokenTypeService = "service"
)

// Claims is the access token payload. Roles, permissions and RLS filters are
// keyed by application client id and are a snapshot taken at issuance.
type Claims struct {
	jwtlib.RegisteredClaims
	Email       string                         `json:"email,omitempty"`
	Name        string                         `json:"name,omitempty"`
	Groups      []string                       `json:"groups,omitempty"`
	TokenType   string                         `json:"token_type"`
	BoundIP     string                         `json:"bound_ip,omitempty"`
	BoundDevice string                         `json:"bound_device,omitempty"`
	Roles       map[string][]string            `json:"roles,omitempty"`
	Permissions map[string][]string            `json:"permissions,omitempty"`
	RLSFilters  map[string]map[string][]string `json:"rls_filters,omitempty"`
	Scope       []string                       `json:"scope,omitempty"`
	ClientID    string                         `json:"client_id,omitempty"`
}

// ClaimsInput carries the caller supplied portion of a user access token.
// Timing claims are always set by the codec.
type ClaimsInput struct {
	Subject           string
	Email             string
	Name              string
	Groups            []string
	Audience          []string
	BoundIP           string
	DeviceFingerprint string
	Roles             map[string][]string
	Permissions       map[string][]string
	RLSFilters        map[string]map[string][]string
}

// ServiceClaimsInput describes an application-to-application token. The
// duration must already have been checked against policy.
type ServiceClaimsInput struct {
	SourceAppID string
	TargetAppID string
	Scopes      []string
	Duration    int64 // seconds
}

// DeviceHash returns the value stored in bound_device for a fingerprint.
func DeviceHash(fingerprint string) string {
	if fingerprint == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(fingerprint))
	return hex.EncodeToString(sum[:])
}
