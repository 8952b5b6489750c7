package broker

import "context"

// ExternalIdentity is what the identity provider asserts about a user
// after a successful code exchange.
type ExternalIdentity struct {
	Subject    string
	Email      string
	Name       string
	Department string
	Tenant     string
	Groups     []string
	Nonce      string
}

// IdentityProvider is the boundary to the external IdP. The broker never
// sees user credentials.
type IdentityProvider interface {
	// AuthCodeURL returns where to send the user. The verifier is used for
	// a PKCE S256 challenge.
	AuthCodeURL(state, nonce, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (*ExternalIdentity, error)
}
