package broker

import (
	"context"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/cids/internal/errors"
)

type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	Timeout      time.Duration
}

// OIDCProvider talks to an OpenID Connect identity provider using the
// authorization code flow with PKCE.
type OIDCProvider struct {
	oauth2   *oauth2.Config
	verifier *oidc.IDTokenVerifier
	client   *http.Client
	timeout  time.Duration
}

// NewOIDCProvider fetches the provider's discovery document.
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig) (*OIDCProvider, error) {
	if cfg.IssuerURL == "" || cfg.ClientID == "" {
		return nil, errors.New("[broker.NewOIDCProvider] issuer url and client id are required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	discoverCtx, cancel := context.WithTimeout(oidc.ClientContext(ctx, client), timeout)
	defer cancel()
	provider, err := oidc.NewProvider(discoverCtx, cfg.IssuerURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create OIDC provider")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	return &OIDCProvider{
		oauth2: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		client:   client,
		timeout:  timeout,
	}, nil
}

func (p *OIDCProvider) AuthCodeURL(state, nonce, verifier string) string {
	return p.oauth2.AuthCodeURL(state, oidc.Nonce(nonce), oauth2.S256ChallengeOption(verifier))
}

func (p *OIDCProvider) Exchange(ctx context.Context, code, verifier string) (*ExternalIdentity, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	tok, err := p.oauth2.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, errors.Wrapf(errors.ErrIdPError, "token exchange failed: %v", err)
	}
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok {
		return nil, errors.Wrapf(errors.ErrIdPError, "no id_token in response")
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrIdPError, "id token verification failed: %v", err)
	}

	var claims struct {
		Nonce      string   `json:"nonce"`
		Email      string   `json:"email"`
		Name       string   `json:"name"`
		Department string   `json:"department"`
		Tenant     string   `json:"tenant"`
		Groups     []string `json:"groups"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, errors.Wrapf(errors.ErrIdPError, "failed to extract claims: %v", err)
	}
	return &ExternalIdentity{
		Subject:    idToken.Subject,
		Email:      claims.Email,
		Name:       claims.Name,
		Department: claims.Department,
		Tenant:     claims.Tenant,
		Groups:     claims.Groups,
		Nonce:      claims.Nonce,
	}, nil
}

var _ IdentityProvider = (*OIDCProvider)(nil)
