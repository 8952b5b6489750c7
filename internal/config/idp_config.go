package config

import "time"

type IdPConfig interface {
	GetIdPIssuerURL() string
	GetIdPClientID() string
	GetIdPClientSecret() string
	GetIdPRedirectURL() string
	GetIdPScopes() []string
	GetIdPTimeout() time.Duration
}

type IdP struct {
	src *source
}

var _ IdPConfig = IdP{}

func (i IdP) GetIdPIssuerURL() string {
	return i.src.get("IDP_ISSUER_URL", "")
}

func (i IdP) GetIdPClientID() string {
	return i.src.get("IDP_CLIENT_ID", "")
}

func (i IdP) GetIdPClientSecret() string {
	return i.src.get("IDP_CLIENT_SECRET", "")
}

func (i IdP) GetIdPRedirectURL() string {
	return i.src.get("IDP_REDIRECT_URL", EnvVars{src: i.src}.GetBaseURL()+"/auth/callback")
}

func (i IdP) GetIdPScopes() []string {
	return i.src.list("IDP_SCOPES", []string{"openid", "profile", "email"})
}

func (i IdP) GetIdPTimeout() time.Duration {
	return i.src.duration("IDP_TIMEOUT", 10*time.Second)
}
