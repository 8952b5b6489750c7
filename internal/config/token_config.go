package config

import "time"

type TokenConfig interface {
	GetIssuer() string
	GetAccessTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
	GetRefreshTokenLength() int
	GetLoginStateTTL() time.Duration
	GetSigningKeyBits() int
	GetSigningKeyVerifyGrace() time.Duration
	GetMaxServiceTokenDuration() time.Duration
}

type Token struct {
	src *source
}

var _ TokenConfig = Token{}

func (t Token) GetIssuer() string {
	return t.src.get("TOKEN_ISSUER", EnvVars{src: t.src}.GetBaseURL())
}

func (t Token) GetAccessTokenExpiry() time.Duration {
	return t.src.duration("ACCESS_TOKEN_TTL", 15*time.Minute)
}

func (t Token) GetRefreshTokenExpiry() time.Duration {
	return t.src.duration("REFRESH_TOKEN_TTL", 7*24*time.Hour)
}

func (t Token) GetRefreshTokenLength() int {
	return t.src.integer("REFRESH_TOKEN_BYTES", 32)
}

// GetLoginStateTTL bounds how long a pending login (state, nonce, PKCE
// verifier) waits for the IdP callback.
func (t Token) GetLoginStateTTL() time.Duration {
	return t.src.duration("LOGIN_STATE_TTL", 10*time.Minute)
}

func (t Token) GetSigningKeyBits() int {
	return t.src.integer("SIGNING_KEY_BITS", 2048)
}

// GetSigningKeyVerifyGrace is how long a retired signing key stays in the
// verify set.
func (t Token) GetSigningKeyVerifyGrace() time.Duration {
	return t.src.duration("SIGNING_KEY_VERIFY_GRACE", 24*time.Hour)
}

func (t Token) GetMaxServiceTokenDuration() time.Duration {
	return t.src.duration("MAX_SERVICE_TOKEN_TTL", time.Hour)
}
