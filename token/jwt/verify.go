package jwt

import (
	"context"
	"crypto/subtle"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/jrsteele09/cids/internal/errors"
)

// VerifyOptions carries the request context a token is checked against.
type VerifyOptions struct {
	// ExpectedAudience must appear in the token's aud claim. It is required
	// unless AnyAudience is set.
	ExpectedAudience string
	// AnyAudience skips the audience check. Only flows acting on the
	// holder's own token, such as logout, set it.
	AnyAudience       bool
	ObservedIP        string
	DeviceFingerprint string
	// CallerClass identifies the kind of caller presenting the token. Only
	// configured service proxy classes may bypass IP binding.
	CallerClass string
}

// VerifyAccessToken checks signature, issuer, expiry, audience, revocation
// and binding. Any failure is returned as one of the authentication
// sentinels.
func (c *Codec) VerifyAccessToken(ctx context.Context, raw string, opts VerifyOptions) (*Claims, error) {
	claims, err := c.verify(ctx, raw, opts)
	if err != nil {
		c.metrics.VerifyFailed(reason(err))
		return nil, err
	}
	return claims, nil
}

func (c *Codec) verify(ctx context.Context, raw string, opts VerifyOptions) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.Wrapf(errors.ErrMalformed, "empty token")
	}
	if opts.ExpectedAudience == "" && !opts.AnyAudience {
		return nil, errors.Wrapf(errors.ErrAudienceMismatch, "expected audience is required")
	}

	parserOpts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodRS256.Alg()}),
		jwtlib.WithIssuer(c.issuer),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithIssuedAt(),
		jwtlib.WithTimeFunc(c.now),
	}
	if !opts.AnyAudience {
		parserOpts = append(parserOpts, jwtlib.WithAudience(opts.ExpectedAudience))
	}

	claims := &Claims{}
	_, err := jwtlib.NewParser(parserOpts...).ParseWithClaims(raw, claims, c.keys.Keyfunc(ctx))
	if err != nil {
		return nil, classify(err)
	}

	if c.revocations != nil && claims.ID != "" {
		revoked, err := c.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to check revocation")
		}
		if revoked {
			return nil, errors.Wrapf(errors.ErrRevoked, "jti %s", claims.ID)
		}
	}

	if claims.BoundIP != "" && claims.BoundIP != opts.ObservedIP {
		if !c.isProxyClass(opts.CallerClass) {
			return nil, errors.ErrIPMismatch
		}
		c.logBypass(ctx, claims, opts)
	}

	if claims.BoundDevice != "" {
		observed := DeviceHash(opts.DeviceFingerprint)
		if subtle.ConstantTimeCompare([]byte(observed), []byte(claims.BoundDevice)) != 1 {
			return nil, errors.ErrDeviceMismatch
		}
	}

	return claims, nil
}

// classify maps parser errors to the service's sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, errors.ErrUnknownKeyID):
		return errors.Wrapf(errors.ErrUnknownKeyID, "verify")
	case errors.Is(err, errors.ErrInvalidSignature),
		errors.Is(err, jwtlib.ErrTokenSignatureInvalid),
		errors.Is(err, jwtlib.ErrTokenUnverifiable),
		errors.Is(err, jwtlib.ErrTokenInvalidIssuer):
		return errors.Wrapf(errors.ErrInvalidSignature, "verify")
	case errors.Is(err, jwtlib.ErrTokenExpired):
		return errors.Wrapf(errors.ErrExpired, "verify")
	case errors.Is(err, jwtlib.ErrTokenInvalidAudience):
		return errors.Wrapf(errors.ErrAudienceMismatch, "verify")
	default:
		return errors.Wrapf(errors.ErrMalformed, "verify: %v", err)
	}
}

func reason(err error) string {
	for _, s := range []error{
		errors.ErrExpired, errors.ErrAudienceMismatch, errors.ErrInvalidSignature, errors.ErrUnknownKeyID,
		errors.ErrRevoked, errors.ErrIPMismatch, errors.ErrDeviceMismatch, errors.ErrMalformed,
	} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "other"
}
