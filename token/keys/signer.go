package keys

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jrsteele09/cids/internal/errors"
)

// Sign signs claims with the current key and stamps its kid in the header.
func (m *Manager) Sign(ctx context.Context, claims jwt.Claims) (string, string, error) {
	kp, err := m.Current(ctx)
	if err != nil {
		return "", "", err
	}
	token := jwt.NewWithClaims(kp.signingMethod(), claims)
	token.Header["kid"] = kp.KeyID

	signedToken, err := token.SignedString(kp.PrivateKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signedToken, kp.KeyID, nil
}

// Keyfunc resolves the verification key from the token's kid header. Tokens
// without a kid, or signed with anything other than RS256, are rejected.
func (m *Manager) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodRS256 {
			return nil, errors.Wrapf(errors.ErrInvalidSignature, "unexpected signing method %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.Wrapf(errors.ErrUnknownKeyID, "missing kid header")
		}
		kp, err := m.VerificationKey(ctx, kid)
		if err != nil {
			return nil, err
		}
		return kp.PublicKey, nil
	}
}
