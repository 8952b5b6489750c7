package keys

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jrsteele09/cids/internal/errors"
)

// RS256 is the only algorithm CIDS signs with.
const RS256 = "RS256"

const (
	minRSABits = 2048
	pemType    = "PRIVATE KEY"
)

// KeyPair is a signing key together with its lifecycle timestamps.
type KeyPair struct {
	KeyID      string
	PrivateKey crypto.Signer
	PublicKey  crypto.PublicKey
	Algorithm  string
	CreatedAt  time.Time
	RetiredAt  *time.Time // set once the key has been rotated out
}

// Retired reports whether the key only verifies and no longer signs.
func (kp *KeyPair) Retired() bool {
	return kp.RetiredAt != nil
}

// JWKS is the public key set served at /.well-known/jwks.json.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK is the RSA public key form of a KeyPair.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

func generateKeyPair(keyID string, bits int, createdAt time.Time) (*KeyPair, error) {
	if bits < minRSABits {
		bits = minRSABits
	}
	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInternal, "generate rsa key: %v", err)
	}
	return newKeyPair(keyID, privateKey, createdAt), nil
}

func newKeyPair(keyID string, privateKey *rsa.PrivateKey, createdAt time.Time) *KeyPair {
	return &KeyPair{
		KeyID:      keyID,
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
		Algorithm:  RS256,
		CreatedAt:  createdAt,
	}
}

func (kp *KeyPair) signingMethod() jwt.SigningMethod {
	return jwt.SigningMethodRS256
}

// encodePEM returns the private key as PKCS#8 PEM for persistence.
func (kp *KeyPair) encodePEM() (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(kp.PrivateKey)
	if err != nil {
		return "", errors.Wrapf(errors.ErrInternal, "marshal key %s: %v", kp.KeyID, err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemType, Bytes: der})), nil
}

// decodePEM accepts PKCS#8 and, for keys written by older deployments, PKCS#1.
func decodePEM(keyID, data string, createdAt time.Time) (*KeyPair, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, errors.Wrapf(errors.ErrInternal, "key %s: no pem block", keyID)
	}

	var privateKey *rsa.PrivateKey
	switch block.Type {
	case pemType:
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrInternal, "key %s: %v", keyID, err)
		}
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.Wrapf(errors.ErrUnsupported, "key %s is not rsa", keyID)
		}
		privateKey = rsaKey
	case "RSA PRIVATE KEY":
		rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrInternal, "key %s: %v", keyID, err)
		}
		privateKey = rsaKey
	default:
		return nil, errors.Wrapf(errors.ErrUnsupported, "key %s: pem type %q", keyID, block.Type)
	}
	return newKeyPair(keyID, privateKey, createdAt), nil
}

// JWK converts the public half of the pair to its JWK form.
func (kp *KeyPair) JWK() (JWK, error) {
	pub, ok := kp.PublicKey.(*rsa.PublicKey)
	if !ok {
		return JWK{}, errors.Wrapf(errors.ErrUnsupported, "key %s is not rsa", kp.KeyID)
	}
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Kid: kp.KeyID,
		Alg: kp.Algorithm,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}, nil
}
