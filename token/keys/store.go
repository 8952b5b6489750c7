package keys

import (
	"context"
	"time"
)

// StoredKey is the persisted form of a signing key.
type StoredKey struct {
	KeyID         string
	PrivateKeyPEM string
	CreatedAt     time.Time
	RetiredAt     *time.Time
}

// Store persists signing keys so that tokens survive a restart. The Manager
// works without one, in which case keys live only in memory.
type Store interface {
	LoadSigningKeys(ctx context.Context) ([]StoredKey, error)
	SaveSigningKey(ctx context.Context, key StoredKey) error
	RetireSigningKey(ctx context.Context, keyID string, at time.Time) error
	DeleteSigningKey(ctx context.Context, keyID string) error
}

func toStored(kp *KeyPair) (StoredKey, error) {
	pemData, err := kp.encodePEM()
	if err != nil {
		return StoredKey{}, err
	}
	return StoredKey{
		KeyID:         kp.KeyID,
		PrivateKeyPEM: pemData,
		CreatedAt:     kp.CreatedAt,
		RetiredAt:     kp.RetiredAt,
	}, nil
}

func fromStored(sk StoredKey) (*KeyPair, error) {
	kp, err := decodePEM(sk.KeyID, sk.PrivateKeyPEM, sk.CreatedAt)
	if err != nil {
		return nil, err
	}
	kp.RetiredAt = sk.RetiredAt
	return kp, nil
}
