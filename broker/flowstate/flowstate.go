package flowstate

import (
	"context"
	"time"
)

// State is what the broker remembers between sending a user to the
// identity provider and receiving the callback.
type State struct {
	Nonce        string    `json:"nonce"`
	CodeVerifier string    `json:"codeVerifier"`
	ReturnURL    string    `json:"returnUrl,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

func (s *State) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Repo stores login flow state keyed by the state parameter. Take returns
// and removes the entry so each state is usable once.
type Repo interface {
	Put(ctx context.Context, key string, s *State) error
	Take(ctx context.Context, key string) (*State, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
