package users

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/jrsteele09/cids/internal/errors"
)

// User is the broker's last-seen view of an identity provider account. The
// IdP owns the identity; the broker only keeps what it needs to rebuild
// permissions and to block access.
type User struct {
	ID         string    `json:"id"` // IdP subject
	Email      string    `json:"email,omitempty"`
	Name       string    `json:"name,omitempty"`
	Department string    `json:"department,omitempty"`
	Tenant     string    `json:"tenant,omitempty"`
	Groups     []string  `json:"groups,omitempty"`
	Blocked    bool      `json:"blocked,omitempty"`
	FirstSeen  time.Time `json:"firstSeen"`
	LastLogin  time.Time `json:"lastLogin"`
}

func (u *User) Validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return errors.Wrapf(errors.ErrInvalidRequest, "user id is required")
	}
	return nil
}

// InGroup reports whether the user was last seen with group
func (u *User) InGroup(group string) bool {
	return slices.Contains(u.Groups, group)
}

// Repo stores users keyed by IdP subject.
type Repo interface {
	// RecordLogin inserts or refreshes the profile fields of u and returns
	// the stored record. Blocked and FirstSeen of an existing user are kept.
	RecordLogin(ctx context.Context, u *User) (*User, error)
	Get(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, offset, limit int) ([]*User, error)
	SetBlocked(ctx context.Context, id string, blocked bool) error
}
