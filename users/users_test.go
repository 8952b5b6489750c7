package users_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/cids/internal/errors"
	"github.com/jrsteele09/cids/users"
	fakeuserrepo "github.com/jrsteele09/cids/users/repofake"
)

func TestRecordLoginKeepsBlockAndFirstSeen(t *testing.T) {
	ctx := context.Background()
	repo := fakeuserrepo.NewFakeUserRepo()
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := repo.RecordLogin(ctx, &users.User{ID: "sub-1", Email: "a@example.com", Groups: []string{"hr"}, FirstSeen: first, LastLogin: first})
	require.NoError(t, err)
	require.NoError(t, repo.SetBlocked(ctx, "sub-1", true))

	later := first.Add(48 * time.Hour)
	stored, err := repo.RecordLogin(ctx, &users.User{ID: "sub-1", Email: "a@example.com", Groups: []string{"finance"}, FirstSeen: later, LastLogin: later})
	require.NoError(t, err)
	require.True(t, stored.Blocked)
	require.Equal(t, first, stored.FirstSeen)
	require.Equal(t, later, stored.LastLogin)
	require.True(t, stored.InGroup("finance"))
	require.False(t, stored.InGroup("hr"))

	byEmail, err := repo.GetByEmail(ctx, "A@example.com")
	require.NoError(t, err)
	require.Equal(t, "sub-1", byEmail.ID)

	require.True(t, errors.Is(repo.SetBlocked(ctx, "nobody", true), errors.ErrNotFound))
}

func TestValidate(t *testing.T) {
	require.Error(t, (&users.User{}).Validate())
	require.NoError(t, (&users.User{ID: "sub"}).Validate())
}
