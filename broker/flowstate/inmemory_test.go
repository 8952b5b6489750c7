package flowstate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/cids/broker/flowstate"
	"github.com/jrsteele09/cids/internal/errors"
)

func TestTakeConsumesOnce(t *testing.T) {
	ctx := context.Background()
	repo := flowstate.NewInMemoryRepo()
	now := time.Now()

	require.NoError(t, repo.Put(ctx, "state-1", &flowstate.State{Nonce: "n", CodeVerifier: "v", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}))
	require.True(t, errors.Is(repo.Put(ctx, "state-1", &flowstate.State{}), errors.ErrAlreadyExists))

	s, err := repo.Take(ctx, "state-1")
	require.NoError(t, err)
	require.Equal(t, "n", s.Nonce)
	require.Equal(t, "v", s.CodeVerifier)

	_, err = repo.Take(ctx, "state-1")
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestDeleteExpired(t *testing.T) {
	ctx := context.Background()
	repo := flowstate.NewInMemoryRepo()
	now := time.Now()

	require.NoError(t, repo.Put(ctx, "old", &flowstate.State{ExpiresAt: now.Add(-time.Second)}))
	require.NoError(t, repo.Put(ctx, "fresh", &flowstate.State{ExpiresAt: now.Add(time.Minute)}))

	n, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = repo.Take(ctx, "old")
	require.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = repo.Take(ctx, "fresh")
	require.NoError(t, err)
}

func TestPutRejectsEmpty(t *testing.T) {
	repo := flowstate.NewInMemoryRepo()
	require.Error(t, repo.Put(context.Background(), "", &flowstate.State{}))
	require.Error(t, repo.Put(context.Background(), "k", nil))
}
