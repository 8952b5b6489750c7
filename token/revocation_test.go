package token_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/cids/token"
)

func TestInMemoryRevocationList(t *testing.T) {
	ctx := context.Background()
	list := token.NewInMemoryRevocationList()

	require.NoError(t, list.Revoke(ctx, "live", time.Now().Add(time.Hour)))
	require.NoError(t, list.Revoke(ctx, "stale", time.Now().Add(-time.Minute)))

	revoked, err := list.IsRevoked(ctx, "live")
	require.NoError(t, err)
	require.True(t, revoked)

	removed, err := list.Cleanup(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	revoked, err = list.IsRevoked(ctx, "stale")
	require.NoError(t, err)
	require.False(t, revoked)

	revoked, err = list.IsRevoked(ctx, "never")
	require.NoError(t, err)
	require.False(t, revoked)
}
