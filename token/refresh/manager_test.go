package refresh_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/cids/audit"
	auditfake "github.com/jrsteele09/cids/audit/repofake"
	"github.com/jrsteele09/cids/internal/errors"
	"github.com/jrsteele09/cids/token/refresh"
	"github.com/jrsteele09/cids/token/refresh/repofake"
)

type testFixture struct {
	repo      *repofake.FakeRefreshRepo
	auditRepo *auditfake.FakeAuditRepo
	manager   *refresh.Manager
	now       time.Time
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{
		repo:      repofake.NewFakeRefreshRepo(),
		auditRepo: auditfake.NewFakeAuditRepo(),
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	m, err := refresh.NewManager(f.repo, time.Hour,
		refresh.WithAuditor(audit.NewLog(f.auditRepo)),
		refresh.WithNowTime(func() time.Time { return f.now }),
	)
	require.NoError(t, err)
	f.manager = m
	return f
}

var snapshot = refresh.Snapshot{Subject: "user-1", Email: "u@example.com", Groups: []string{"hr"}}

func TestIssueStoresOnlyHash(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	issued, err := f.manager.Issue(ctx, snapshot)
	require.NoError(t, err)
	require.NotEmpty(t, issued.Token)

	rec, fam, err := f.repo.GetByHash(ctx, refresh.HashToken(issued.Token))
	require.NoError(t, err)
	require.NotEqual(t, issued.Token, rec.TokenHash)
	require.Equal(t, refresh.FamilyActive, fam.Status)
	require.Equal(t, snapshot.Subject, fam.Snapshot.Subject)

	_, _, err = f.repo.GetByHash(ctx, issued.Token)
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestRedeemRotates(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	first, err := f.manager.Issue(ctx, snapshot)
	require.NoError(t, err)

	second, err := f.manager.Redeem(ctx, first.Token)
	require.NoError(t, err)
	require.Equal(t, first.FamilyID, second.FamilyID)
	require.NotEqual(t, first.Token, second.Token)
	require.Equal(t, snapshot.Groups, second.Snapshot.Groups)

	third, err := f.manager.Redeem(ctx, second.Token)
	require.NoError(t, err)
	require.Equal(t, first.FamilyID, third.FamilyID)
}

func TestReplayRevokesFamily(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	first, err := f.manager.Issue(ctx, snapshot)
	require.NoError(t, err)
	second, err := f.manager.Redeem(ctx, first.Token)
	require.NoError(t, err)

	_, err = f.manager.Redeem(ctx, first.Token)
	require.True(t, errors.Is(err, errors.ErrReplayDetected))

	fam, err := f.repo.GetFamily(ctx, first.FamilyID)
	require.NoError(t, err)
	require.Equal(t, refresh.FamilyRevoked, fam.Status)
	require.Equal(t, refresh.ReasonReplay, fam.RevokedReason)

	_, err = f.manager.Redeem(ctx, second.Token)
	require.True(t, errors.Is(err, errors.ErrRevoked), "legitimate holder is also cut off")

	entries, err := f.auditRepo.List(ctx, audit.Filter{Action: audit.ActionReplayDetected})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, first.FamilyID, entries[0].Target)
}

func TestExpiredSupersededTokenIsStillReplay(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	first, err := f.manager.Issue(ctx, snapshot)
	require.NoError(t, err)
	f.now = f.now.Add(30 * time.Minute)
	second, err := f.manager.Redeem(ctx, first.Token)
	require.NoError(t, err)

	// first has expired, second is still live
	f.now = f.now.Add(45 * time.Minute)
	_, err = f.manager.Redeem(ctx, first.Token)
	require.True(t, errors.Is(err, errors.ErrReplayDetected))

	_, err = f.manager.Redeem(ctx, second.Token)
	require.True(t, errors.Is(err, errors.ErrRevoked))
}

func TestConcurrentRedemptionHasOneWinner(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	issued, err := f.manager.Issue(ctx, snapshot)
	require.NoError(t, err)

	const attempts = 16
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.manager.Redeem(ctx, issued.Token)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		require.True(t, errors.Is(err, errors.ErrReplayDetected) || errors.Is(err, errors.ErrRevoked), err)
	}
	require.Equal(t, 1, wins)

	fam, err := f.repo.GetFamily(ctx, issued.FamilyID)
	require.NoError(t, err)
	require.Equal(t, refresh.FamilyRevoked, fam.Status)
}

func TestRedeemExpired(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	issued, err := f.manager.Issue(ctx, snapshot)
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	_, err = f.manager.Redeem(ctx, issued.Token)
	require.True(t, errors.Is(err, errors.ErrExpired))

	_, err = f.manager.Redeem(ctx, issued.Token)
	require.True(t, errors.Is(err, errors.ErrNotFound), "expired token purged lazily")
}

func TestRedeemUnknown(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.manager.Redeem(context.Background(), "nope")
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestRevokeTokenAndSweep(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	issued, err := f.manager.Issue(ctx, snapshot)
	require.NoError(t, err)

	fam, err := f.manager.RevokeToken(ctx, issued.Token, refresh.ReasonLogout)
	require.NoError(t, err)
	require.Equal(t, issued.FamilyID, fam.ID)

	_, err = f.manager.Redeem(ctx, issued.Token)
	require.True(t, errors.Is(err, errors.ErrRevoked))

	f.now = f.now.Add(2 * time.Hour)
	removed, err := f.manager.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = f.repo.GetFamily(ctx, issued.FamilyID)
	require.True(t, errors.Is(err, errors.ErrNotFound))
}
