package audit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/cids/audit"
	"github.com/jrsteele09/cids/audit/repofake"
)

func TestRecordAssignsIDAndTime(t *testing.T) {
	ctx := context.Background()
	repo := repofake.NewFakeAuditRepo()
	l := audit.NewLog(repo)

	require.NoError(t, l.Record(ctx, audit.Entry{Actor: "alice", Action: audit.ActionLogin}))
	require.NoError(t, l.Record(ctx, audit.Entry{Actor: "bob", Action: audit.ActionReplayDetected, Outcome: audit.OutcomeFailure}))

	entries, err := l.List(ctx, audit.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "bob", entries[0].Actor, "newest first")
	require.NotEmpty(t, entries[1].ID)
	require.False(t, entries[1].At.IsZero())
	require.Equal(t, audit.OutcomeSuccess, entries[1].Outcome)
	require.Less(t, entries[1].ID, entries[0].ID)

	replays, err := l.List(ctx, audit.Filter{Action: audit.ActionReplayDetected})
	require.NoError(t, err)
	require.Len(t, replays, 1)
}

func TestSafeIgnoresNilRecorder(t *testing.T) {
	audit.Safe(context.Background(), nil, audit.Entry{Action: audit.ActionLogin})
}
