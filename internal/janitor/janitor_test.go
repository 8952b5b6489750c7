package janitor_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/cids/broker/flowstate"
	"github.com/jrsteele09/cids/internal/janitor"
)

func TestRunOnceContinuesPastFailures(t *testing.T) {
	var calls atomic.Int32
	j := janitor.New(time.Minute,
		janitor.Task{Name: "broken", Sweep: func(context.Context) (int, error) {
			calls.Add(1)
			return 0, fmt.Errorf("store down")
		}},
		janitor.Task{Name: "ok", Sweep: func(context.Context) (int, error) {
			calls.Add(1)
			return 3, nil
		}},
	)
	require.Equal(t, 3, j.RunOnce(context.Background()))
	require.Equal(t, int32(2), calls.Load())
}

func TestRunStopsWithContext(t *testing.T) {
	var sweeps atomic.Int32
	j := janitor.New(5*time.Millisecond, janitor.Task{Name: "count", Sweep: func(context.Context) (int, error) {
		sweeps.Add(1)
		return 0, nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return sweeps.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestSlowTaskDoesNotDelayOthers(t *testing.T) {
	var quick atomic.Int32
	release := make(chan struct{})
	j := janitor.New(5*time.Millisecond,
		janitor.Task{Name: "discovery", Every: time.Hour, Sweep: func(ctx context.Context) (int, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return 0, nil
		}},
		janitor.Task{Name: "refresh_tokens", Sweep: func(context.Context) (int, error) {
			quick.Add(1)
			return 1, nil
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return quick.Load() >= 3 }, time.Second, time.Millisecond,
		"cheap sweeps keep running while discovery is blocked")
	cancel()
	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestAtSweepsExpiredFlows(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := flowstate.NewInMemoryRepo()
	require.NoError(t, repo.Put(ctx, "old", &flowstate.State{CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, repo.Put(ctx, "new", &flowstate.State{CreatedAt: now, ExpiresAt: now.Add(time.Minute)}))

	j := janitor.New(time.Minute, janitor.At("login_flows", func() time.Time { return now }, repo.DeleteExpired))
	require.Equal(t, 1, j.RunOnce(ctx))

	_, err := repo.Take(ctx, "new")
	require.NoError(t, err)
}
