package coordinator_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"sentinel/internal/coordinator"
	"sentinel/internal/lease"
	"sentinel/internal/store"
	"sentinel/internal/store/gormstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKV(t *testing.T) store.KVRepository {
	t.Helper()
	st, err := gormstore.Open(filepath.Join(t.TempDir(), "sentinel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st.KV()
}

func TestRunExecutesOnceThenSkipsRecent(t *testing.T) {
	mgr := lease.NewManager(newKV(t), 30*time.Second)
	a := coordinator.New(mgr, "caller-a", time.Minute)
	b := coordinator.New(mgr, "caller-b", time.Minute)
	ctx := context.Background()

	calls := 0
	action := func(context.Context) error { calls++; return nil }

	outcome, err := a.Run(ctx, "BTC/USDT", "stage1_partial_tp", action)
	require.NoError(t, err)
	assert.Equal(t, coordinator.OutcomeExecuted, outcome)
	assert.False(t, outcome.Skipped())

	// A second caller arriving after the first released still sees the
	// execution through the recency marker.
	outcome, err = b.Run(ctx, "BTC/USDT", "stage1_partial_tp", action)
	require.NoError(t, err)
	assert.Equal(t, coordinator.OutcomeSkippedRecent, outcome)
	assert.True(t, outcome.Skipped())
	assert.Equal(t, 1, calls)

	// A different stage on the same symbol is independent.
	outcome, err = b.Run(ctx, "BTC/USDT", "stage2_partial_tp", action)
	require.NoError(t, err)
	assert.Equal(t, coordinator.OutcomeExecuted, outcome)
	assert.Equal(t, 2, calls)
}

func TestRunSkipsWhenLeaseHeld(t *testing.T) {
	mgr := lease.NewManager(newKV(t), 30*time.Second)
	c := coordinator.New(mgr, "caller-a", time.Minute)
	ctx := context.Background()

	// Another caller holds the lease for this exact action.
	held, err := mgr.TryAcquire(ctx, "partial:BTCUSDT:stage1_partial_tp", "someone-else")
	require.NoError(t, err)
	require.True(t, held)

	outcome, err := c.Run(ctx, "btcusdt", "stage1_partial_tp", func(context.Context) error {
		t.Fatal("action must not run under contention")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, coordinator.OutcomeSkippedLock, outcome)

	// After release the action goes through.
	require.NoError(t, mgr.Release(ctx, "partial:BTCUSDT:stage1_partial_tp", "someone-else"))
	outcome, err = c.Run(ctx, "btcusdt", "stage1_partial_tp", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, coordinator.OutcomeExecuted, outcome)
}

func TestRunFailedActionLeavesNoRecencyMarker(t *testing.T) {
	mgr := lease.NewManager(newKV(t), 30*time.Second)
	c := coordinator.New(mgr, "caller-a", time.Minute)
	ctx := context.Background()

	outcome, err := c.Run(ctx, "ETH/USDT", "stage1_partial_tp", func(context.Context) error {
		return errors.New("exchange rejected")
	})
	require.Error(t, err)
	assert.Equal(t, coordinator.OutcomeFailed, outcome)

	// The failure released the lease and wrote no marker, so a retry runs.
	outcome, err = c.Run(ctx, "ETH/USDT", "stage1_partial_tp", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, coordinator.OutcomeExecuted, outcome)
}

func TestRunRejectsNilAction(t *testing.T) {
	mgr := lease.NewManager(newKV(t), 30*time.Second)
	c := coordinator.New(mgr, "caller-a", time.Minute)

	outcome, err := c.Run(context.Background(), "BTC/USDT", "stage1_partial_tp", nil)
	require.Error(t, err)
	assert.Equal(t, coordinator.OutcomeFailed, outcome)
}
