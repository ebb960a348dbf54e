package lease_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

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

func TestTryAcquireIsExclusive(t *testing.T) {
	m := lease.NewManager(newKV(t), 30*time.Second)
	ctx := context.Background()

	ok, err := m.TryAcquire(ctx, "partial:BTCUSDT:stage1", "holder-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.TryAcquire(ctx, "partial:BTCUSDT:stage1", "holder-b")
	require.NoError(t, err)
	assert.False(t, ok)

	// Distinct keys never contend.
	ok, err = m.TryAcquire(ctx, "partial:ETHUSDT:stage1", "holder-b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTryAcquireIsReentrantForSameHolder(t *testing.T) {
	m := lease.NewManager(newKV(t), 30*time.Second)
	ctx := context.Background()

	ok, err := m.TryAcquire(ctx, "k", "holder-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.TryAcquire(ctx, "k", "holder-a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExpiredLeaseIsStolen(t *testing.T) {
	m := lease.NewManager(newKV(t), 10*time.Second)
	ctx := context.Background()

	now := time.Now()
	m.SetNowFunc(func() time.Time { return now })
	ok, err := m.TryAcquire(ctx, "k", "holder-a")
	require.NoError(t, err)
	require.True(t, ok)

	// Within TTL the lease holds.
	m.SetNowFunc(func() time.Time { return now.Add(9 * time.Second) })
	ok, err = m.TryAcquire(ctx, "k", "holder-b")
	require.NoError(t, err)
	assert.False(t, ok)

	// Past TTL the stale lease is stolen.
	m.SetNowFunc(func() time.Time { return now.Add(11 * time.Second) })
	ok, err = m.TryAcquire(ctx, "k", "holder-b")
	require.NoError(t, err)
	assert.True(t, ok)

	// The original holder lost it.
	ok, err = m.TryAcquire(ctx, "k", "holder-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReleaseIgnoresForeignLease(t *testing.T) {
	m := lease.NewManager(newKV(t), 30*time.Second)
	ctx := context.Background()

	ok, err := m.TryAcquire(ctx, "k", "holder-a")
	require.NoError(t, err)
	require.True(t, ok)

	// holder-b releasing is a no-op, not an error.
	require.NoError(t, m.Release(ctx, "k", "holder-b"))
	ok, err = m.TryAcquire(ctx, "k", "holder-c")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Release(ctx, "k", "holder-a"))
	ok, err = m.TryAcquire(ctx, "k", "holder-c")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRecencyGuard(t *testing.T) {
	m := lease.NewManager(newKV(t), 30*time.Second)
	ctx := context.Background()

	recent, err := m.HasRecentExecution(ctx, "BTC/USDT", "stage1", time.Minute)
	require.NoError(t, err)
	assert.False(t, recent)

	now := time.Now()
	m.SetNowFunc(func() time.Time { return now })
	require.NoError(t, m.MarkExecuted(ctx, "btc/usdt", "stage1"))

	// Symbol casing does not split the marker.
	recent, err = m.HasRecentExecution(ctx, "BTC/USDT", "stage1", time.Minute)
	require.NoError(t, err)
	assert.True(t, recent)

	m.SetNowFunc(func() time.Time { return now.Add(2 * time.Minute) })
	recent, err = m.HasRecentExecution(ctx, "BTC/USDT", "stage1", time.Minute)
	require.NoError(t, err)
	assert.False(t, recent)

	// Zero window disables the guard.
	recent, err = m.HasRecentExecution(ctx, "BTC/USDT", "stage1", 0)
	require.NoError(t, err)
	assert.False(t, recent)
}
