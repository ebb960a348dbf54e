// Package lease provides row-based mutual exclusion over the ledger's
// generic key/value table, plus a recency guard for sequential duplication.
//
// The two layers solve different problems: the lease stops two callers that
// contend at the same moment, the recency check stops a second caller that
// arrives after the first already finished and released. The calling
// contexts (scheduled health check, autonomous decision loop) share no
// process state, so neither layer alone is enough.
package lease

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"sentinel/internal/logger"
	"sentinel/internal/store"
)

const (
	lockPrefix = "lock:"
	execPrefix = "exec:"
)

type Manager struct {
	kv  store.KVRepository
	ttl time.Duration

	mu    sync.Mutex
	nowFn func() time.Time
}

func NewManager(kv store.KVRepository, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Manager{kv: kv, ttl: ttl, nowFn: time.Now}
}

// TryAcquire returns true when no live lease exists for key, when the live
// lease already belongs to holder (re-entrant refresh), or when the
// existing lease aged past the TTL and is stolen. The in-process mutex
// serializes the read-decide-write sequence; cross-process callers are
// covered by the TTL. A stale holder losing its lease mid-action is
// accepted for a single-process deployment.
func (m *Manager) TryAcquire(ctx context.Context, key, holder string) (bool, error) {
	if m == nil || m.kv == nil {
		return false, fmt.Errorf("lease manager not initialized")
	}
	key = strings.TrimSpace(key)
	holder = strings.TrimSpace(holder)
	if key == "" || holder == "" {
		return false, fmt.Errorf("lease key and holder are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowFn()
	entry, err := m.kv.Get(ctx, lockPrefix+key)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return true, m.kv.Put(ctx, lockPrefix+key, holder, now)
	}
	if entry.Value == holder {
		return true, m.kv.Put(ctx, lockPrefix+key, holder, now)
	}
	age := now.Sub(entry.UpdatedAt())
	if age > m.ttl {
		logger.Warnf("lease %s: stealing from stale holder %s (age=%s ttl=%s)", key, entry.Value, age.Truncate(time.Millisecond), m.ttl)
		return true, m.kv.Put(ctx, lockPrefix+key, holder, now)
	}
	return false, nil
}

// Release deletes the lease only if holder is still recorded on it. A
// foreign or already-stolen lease is left alone.
func (m *Manager) Release(ctx context.Context, key, holder string) error {
	if m == nil || m.kv == nil {
		return fmt.Errorf("lease manager not initialized")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted, err := m.kv.DeleteIfValue(ctx, lockPrefix+strings.TrimSpace(key), strings.TrimSpace(holder))
	if err != nil {
		return err
	}
	if !deleted {
		logger.Debugf("lease %s: release skipped, holder %s no longer owns it", key, holder)
	}
	return nil
}

// MarkExecuted records that the (symbol, stage) action just completed.
func (m *Manager) MarkExecuted(ctx context.Context, symbol, stage string) error {
	if m == nil || m.kv == nil {
		return fmt.Errorf("lease manager not initialized")
	}
	now := m.nowFn()
	return m.kv.Put(ctx, execKey(symbol, stage), now.Format(time.RFC3339Nano), now)
}

// HasRecentExecution reports whether the (symbol, stage) action completed
// within window. It works without ever touching the lock, so a caller that
// runs after the first one released can still detect the duplicate.
func (m *Manager) HasRecentExecution(ctx context.Context, symbol, stage string, window time.Duration) (bool, error) {
	if m == nil || m.kv == nil {
		return false, fmt.Errorf("lease manager not initialized")
	}
	if window <= 0 {
		return false, nil
	}
	entry, err := m.kv.Get(ctx, execKey(symbol, stage))
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}
	return m.nowFn().Sub(entry.UpdatedAt()) <= window, nil
}

func execKey(symbol, stage string) string {
	return execPrefix + strings.ToUpper(strings.TrimSpace(symbol)) + ":" + strings.TrimSpace(stage)
}

// SetNowFunc overrides the clock. Test hook.
func (m *Manager) SetNowFunc(fn func() time.Time) {
	if m == nil || fn == nil {
		return
	}
	m.nowFn = fn
}
