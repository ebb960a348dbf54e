// Package coordinator lets two independent callers attempt the same staged
// action without double-executing it. A lease covers simultaneous
// contention; the recency guard covers sequential duplication after the
// lease was already released.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sentinel/internal/lease"
	"sentinel/internal/logger"

	"github.com/google/uuid"
)

type Outcome string

const (
	OutcomeExecuted      Outcome = "executed"
	OutcomeSkippedLock   Outcome = "skipped_lock_contention"
	OutcomeSkippedRecent Outcome = "skipped_recent_execution"
	OutcomeFailed        Outcome = "failed"
)

// Skipped reports whether the outcome means another caller already has, or
// had, the action. Not an error by the engine's taxonomy.
func (o Outcome) Skipped() bool {
	return o == OutcomeSkippedLock || o == OutcomeSkippedRecent
}

type Coordinator struct {
	leases *lease.Manager
	holder string
	window time.Duration
}

// New builds a coordinator with its own holder identity. Callers that need
// a stable identity across restarts can pass one; empty means a fresh uuid.
func New(leases *lease.Manager, holder string, recencyWindow time.Duration) *Coordinator {
	if strings.TrimSpace(holder) == "" {
		holder = uuid.NewString()
	}
	if recencyWindow <= 0 {
		recencyWindow = 60 * time.Second
	}
	return &Coordinator{leases: leases, holder: holder, window: recencyWindow}
}

// Run executes action for (symbol, stage) at most once per recency window
// across all callers. Lock contention and a recent prior execution are
// normal outcomes, not errors.
func (c *Coordinator) Run(ctx context.Context, symbol, stage string, action func(context.Context) error) (Outcome, error) {
	if c == nil || c.leases == nil {
		return OutcomeFailed, fmt.Errorf("coordinator not initialized")
	}
	if action == nil {
		return OutcomeFailed, fmt.Errorf("coordinator: action is required")
	}
	key := actionKey(symbol, stage)

	acquired, err := c.leases.TryAcquire(ctx, key, c.holder)
	if err != nil {
		return OutcomeFailed, err
	}
	if !acquired {
		logger.Infof("coordinator: %s %s skipped, lease held by another caller", symbol, stage)
		return OutcomeSkippedLock, nil
	}
	defer func() {
		if err := c.leases.Release(ctx, key, c.holder); err != nil {
			logger.Warnf("coordinator: release %s failed: %v", key, err)
		}
	}()

	recent, err := c.leases.HasRecentExecution(ctx, symbol, stage, c.window)
	if err != nil {
		return OutcomeFailed, err
	}
	if recent {
		logger.Infof("coordinator: %s %s skipped, already executed within %s", symbol, stage, c.window)
		return OutcomeSkippedRecent, nil
	}

	if err := action(ctx); err != nil {
		return OutcomeFailed, err
	}
	if err := c.leases.MarkExecuted(ctx, symbol, stage); err != nil {
		// The action succeeded; a failed marker only weakens the recency
		// guard, it does not undo the work.
		logger.Warnf("coordinator: mark executed %s %s failed: %v", symbol, stage, err)
	}
	return OutcomeExecuted, nil
}

func actionKey(symbol, stage string) string {
	return "partial:" + strings.ToUpper(strings.TrimSpace(symbol)) + ":" + strings.TrimSpace(stage)
}
