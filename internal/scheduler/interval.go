package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"sentinel/internal/logger"
)

// IntervalScheduler runs a task on a fixed interval. If a tick fires while
// the previous invocation is still running, that tick is skipped entirely:
// at most one invocation is in flight at a time.
type IntervalScheduler struct {
	Name           string
	Interval       time.Duration
	RunImmediately bool

	running atomic.Bool
}

func NewIntervalScheduler(name string, interval time.Duration) *IntervalScheduler {
	return &IntervalScheduler{Name: name, Interval: interval}
}

// Start blocks until ctx is done.
func (s *IntervalScheduler) Start(ctx context.Context, task func(context.Context)) {
	if s == nil {
		return
	}
	if task == nil {
		logger.Warnf("IntervalScheduler %s: task is nil, exit", s.Name)
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("IntervalScheduler %s: invalid interval=%s, exit", s.Name, s.Interval)
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	logger.Infof("IntervalScheduler %s: started interval=%s run_immediately=%v", s.Name, s.Interval, s.RunImmediately)
	if s.RunImmediately {
		s.runOnce(ctx, task)
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infof("IntervalScheduler %s: ctx done, exit", s.Name)
			return
		case <-ticker.C:
			s.runOnce(ctx, task)
		}
	}
}

func (s *IntervalScheduler) runOnce(ctx context.Context, task func(context.Context)) {
	if !s.running.CompareAndSwap(false, true) {
		logger.Warnf("IntervalScheduler %s: previous run still in flight, skip tick", s.Name)
		return
	}
	defer s.running.Store(false)
	task(ctx)
}

// Running reports whether an invocation is currently in flight.
func (s *IntervalScheduler) Running() bool {
	if s == nil {
		return false
	}
	return s.running.Load()
}
