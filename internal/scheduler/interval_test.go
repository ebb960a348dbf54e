package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSkipsTicksWhileTaskRuns(t *testing.T) {
	s := NewIntervalScheduler("test", 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		s.Start(ctx, func(context.Context) {
			calls.Add(1)
			<-release
		})
		close(done)
	}()

	// The first tick starts a run that blocks; the following ticks must be
	// skipped, not queued.
	time.Sleep(150 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
	assert.True(t, s.Running())

	close(release)
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on ctx cancel")
	}
}

func TestStartRunImmediately(t *testing.T) {
	s := NewIntervalScheduler("test", time.Hour)
	s.RunImmediately = true
	ctx, cancel := context.WithCancel(context.Background())

	ran := make(chan struct{})
	go s.Start(ctx, func(context.Context) { close(ran) })

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("immediate run never happened")
	}
	cancel()
}

func TestStartRejectsInvalidSetup(t *testing.T) {
	// Both return immediately instead of spinning.
	NewIntervalScheduler("no-task", time.Second).Start(context.Background(), nil)
	NewIntervalScheduler("no-interval", 0).Start(context.Background(), func(context.Context) {
		t.Fatal("task must not run with zero interval")
	})
}
