package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kfir-abbou/Dapr/internal/workflow/scheduler"
)

const (
	fireTimeout = time.Second
	quietPeriod = 150 * time.Millisecond
)

var (
	approval = scheduler.Key{Instance: "batch-1", Event: "ApprovalReceived"}
	remote   = scheduler.Key{Instance: "batch-1", Event: "RemoteComplete"}
	other    = scheduler.Key{Instance: "batch-2", Event: "ApprovalReceived"}
)

func TestScheduleFires(t *testing.T) {
	s := runScheduler(t, scheduler.NewTimer)
	done := make(chan struct{})

	s.Schedule(approval, time.Now().Add(20*time.Millisecond), func() error {
		close(done)
		return nil
	})

	waitFired(t, done)
	_, ok := s.Pending(approval)
	assert.False(t, ok)
}

func TestScheduleMovesDeadline(t *testing.T) {
	s := runScheduler(t, scheduler.NewTimer)
	var first atomic.Int32
	done := make(chan struct{})

	s.Schedule(remote, time.Now().Add(time.Hour), func() error {
		first.Add(1)
		return nil
	})
	at := time.Now().Add(20 * time.Millisecond)
	s.Schedule(remote, at, func() error {
		close(done)
		return nil
	})

	pending, ok := s.Pending(remote)
	require.True(t, ok)
	assert.True(t, pending.Equal(at))

	waitFired(t, done)
	assert.Equal(t, int32(0), first.Load())
}

func TestScheduleEarlierDeadlineRearms(t *testing.T) {
	s := runScheduler(t, scheduler.NewTimer)
	done := make(chan struct{})

	s.Schedule(other, time.Now().Add(time.Hour), func() error { return nil })
	s.Schedule(approval, time.Now().Add(20*time.Millisecond), func() error {
		close(done)
		return nil
	})

	waitFired(t, done)
	_, ok := s.Pending(other)
	assert.True(t, ok)
}

func TestCancel(t *testing.T) {
	s := runScheduler(t, scheduler.NewTimer)
	var ran atomic.Bool

	s.Schedule(approval, time.Now().Add(30*time.Millisecond), func() error {
		ran.Store(true)
		return nil
	})
	s.Cancel(approval)

	time.Sleep(quietPeriod)
	assert.False(t, ran.Load())
	_, ok := s.Pending(approval)
	assert.False(t, ok)
}

func TestCancelInstance(t *testing.T) {
	s := runScheduler(t, scheduler.NewTimer)
	var cancelled atomic.Int32
	done := make(chan struct{})
	at := time.Now().Add(30 * time.Millisecond)

	for _, key := range []scheduler.Key{approval, remote} {
		s.Schedule(key, at, func() error {
			cancelled.Add(1)
			return nil
		})
	}
	s.Schedule(other, at, func() error {
		close(done)
		return nil
	})
	s.CancelInstance("batch-1")

	waitFired(t, done)
	time.Sleep(quietPeriod)
	assert.Equal(t, int32(0), cancelled.Load())
}

func TestFailedDeadlineKeepsRunning(t *testing.T) {
	s := runScheduler(t, scheduler.NewTimer)
	done := make(chan struct{})

	s.Schedule(approval, time.Now(), func() error {
		return errors.New("append failed")
	})
	s.Schedule(other, time.Now().Add(20*time.Millisecond), func() error {
		close(done)
		return nil
	})

	waitFired(t, done)
}

func TestScaledTimer(t *testing.T) {
	s := runScheduler(t, scheduler.NewScaledTimer(1000))
	done := make(chan struct{})
	start := time.Now()

	s.Schedule(approval, start.Add(3*time.Minute), func() error {
		close(done)
		return nil
	})

	select {
	case <-done:
		assert.Less(t, time.Since(start), 3*time.Minute)
	case <-time.After(5 * time.Second):
		t.Fatal("scaled deadline did not fire")
	}
}

func TestScaledTimerDoesNotFireMovedDeadline(t *testing.T) {
	s := runScheduler(t, scheduler.NewScaledTimer(1000))
	var early atomic.Bool
	done := make(chan struct{})
	start := time.Now()

	s.Schedule(approval, start.Add(time.Minute), func() error {
		early.Store(true)
		return nil
	})
	s.Schedule(approval, start.Add(3*time.Minute), func() error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("moved deadline did not fire")
	}
	assert.False(t, early.Load())
}

func runScheduler(
	t *testing.T, makeTimer scheduler.TimerConstructor,
) *scheduler.Scheduler {
	t.Helper()
	s := scheduler.New(time.Now, makeTimer)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return s
}

func waitFired(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(fireTimeout):
		t.Fatal("deadline did not fire")
	}
}
