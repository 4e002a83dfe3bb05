package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kfir-abbou/Dapr/pkg/api"
	"github.com/kfir-abbou/Dapr/pkg/log"
)

type (
	// Scheduler fires event wait deadlines. Each wait has at most one
	// deadline; scheduling it again moves the deadline
	Scheduler struct {
		now       Clock
		makeTimer TimerConstructor
		wake      chan struct{}

		mu    sync.Mutex
		queue *deadlineQueue
	}

	// TaskFunc is called when its deadline arrives
	TaskFunc func() error
)

// New creates a scheduler using the provided clock and timer constructor
func New(now Clock, makeTimer TimerConstructor) *Scheduler {
	if now == nil {
		now = time.Now
	}
	if makeTimer == nil {
		makeTimer = NewTimer
	}
	return &Scheduler{
		now:       now,
		makeTimer: makeTimer,
		wake:      make(chan struct{}, 1),
		queue:     newDeadlineQueue(),
	}
}

// Schedule sets the deadline of the wait named by key
func (s *Scheduler) Schedule(key Key, at time.Time, fn TaskFunc) {
	if fn == nil || at.IsZero() {
		return
	}
	s.mu.Lock()
	s.queue.put(key, at, fn)
	s.mu.Unlock()
	s.notify()
}

// Cancel drops the deadline of the wait named by key
func (s *Scheduler) Cancel(key Key) {
	s.mu.Lock()
	s.queue.remove(key)
	s.mu.Unlock()
	s.notify()
}

// CancelInstance drops every deadline of an instance
func (s *Scheduler) CancelInstance(id api.InstanceID) {
	s.mu.Lock()
	s.queue.removeInstance(id)
	s.mu.Unlock()
	s.notify()
}

// Pending reports the deadline currently set for key
func (s *Scheduler) Pending(key Key) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.queue.get(key); d != nil {
		return d.at, true
	}
	return time.Time{}, false
}

// Run fires deadlines until the context is cancelled. The timer is armed
// for the earliest deadline; when it fires, only the deadline it was armed
// for runs, so one scheduled meanwhile is never fired early
func (s *Scheduler) Run(ctx context.Context) {
	var timer Timer
	running := false
	defer func() {
		if running {
			timer.Stop()
		}
	}()

	for {
		var fired <-chan time.Time
		armed := s.earliest()
		switch {
		case armed != nil && timer == nil:
			timer = s.makeTimer(armed.at.Sub(s.now()))
			running = true
		case armed != nil:
			timer.Reset(armed.at.Sub(s.now()))
			running = true
		case running:
			timer.Stop()
			running = false
		}
		if running {
			fired = timer.Channel()
		}

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-fired:
			running = false
			s.fire(armed)
		}
	}
}

func (s *Scheduler) earliest() *deadline {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.queue.first(); d != nil {
		res := *d
		return &res
	}
	return nil
}

func (s *Scheduler) fire(armed *deadline) {
	s.mu.Lock()
	d := s.queue.get(armed.key)
	if d == nil || !d.at.Equal(armed.at) {
		s.mu.Unlock()
		return
	}
	s.queue.drop(d)
	s.mu.Unlock()

	if err := d.fire(); err != nil {
		slog.Error("Wait deadline failed",
			log.InstanceID(d.key.Instance),
			log.EventName(d.key.Event),
			log.Error(err))
	}
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
