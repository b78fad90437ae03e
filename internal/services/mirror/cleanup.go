package mirror

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// cleanupTimeout bounds one DeleteAllOffers run.
const cleanupTimeout = 30 * time.Second

type stopper interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) stopper

func timeAfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

// cleanupScheduler runs task once, delay after the last Arm. Re-arming replaces
// the pending run, so at most one run is ever scheduled.
type cleanupScheduler struct {
	delay     time.Duration
	task      func(ctx context.Context) error
	onDone    func(err error)
	afterFunc afterFunc
	l         *zap.Logger

	mu         sync.Mutex
	timer      stopper
	generation uint64
	closed     bool
	running    sync.WaitGroup
}

func newCleanupScheduler(l *zap.Logger, delay time.Duration, task func(ctx context.Context) error, onDone func(err error)) *cleanupScheduler {
	if onDone == nil {
		onDone = func(error) {}
	}
	return &cleanupScheduler{
		delay:     delay,
		task:      task,
		onDone:    onDone,
		afterFunc: timeAfterFunc,
		l:         l,
	}
}

// Arm schedules the task delay from now, cancelling any pending run.
func (s *cleanupScheduler) Arm() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}

	s.generation++
	gen := s.generation
	s.timer = s.afterFunc(s.delay, func() { s.fire(gen) })
}

// Pending reports whether a run is scheduled.
func (s *cleanupScheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.timer != nil
}

func (s *cleanupScheduler) fire(gen uint64) {
	s.mu.Lock()
	// a timer that fired while Arm was replacing it is stale
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.running.Add(1)
	s.mu.Unlock()

	defer s.running.Done()

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	err := s.task(ctx)
	if err != nil {
		s.l.Error("offer cleanup failed", zap.Error(err))
	} else {
		s.l.Info("offers cleaned up")
	}
	s.onDone(err)
}

// Close cancels any pending run and waits for a running one to finish.
func (s *cleanupScheduler) Close() {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	s.running.Wait()
}
