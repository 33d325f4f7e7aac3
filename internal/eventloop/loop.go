// Package eventloop runs the single supervisory loop that owns all session and
// supervisor state. Work is posted as closures and executed strictly one at a
// time in posting order.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/buttond/internal/button"
)

// ErrStopped is returned by Call once the loop has exited.
var ErrStopped = errors.New("event loop stopped")

// Loop is a cooperative single-goroutine executor.
type Loop struct {
	logger *logrus.Logger

	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}
	running atomic.Bool
}

// New creates a loop. Run must be called to start processing.
func New(logger *logrus.Logger) *Loop {
	if logger == nil {
		logger = logrus.New()
	}
	return &Loop{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Run processes posted work until ctx is cancelled. Work still queued at that
// point is discarded.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return fmt.Errorf("event loop already running")
	}
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	}()

	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.exec(fn)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithField("error", r).Error("Event loop task panicked")
		}
	}()
	fn()
}

// Done is closed after Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Now returns the wall clock.
func (l *Loop) Now() time.Time { return time.Now() }

// Post queues fn behind everything already queued. Posting to a stopped loop is a no-op.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
		return nil
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AfterFunc posts fn to the loop once d has elapsed. A timer stopped before its
// callback reaches the front of the queue never runs.
func (l *Loop) AfterFunc(d time.Duration, fn func()) button.Timer {
	t := &timer{}
	t.real = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.state.CompareAndSwap(timerPending, timerFired) {
				fn()
			}
		})
	})
	return t
}

const (
	timerPending int32 = iota
	timerFired
	timerStopped
)

type timer struct {
	real  *time.Timer
	state atomic.Int32
}

func (t *timer) Stop() bool {
	t.real.Stop()
	return t.state.CompareAndSwap(timerPending, timerStopped)
}
