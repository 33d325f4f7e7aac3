//go:build test

package testutils

import (
	"sort"
	"sync"
	"time"

	"github.com/srg/buttond/internal/button"
)

// ManualScheduler is a deterministic button.Scheduler. Posted work runs only
// when the test calls Flush or Advance, and time moves only through Advance.
type ManualScheduler struct {
	mu      sync.Mutex
	now     time.Time
	queue   []func()
	timers  []*manualTimer
	seq     uint64
	posted  chan struct{}
	running sync.Mutex
}

type manualTimer struct {
	s       *ManualScheduler
	at      time.Time
	seq     uint64
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// NewManualScheduler starts the virtual clock at a fixed instant.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{
		now:    time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		posted: make(chan struct{}, 1),
	}
}

func (s *ManualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *ManualScheduler) Post(fn func()) {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	s.mu.Unlock()
	select {
	case s.posted <- struct{}{}:
	default:
	}
}

func (s *ManualScheduler) AfterFunc(d time.Duration, fn func()) button.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &manualTimer{s: s, at: s.now.Add(d), seq: s.seq, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// Run executes fn as loop work and flushes whatever it posts.
func (s *ManualScheduler) Run(fn func()) {
	s.Post(fn)
	s.Flush()
}

// Flush runs queued work, including work queued while flushing, until the
// queue is empty.
func (s *ManualScheduler) Flush() {
	s.running.Lock()
	defer s.running.Unlock()
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		fn()
	}
}

// FlushWait waits up to timeout for work posted from another goroutine (for
// example an authentication result) and flushes it. It reports whether
// anything was posted.
func (s *ManualScheduler) FlushWait(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		pending := len(s.queue) > 0
		s.mu.Unlock()
		if pending {
			s.Flush()
			return true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		select {
		case <-s.posted:
		case <-time.After(remaining):
		}
	}
}

// Advance moves the clock forward by d, firing due timers in deadline order and
// flushing posted work after each one.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.Flush()
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		next := s.nextDue(target)
		if next == nil {
			s.now = target
			s.mu.Unlock()
			break
		}
		if next.at.After(s.now) {
			s.now = next.at
		}
		t := next
		s.queue = append(s.queue, func() {
			s.mu.Lock()
			if t.stopped || t.fired {
				s.mu.Unlock()
				return
			}
			t.fired = true
			s.mu.Unlock()
			t.fn()
		})
		s.mu.Unlock()
		s.Flush()
	}
	s.Flush()
}

// PendingTimers counts armed timers.
func (s *ManualScheduler) PendingTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (s *ManualScheduler) nextDue(limit time.Time) *manualTimer {
	live := s.timers[:0]
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	s.timers = live
	sort.SliceStable(s.timers, func(i, j int) bool {
		if s.timers[i].at.Equal(s.timers[j].at) {
			return s.timers[i].seq < s.timers[j].seq
		}
		return s.timers[i].at.Before(s.timers[j].at)
	})
	if len(s.timers) == 0 || s.timers[0].at.After(limit) {
		return nil
	}
	return s.timers[0]
}
