// Package ringchan provides a bounded, overwrite-oldest channel used for
// best-effort consumers such as terminal output and websocket clients.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// Ring is a bounded channel-like buffer. Producers never block: when the buffer
// is full the oldest element is discarded to make room.
//
//	r := ringchan.New[string](64)
//	r.Push("hello")
//	for v := range r.C() {
//	    fmt.Println(v)
//	}
type Ring[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool
	stats  Stats
}

// New creates a Ring with the given capacity.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &Ring[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. It is closed by Close.
func (r *Ring[T]) C() <-chan T {
	return r.ch
}

// Push inserts v, discarding the oldest element if the buffer is full. It reports
// whether an element was dropped. Push after Close is a no-op.
func (r *Ring[T]) Push(v T) (dropped bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}

	for {
		select {
		case r.ch <- v:
			atomic.AddInt64(&r.stats.Written, 1)
			return dropped
		default:
		}
		select {
		case <-r.ch:
			atomic.AddInt64(&r.stats.Overwritten, 1)
			dropped = true
		default:
		}
	}
}

// TryPush inserts v only if there is room.
func (r *Ring[T]) TryPush(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	select {
	case r.ch <- v:
		atomic.AddInt64(&r.stats.Written, 1)
		return true
	default:
		return false
	}
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int { return len(r.ch) }

// Cap returns the buffer capacity.
func (r *Ring[T]) Cap() int { return cap(r.ch) }

// Close closes the receive side. It is safe to call more than once.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.ch)
}

// Stats returns a snapshot of the counters.
func (r *Ring[T]) Stats() Stats {
	return Stats{
		Written:     atomic.LoadInt64(&r.stats.Written),
		Overwritten: atomic.LoadInt64(&r.stats.Overwritten),
	}
}

// Stats counts ring traffic.
type Stats struct {
	Written     int64
	Overwritten int64
}
