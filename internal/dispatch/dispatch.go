// Package dispatch fans notifications out to registered observers. Every
// observer owns a FIFO mailbox drained by its own goroutine, so a slow observer
// delays only itself and per-session emission order is preserved.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/buttond/internal/button"
	"github.com/srg/buttond/internal/groutine"
)

// Observer receives notifications in emission order.
type Observer interface {
	Notify(n button.Notification)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(button.Notification)

// Notify calls f(n).
func (f ObserverFunc) Notify(n button.Notification) { f(n) }

// Dispatcher implements button.Emitter.
type Dispatcher struct {
	logger *logrus.Logger
	ctx    context.Context

	subs *hashmap.Map[string, *mailbox]

	// mu orders membership changes against fan-out.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ button.Emitter = (*Dispatcher)(nil)

// New creates a dispatcher. ctx labels the mailbox goroutines.
func New(ctx context.Context, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Dispatcher{
		logger: logger,
		ctx:    ctx,
		subs:   hashmap.New[string, *mailbox](),
	}
}

// Subscribe registers obs under id. Subscribing an id that is already present
// is a no-op and reports false.
func (d *Dispatcher) Subscribe(id string, obs Observer) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	if _, exists := d.subs.Get(id); exists {
		return false
	}

	mb := newMailbox(id, obs)
	d.subs.Set(id, mb)
	d.wg.Add(1)
	groutine.Go(d.ctx, "observer-"+id, func(context.Context) {
		defer d.wg.Done()
		mb.drain(d.logger)
	})
	d.logger.WithField("observer", id).Debug("Observer subscribed")
	return true
}

// Unsubscribe removes the observer. Notifications already queued for it are
// still delivered. Unknown ids are ignored.
func (d *Dispatcher) Unsubscribe(id string) bool {
	d.mu.Lock()
	mb, ok := d.subs.Get(id)
	if ok {
		d.subs.Del(id)
	}
	d.mu.Unlock()
	if !ok {
		return false
	}
	mb.close()
	d.logger.WithField("observer", id).Debug("Observer unsubscribed")
	return true
}

// Len returns the number of subscribed observers.
func (d *Dispatcher) Len() int {
	return d.subs.Len()
}

// Emit queues n for every observer. It never blocks on observer work.
func (d *Dispatcher) Emit(n button.Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.subs.Range(func(_ string, mb *mailbox) bool {
		mb.push(n)
		return true
	})
}

// Close stops accepting notifications and waits until every mailbox has been
// drained or ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	var boxes []*mailbox
	d.subs.Range(func(id string, mb *mailbox) bool {
		boxes = append(boxes, mb)
		return true
	})
	for _, mb := range boxes {
		d.subs.Del(mb.id)
		mb.close()
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher close: %w", ctx.Err())
	}
}

type mailbox struct {
	id  string
	obs Observer

	mu     sync.Mutex
	queue  []button.Notification
	closed bool
	wake   chan struct{}
}

func newMailbox(id string, obs Observer) *mailbox {
	return &mailbox{id: id, obs: obs, wake: make(chan struct{}, 1)}
}

func (m *mailbox) push(n button.Notification) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, n)
	m.mu.Unlock()
	m.signal()
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.signal()
}

func (m *mailbox) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// drain delivers queued notifications until the mailbox is closed and empty.
func (m *mailbox) drain(logger *logrus.Logger) {
	for {
		m.mu.Lock()
		batch := m.queue
		m.queue = nil
		closed := m.closed
		m.mu.Unlock()

		for _, n := range batch {
			m.deliver(logger, n)
		}
		if closed && len(batch) == 0 {
			return
		}
		if len(batch) == 0 {
			<-m.wake
		}
	}
}

func (m *mailbox) deliver(logger *logrus.Logger, n button.Notification) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{
				"observer": m.id,
				"kind":     n.Kind,
				"error":    fmt.Sprint(r),
				"stack":    string(debug.Stack()),
			}).Warn("Observer panicked")
		}
	}()
	m.obs.Notify(n)
}
