//go:build test

package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/srg/buttond/internal/button"
	"github.com/srg/buttond/internal/store"
)

// Recorder is a button.Emitter that keeps everything it receives.
type Recorder struct {
	mu    sync.Mutex
	items []button.Notification
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Emit(n button.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []button.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]button.Notification, len(r.items))
	copy(out, r.items)
	return out
}

// Kinds returns the notification kinds in emission order.
func (r *Recorder) Kinds() []button.NotificationKind {
	var out []button.NotificationKind
	for _, n := range r.All() {
		out = append(out, n.Kind)
	}
	return out
}

// Interactions returns only the interaction events.
func (r *Recorder) Interactions() []button.InteractionEvent {
	var out []button.InteractionEvent
	for _, n := range r.All() {
		if n.Kind == button.Interaction {
			out = append(out, n.Event)
		}
	}
	return out
}

// EventKinds returns the interaction event kinds in order.
func (r *Recorder) EventKinds() []button.EventKind {
	var out []button.EventKind
	for _, e := range r.Interactions() {
		out = append(out, e.Kind)
	}
	return out
}

// Last returns the most recent notification of kind.
func (r *Recorder) Last(kind button.NotificationKind) (button.Notification, bool) {
	all := r.All()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Kind == kind {
			return all[i], true
		}
	}
	return button.Notification{}, false
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
}

// FakeController records session requests. Return values are configurable.
type FakeController struct {
	mu sync.Mutex

	ConnectErr   error
	InFlight     bool
	HasLink      bool
	RSSIErr      error
	LEDErr       error
	Connects     []button.ID
	Cancels      []button.ID
	Disconnects  []button.ID
	Retries      []button.ID
	RSSIRequests []button.ID
	LEDRequests  []int
}

func (c *FakeController) RequestConnect(s *button.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Connects = append(c.Connects, s.ID())
	return c.ConnectErr
}

func (c *FakeController) CancelConnect(id button.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Cancels = append(c.Cancels, id)
	return c.InFlight
}

func (c *FakeController) RequestDisconnect(id button.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Disconnects = append(c.Disconnects, id)
	return c.HasLink
}

func (c *FakeController) RetryLater(id button.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Retries = append(c.Retries, id)
}

func (c *FakeController) RequestRSSI(id button.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RSSIRequests = append(c.RSSIRequests, id)
	return c.RSSIErr
}

func (c *FakeController) RequestLED(_ button.ID, count int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LEDRequests = append(c.LEDRequests, count)
	return c.LEDErr
}

// FakeAuthenticator returns Err for every exchange.
type FakeAuthenticator struct {
	mu    sync.Mutex
	Err   error
	calls int
}

func (a *FakeAuthenticator) Authenticate(_ context.Context, _ button.Button, _ button.Link) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.Err
}

func (a *FakeAuthenticator) SetErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Err = err
}

func (a *FakeAuthenticator) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// FakeLink is an in-memory characteristic table.
type FakeLink struct {
	mu     sync.Mutex
	ID     button.ID
	Values map[string][]byte
	Writes map[string][][]byte
	// OnWrite computes the value a subsequent read of the same characteristic returns.
	OnWrite func(uuid string, data []byte) []byte
	ReadErr error
}

func NewFakeLink(id button.ID) *FakeLink {
	return &FakeLink{ID: id, Values: map[string][]byte{}, Writes: map[string][][]byte{}}
}

func (l *FakeLink) ButtonID() button.ID { return l.ID }

func (l *FakeLink) ReadCharacteristic(ctx context.Context, uuid string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ReadErr != nil {
		return nil, l.ReadErr
	}
	return append([]byte(nil), l.Values[uuid]...), nil
}

func (l *FakeLink) WriteCharacteristic(ctx context.Context, uuid string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Writes[uuid] = append(l.Writes[uuid], append([]byte(nil), data...))
	if l.OnWrite != nil {
		l.Values[uuid] = l.OnWrite(uuid, data)
	}
	return nil
}

// MemoryStore is an in-memory store.Store.
type MemoryStore struct {
	mu      sync.Mutex
	data    []byte
	saves   int
	SaveErr error
}

var _ store.Store = (*MemoryStore)(nil)

func (m *MemoryStore) Load(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), m.data...), nil
}

func (m *MemoryStore) Save(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.data = append([]byte(nil), data...)
	m.saves++
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// Saves counts successful saves.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Data returns the last saved blob.
func (m *MemoryStore) Data() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

// WaitFor polls cond until it holds or timeout elapses.
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
