// Package registry is the durable catalog of known buttons.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/buttond/internal/button"
	"github.com/srg/buttond/internal/store"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultForgetTimeout bounds the graceful disconnect performed by Forget.
const DefaultForgetTimeout = 5 * time.Second

// Host creates and tears down sessions. It is implemented by the supervisor.
type Host interface {
	Attach(b button.Button) *button.Session
	Detach(id button.ID)
	Evict(id button.ID, reason error)
}

// Registry maps identifiers to sessions. Mutations are serialized; reads are
// lock-free.
type Registry struct {
	host          Host
	store         store.Store
	emitter       button.Emitter
	logger        *logrus.Logger
	forgetTimeout time.Duration

	index *hashmap.Map[string, *button.Session]
	known atomic.Pointer[map[button.ID]*button.Session]

	mu    sync.Mutex
	order *orderedmap.OrderedMap[button.ID, *button.Session]
}

// New creates an empty registry.
func New(host Host, st store.Store, emitter button.Emitter, logger *logrus.Logger, forgetTimeout time.Duration) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	if forgetTimeout <= 0 {
		forgetTimeout = DefaultForgetTimeout
	}
	if emitter == nil {
		emitter = button.EmitterFunc(func(button.Notification) {})
	}
	r := &Registry{
		host:          host,
		store:         st,
		emitter:       emitter,
		logger:        logger,
		forgetTimeout: forgetTimeout,
		index:         hashmap.New[string, *button.Session](),
		order:         orderedmap.New[button.ID, *button.Session](),
	}
	empty := map[button.ID]*button.Session{}
	r.known.Store(&empty)
	return r
}

// KnownButtons returns the current mapping. The map must not be modified.
func (r *Registry) KnownButtons() map[button.ID]*button.Session {
	return *r.known.Load()
}

// Lookup finds the session for id.
func (r *Registry) Lookup(id button.ID) (*button.Session, bool) {
	return r.index.Get(id.String())
}

// Len returns the number of registered buttons.
func (r *Registry) Len() int {
	return r.index.Len()
}

// Buttons returns button snapshots in registration order.
func (r *Registry) Buttons() []button.Button {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]button.Button, 0, r.order.Len())
	for pair := r.order.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value.Snapshot())
	}
	return out
}

// Add registers a newly grabbed button, starts connecting it and persists the
// catalog.
func (r *Registry) Add(ctx context.Context, b button.Button) (*button.Session, error) {
	r.mu.Lock()
	if _, exists := r.order.Get(b.ID); exists {
		r.mu.Unlock()
		err := button.NewError(button.AlreadyGrabbed, button.CodeButtonAlreadyGrabbed, "button %s is already registered", b.ID)
		r.emitter.Emit(button.Notification{Kind: button.DidGrab, At: time.Now(), ButtonID: b.ID, Err: err})
		return nil, err
	}
	sess := r.host.Attach(b)
	r.insertLocked(sess)
	r.mu.Unlock()

	sess.Connect()
	r.logger.WithFields(logrus.Fields{"button": b.ID, "name": b.DisplayName()}).Info("Button grabbed")
	r.emitter.Emit(button.Notification{Kind: button.DidGrab, At: time.Now(), ButtonID: b.ID, Button: sess.Snapshot()})

	if err := r.Save(ctx); err != nil {
		return sess, err
	}
	return sess, nil
}

// Forget disconnects and removes a button, then persists the catalog.
func (r *Registry) Forget(ctx context.Context, id button.ID) error {
	sess, ok := r.Lookup(id)
	if !ok {
		err := button.NewError(button.UnknownButton, button.CodeUnknown, "button %s is not registered", id)
		r.emitter.Emit(button.Notification{Kind: button.DidForget, At: time.Now(), ButtonID: id, Err: err})
		return err
	}

	done := sess.WhenDisconnected()
	sess.Disconnect()

	timer := time.NewTimer(r.forgetTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		r.logger.WithField("button", id).Warn("Disconnect did not complete in time, forcing")
		r.host.Evict(id, button.NewError(button.TransportError, button.CodeBluetoothOperationCancelled, "forced disconnect"))
	case <-ctx.Done():
		r.host.Evict(id, button.NewError(button.TransportError, button.CodeBluetoothOperationCancelled, "forced disconnect"))
	}

	r.mu.Lock()
	if _, present := r.order.Get(id); !present {
		r.mu.Unlock()
		return button.NewError(button.UnknownButton, button.CodeUnknown, "button %s is not registered", id)
	}
	r.order.Delete(id)
	r.index.Del(id.String())
	r.publishLocked()
	r.mu.Unlock()

	r.host.Detach(id)
	r.logger.WithField("button", id).Info("Button forgotten")
	r.emitter.Emit(button.Notification{Kind: button.DidForget, At: time.Now(), ButtonID: id, Button: sess.Snapshot()})

	if err := r.Save(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	return nil
}

// Restore rehydrates the catalog from the store, reconnecting buttons that were
// pending before the previous shutdown. It emits DidRestoreState when done.
func (r *Registry) Restore(ctx context.Context) error {
	data, err := r.store.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Info("No saved catalog, starting empty")
		r.emitter.Emit(button.Notification{Kind: button.DidRestoreState, At: time.Now()})
		return nil
	}
	if err != nil {
		r.emitter.Emit(button.Notification{Kind: button.DidRestoreState, At: time.Now(), Err: err})
		return fmt.Errorf("restore catalog: %w", err)
	}

	records, err := DecodeCatalog(data)
	if err != nil {
		r.emitter.Emit(button.Notification{Kind: button.DidRestoreState, At: time.Now(), Err: err})
		return fmt.Errorf("restore catalog: %w", err)
	}

	var reconnect []*button.Session
	r.mu.Lock()
	for _, rec := range records {
		if _, exists := r.order.Get(rec.Button.ID); exists {
			continue
		}
		sess := r.host.Attach(rec.Button)
		r.insertLocked(sess)
		if rec.Pending {
			reconnect = append(reconnect, sess)
		}
	}
	r.mu.Unlock()

	for _, sess := range reconnect {
		sess.Connect()
	}
	r.logger.WithFields(logrus.Fields{"buttons": len(records), "reconnecting": len(reconnect)}).Info("Catalog restored")
	r.emitter.Emit(button.Notification{Kind: button.DidRestoreState, At: time.Now()})
	return nil
}

// Save persists the catalog.
func (r *Registry) Save(ctx context.Context) error {
	r.mu.Lock()
	records := make([]Record, 0, r.order.Len())
	for pair := r.order.Oldest(); pair != nil; pair = pair.Next() {
		records = append(records, Record{Button: pair.Value.Snapshot(), Pending: pair.Value.Wanted()})
	}
	r.mu.Unlock()

	data, err := EncodeCatalog(records)
	if err != nil {
		return err
	}
	if err := r.store.Save(ctx, data); err != nil {
		r.logger.WithField("error", err).Error("Failed to persist catalog")
		return fmt.Errorf("save catalog: %w", err)
	}
	r.logger.WithField("buttons", len(records)).Debug("Catalog saved")
	return nil
}

func (r *Registry) insertLocked(sess *button.Session) {
	r.order.Set(sess.ID(), sess)
	r.index.Set(sess.ID().String(), sess)
	r.publishLocked()
}

func (r *Registry) publishLocked() {
	next := make(map[button.ID]*button.Session, r.order.Len())
	for pair := r.order.Oldest(); pair != nil; pair = pair.Next() {
		next[pair.Key] = pair.Value
	}
	r.known.Store(&next)
}
