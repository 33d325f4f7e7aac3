package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/buttond/internal/button"
	"github.com/srg/buttond/internal/groutine"
	"github.com/srg/buttond/internal/radio"
)

const (
	// DefaultEventBuffer is the capacity of the radio event channel.
	DefaultEventBuffer = 256

	// DefaultDiscoveryTimeout bounds profile discovery after a dial.
	DefaultDiscoveryTimeout = 10 * time.Second
)

// Radio drives the host adapter. Each dial and each link runs on its own
// goroutine; every outcome is reported on Events.
type Radio struct {
	dev    Device
	logger *logrus.Logger

	events chan radio.Event
	done   chan struct{}
	wg     sync.WaitGroup

	// sendMu guards events against sends from go-ble callbacks racing Close.
	sendMu       sync.RWMutex
	eventsClosed bool

	mu     sync.Mutex
	dials  map[button.ID]context.CancelFunc
	links  map[button.ID]*link
	closed bool
}

var _ radio.Radio = (*Radio)(nil)

// Open creates the host adapter via DeviceFactory. A PoweredOn state event is
// queued once the adapter is available.
func Open(logger *logrus.Logger) (*Radio, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	return New(dev, logger), nil
}

// New wraps an existing device.
func New(dev Device, logger *logrus.Logger) *Radio {
	if logger == nil {
		logger = logrus.New()
	}
	r := &Radio{
		dev:    dev,
		logger: logger,
		events: make(chan radio.Event, DefaultEventBuffer),
		done:   make(chan struct{}),
		dials:  make(map[button.ID]context.CancelFunc),
		links:  make(map[button.ID]*link),
	}
	r.events <- radio.Event{Kind: radio.StateChanged, State: button.RadioPoweredOn}
	return r
}

// Events implements radio.Radio.
func (r *Radio) Events() <-chan radio.Event {
	return r.events
}

// Connect implements radio.Radio.
func (r *Radio) Connect(ctx context.Context, id button.ID, target string) error {
	if target == "" {
		return button.NewError(button.TransportError, button.CodeBluetoothInvalidParameters, "button %s has no address", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return button.NewError(button.TransportError, button.CodeBluetoothUnknown, "radio closed")
	}
	if _, busy := r.dials[id]; busy {
		return button.NewError(button.TransportError, button.CodeBluetoothUnknown, "dial to %s already in progress", id)
	}
	if _, up := r.links[id]; up {
		return button.NewError(button.TransportError, button.CodeBluetoothUnknown, "%s already connected", id)
	}

	dialCtx, cancel := context.WithCancel(ctx)
	r.dials[id] = cancel
	r.wg.Add(1)
	groutine.Go(dialCtx, "ble-dial-"+id.String(), func(ctx context.Context) {
		defer r.wg.Done()
		r.dial(ctx, id, target)
	})
	return nil
}

func (r *Radio) dial(ctx context.Context, id button.ID, target string) {
	log := r.logger.WithFields(logrus.Fields{"button": id, "target": target})
	r.emit(radio.Event{Kind: radio.LinkConnecting, ButtonID: id})
	log.Debug("Dialing BLE device...")

	client, err := r.dev.Dial(ctx, target)
	if err == nil {
		var l *link
		l, err = r.setup(ctx, id, client)
		if err == nil {
			r.mu.Lock()
			delete(r.dials, id)
			cancelled := ctx.Err() != nil || r.closed
			if !cancelled {
				r.links[id] = l
			}
			r.mu.Unlock()

			if cancelled {
				_ = client.CancelConnection()
				r.emit(radio.Event{Kind: radio.LinkDisconnected, ButtonID: id})
				return
			}
			log.Info("BLE device connected successfully")
			r.emit(radio.Event{Kind: radio.LinkConnected, ButtonID: id, Link: l})
			l.start(r)
			r.wg.Add(1)
			groutine.Go(context.Background(), "ble-link-monitor-"+id.String(), func(context.Context) {
				defer r.wg.Done()
				r.monitor(l)
			})
			return
		}
		_ = client.CancelConnection()
	}

	r.mu.Lock()
	delete(r.dials, id)
	r.mu.Unlock()

	if ctx.Err() != nil {
		log.Debug("Dial cancelled")
		r.emit(radio.Event{Kind: radio.LinkDisconnected, ButtonID: id})
		return
	}
	log.WithField("error", err).Warn("Failed to dial BLE device")
	r.emit(radio.Event{Kind: radio.LinkFailed, ButtonID: id, Err: dialFailure(err)})
}

// setup discovers the button service and subscribes to its events.
func (r *Radio) setup(ctx context.Context, id button.ID, client Client) (*link, error) {
	type result struct {
		profile *ble.Profile
		err     error
	}
	found := make(chan result, 1)
	go func() {
		p, err := client.DiscoverProfile(true)
		found <- result{p, err}
	}()

	var profile *ble.Profile
	select {
	case res := <-found:
		if res.err != nil {
			return nil, fmt.Errorf("failed to discover profile: %w", res.err)
		}
		profile = res.profile
	case <-time.After(DefaultDiscoveryTimeout):
		return nil, fmt.Errorf("failed to discover profile: timeout")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	l := &link{id: id, client: client, chars: make(map[string]*ble.Characteristic), closing: make(chan struct{})}
	for _, svc := range profile.Services {
		if normalizeUUID(svc.UUID.String()) != radio.ServiceUUID {
			continue
		}
		for _, c := range svc.Characteristics {
			l.chars[normalizeUUID(c.UUID.String())] = c
		}
	}
	events, ok := l.chars[radio.EventsCharUUID]
	if !ok {
		return nil, button.NewError(button.TransportError, button.CodeBluetoothUUIDNotAllowed, "button service not found on %s", id)
	}

	err := client.Subscribe(events, false, func(data []byte) {
		p, err := ParsePacket(data)
		if err != nil {
			r.logger.WithFields(logrus.Fields{"button": id, "error": err}).Warn("Dropping malformed notification")
			return
		}
		l.deliver(r, p.Event(id))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to events: %w", err)
	}
	return l, nil
}

// monitor waits for the link to drop and reports whether that was requested.
func (r *Radio) monitor(l *link) {
	select {
	case <-l.client.Disconnected():
	case <-r.done:
		_ = l.client.CancelConnection()
		return
	}

	r.mu.Lock()
	if r.links[l.id] == l {
		delete(r.links, l.id)
	}
	r.mu.Unlock()

	select {
	case <-l.closing:
		r.logger.WithField("button", l.id).Info("BLE device disconnected successfully")
		r.emit(radio.Event{Kind: radio.LinkDisconnected, ButtonID: l.id})
	default:
		r.logger.WithField("button", l.id).Warn("BLE link lost")
		r.emit(radio.Event{
			Kind:     radio.LinkLost,
			ButtonID: l.id,
			Err:      button.NewError(button.TransportError, button.CodeBluetoothConnectionLost, "link to %s lost", l.id),
		})
	}
}

// Disconnect implements radio.Radio.
func (r *Radio) Disconnect(id button.ID) error {
	r.mu.Lock()
	cancel, dialing := r.dials[id]
	l, up := r.links[id]
	r.mu.Unlock()

	switch {
	case dialing:
		cancel()
		return nil
	case up:
		l.markClosing()
		if err := l.client.CancelConnection(); err != nil {
			return NormalizeError(err)
		}
		return nil
	default:
		r.emit(radio.Event{Kind: radio.LinkDisconnected, ButtonID: id})
		return nil
	}
}

// ReadRSSI implements radio.Radio.
func (r *Radio) ReadRSSI(id button.ID) error {
	l, err := r.link(id)
	if err != nil {
		return err
	}
	r.wg.Add(1)
	groutine.Go(context.Background(), "ble-rssi-"+id.String(), func(context.Context) {
		defer r.wg.Done()
		r.emit(radio.Event{Kind: radio.RSSI, ButtonID: id, RSSI: l.client.ReadRSSI()})
	})
	return nil
}

// IndicateLED implements radio.Radio.
func (r *Radio) IndicateLED(id button.ID, count int) error {
	if count < 1 || count > button.MaxLEDIndications {
		return button.NewError(button.TransportError, button.CodeBluetoothInvalidParameters, "led count %d out of range", count)
	}
	l, err := r.link(id)
	if err != nil {
		return err
	}
	return l.WriteCharacteristic(context.Background(), radio.LEDCharUUID, []byte{byte(count)})
}

// Scan implements radio.Radio.
func (r *Radio) Scan(ctx context.Context, handler func(radio.Advertisement)) error {
	err := r.dev.Scan(ctx, handler)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return NormalizeError(err)
}

// Close cancels dials, drops links and closes the event channel.
func (r *Radio) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, cancel := range r.dials {
		cancel()
	}
	for _, l := range r.links {
		l.markClosing()
	}
	r.mu.Unlock()

	close(r.done)
	r.wg.Wait()

	r.sendMu.Lock()
	r.eventsClosed = true
	close(r.events)
	r.sendMu.Unlock()
	return nil
}

func (r *Radio) link(id button.ID) (*link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[id]
	if !ok {
		return nil, button.NewError(button.TransportError, button.CodeBluetoothNotConnected, "no link to %s", id)
	}
	return l, nil
}

func (r *Radio) emit(ev radio.Event) {
	r.sendMu.RLock()
	defer r.sendMu.RUnlock()
	if r.eventsClosed {
		return
	}
	select {
	case <-r.done:
		return
	default:
	}
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

// link is an established connection. It implements button.Link.
type link struct {
	id     button.ID
	client Client
	chars  map[string]*ble.Characteristic

	writeMu   sync.Mutex
	closeOnce sync.Once
	closing   chan struct{}

	// Notifications that arrive before LinkConnected is reported are held.
	mu      sync.Mutex
	started bool
	early   []radio.Event
}

var _ button.Link = (*link)(nil)

func (l *link) ButtonID() button.ID { return l.id }

func (l *link) deliver(r *Radio, ev radio.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		l.early = append(l.early, ev)
		return
	}
	r.emit(ev)
}

func (l *link) start(r *Radio) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.early {
		r.emit(ev)
	}
	l.early = nil
	l.started = true
}

func (l *link) markClosing() {
	l.closeOnce.Do(func() { close(l.closing) })
}

func (l *link) characteristic(uuid string) (*ble.Characteristic, error) {
	c, ok := l.chars[normalizeUUID(uuid)]
	if !ok {
		return nil, button.NewError(button.TransportError, button.CodeBluetoothInvalidHandle, "characteristic %s not found", uuid)
	}
	return c, nil
}

func (l *link) ReadCharacteristic(ctx context.Context, uuid string) ([]byte, error) {
	c, err := l.characteristic(uuid)
	if err != nil {
		return nil, err
	}
	return callWithContext(ctx, func() ([]byte, error) { return l.client.ReadCharacteristic(c) })
}

func (l *link) WriteCharacteristic(ctx context.Context, uuid string, data []byte) error {
	c, err := l.characteristic(uuid)
	if err != nil {
		return err
	}
	_, err = callWithContext(ctx, func() ([]byte, error) {
		l.writeMu.Lock()
		defer l.writeMu.Unlock()
		return nil, l.client.WriteCharacteristic(c, data, false)
	})
	return err
}

// callWithContext runs a blocking GATT call, giving up when ctx is done.
func callWithContext(ctx context.Context, fn func() ([]byte, error)) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := fn()
		ch <- result{data, err}
	}()
	select {
	case res := <-ch:
		return res.data, NormalizeError(res.err)
	case <-ctx.Done():
		return nil, NormalizeError(ctx.Err())
	}
}
