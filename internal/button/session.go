package button

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/buttond/internal/groutine"
)

const (
	// DefaultReplaySettle bounds how long a Ready session waits for the
	// peripheral to report that its offline queue is drained.
	DefaultReplaySettle = 2 * time.Second

	// DefaultAuthTimeout bounds a single authentication exchange.
	DefaultAuthTimeout = 10 * time.Second
)

// SessionConfig carries the collaborators shared by all sessions of a process.
type SessionConfig struct {
	Scheduler     Scheduler
	Controller    Controller
	Authenticator Authenticator
	Emitter       Emitter
	Logger        *logrus.Logger

	// Foreground reports whether the host application is in the foreground.
	// Nil means always foreground.
	Foreground func() bool

	ReplaySettle time.Duration
	AuthTimeout  time.Duration
}

type heldTransition struct {
	t  RawTransition
	at time.Time
}

// replayState buffers transitions received between link establishment and the
// end of offline queue replay.
type replayState struct {
	queued  []RawTransition
	live    []heldTransition
	drained bool
	done    bool
	settle  Timer
}

// Session owns one registered button: its connection lifecycle, gesture
// classification and press counter.
//
// Exported methods without the Handle prefix are safe to call from any
// goroutine; they post onto the scheduler loop. Handle* methods and the
// loop-only helpers used by the supervisor must run on the loop.
type Session struct {
	id     ID
	cfg    SessionConfig
	logger *logrus.Logger

	snap   atomic.Pointer[Button]
	intent atomic.Bool

	// loop confined
	b          Button
	want       bool
	cls        classifier
	timer      Timer
	timerGen   uint64
	replay     replayState
	linkGen    uint64
	authCancel context.CancelFunc
	waiters    []chan struct{}
}

// NewSession creates a session in the Disconnected state.
func NewSession(b Button, cfg SessionConfig) *Session {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.ReplaySettle <= 0 {
		cfg.ReplaySettle = DefaultReplaySettle
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = DefaultAuthTimeout
	}
	if cfg.Foreground == nil {
		cfg.Foreground = func() bool { return true }
	}
	if cfg.Emitter == nil {
		cfg.Emitter = EmitterFunc(func(Notification) {})
	}

	b.State = Disconnected
	b.LowLatency = false
	b.PressCount %= PressCountModulus
	if b.Color == "" {
		b.Color = DefaultColor
	}

	s := &Session{
		id:     b.ID,
		cfg:    cfg,
		logger: cfg.Logger,
		b:      b,
	}
	s.publish()
	return s
}

// ID returns the immutable button identifier.
func (s *Session) ID() ID { return s.id }

// Snapshot returns the latest published button record.
func (s *Session) Snapshot() Button { return *s.snap.Load() }

// State returns the latest published connection state.
func (s *Session) State() ConnectionState { return s.snap.Load().State }

// Connect expresses the intent to be connected. It starts an attempt when the
// session is Disconnected, or once an ongoing teardown completes.
func (s *Session) Connect() {
	s.intent.Store(true)
	s.cfg.Scheduler.Post(s.connect)
}

// Disconnect withdraws the connection intent and tears down any link or attempt.
// It is idempotent.
func (s *Session) Disconnect() {
	s.intent.Store(false)
	s.cfg.Scheduler.Post(s.disconnect)
}

// Wanted reports the latest connection intent without going through the loop.
func (s *Session) Wanted() bool { return s.intent.Load() }

// SetTriggerBehavior changes gesture classification starting with the next gesture.
func (s *Session) SetTriggerBehavior(tb TriggerBehavior) {
	s.cfg.Scheduler.Post(func() {
		if s.b.TriggerBehavior == tb {
			return
		}
		s.b.TriggerBehavior = tb
		s.publish()
		s.logger.WithFields(logrus.Fields{"button": s.id, "trigger": tb}).Debug("Trigger behavior changed")
	})
}

// SetLowLatency requests the low latency link mode. It only takes effect while
// the application is in the foreground.
func (s *Session) SetLowLatency(enabled bool) {
	s.cfg.Scheduler.Post(func() {
		if enabled && !s.cfg.Foreground() {
			s.logger.WithField("button", s.id).Warn("Low latency requested while in background, ignoring")
			return
		}
		s.setLowLatency(enabled)
	})
}

// ReadRSSI asks for a signal strength reading. The result arrives as a
// DidUpdateRSSI notification.
func (s *Session) ReadRSSI() { s.cfg.Scheduler.Post(s.readRSSI) }

// IndicateLED flashes the button LED count times.
func (s *Session) IndicateLED(count int) error {
	if count < 1 || count > MaxLEDIndications {
		return NewError(TransportError, CodeBluetoothInvalidParameters,
			"led count %d out of range 1..%d", count, MaxLEDIndications)
	}
	if s.State() != Ready {
		return NewError(TransportError, CodeBluetoothNotConnected, "button %s is not ready", s.id)
	}
	s.cfg.Scheduler.Post(func() {
		if s.b.State != Ready {
			return
		}
		if err := s.cfg.Controller.RequestLED(s.id, count); err != nil {
			s.logger.WithFields(logrus.Fields{"button": s.id, "error": err}).Warn("LED indication failed")
		}
	})
	return nil
}

// WhenDisconnected returns a channel closed once the session is Disconnected.
func (s *Session) WhenDisconnected() <-chan struct{} {
	ch := make(chan struct{})
	s.cfg.Scheduler.Post(func() {
		if s.b.State == Disconnected {
			close(ch)
			return
		}
		s.waiters = append(s.waiters, ch)
	})
	return ch
}

// WantsConnection reports the connection intent. Loop only.
func (s *Session) WantsConnection() bool { return s.want }

// Current returns the loop view of the button record. Loop only.
func (s *Session) Current() Button { return s.b }

// ConnectNow is Connect for callers already on the loop.
func (s *Session) ConnectNow() { s.connect() }

// DisconnectNow is Disconnect for callers already on the loop.
func (s *Session) DisconnectNow() { s.disconnect() }

// ClearLowLatency drops low latency mode when the application leaves the
// foreground. Loop only.
func (s *Session) ClearLowLatency() { s.setLowLatency(false) }

// Rearm returns a session that still wants a connection to PendingConnection
// and reports whether the caller should queue an attempt for it. Loop only.
func (s *Session) Rearm() bool {
	if !s.want {
		return false
	}
	switch s.b.State {
	case Disconnected, Connecting:
		s.setState(PendingConnection)
		return true
	case PendingConnection:
		return true
	default:
		return false
	}
}

// ForceDisconnect drops the session to Disconnected without a teardown exchange.
// The connection intent is preserved. Loop only.
func (s *Session) ForceDisconnect(err error) {
	if s.b.State == Disconnected {
		return
	}
	s.resetLink()
	s.setState(Disconnected)
	s.emit(Notification{Kind: DidDisconnect, Err: err})
}

// HandleLinkConnecting records that the radio started dialing.
func (s *Session) HandleLinkConnecting() {
	if s.b.State == PendingConnection {
		s.setState(Connecting)
	}
}

// HandleLinkConnected starts authentication on a new link.
func (s *Session) HandleLinkConnected(link Link) {
	switch s.b.State {
	case PendingConnection, Connecting:
	default:
		s.logger.WithFields(logrus.Fields{"button": s.id, "state": s.b.State}).
			Debug("Link established in unexpected state, closing")
		s.cfg.Controller.RequestDisconnect(s.id)
		return
	}

	s.resetLink()
	s.setState(Connected)
	s.emit(Notification{Kind: DidConnect})

	gen := s.linkGen
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.AuthTimeout)
	s.authCancel = cancel
	b := s.b
	groutine.Go(ctx, fmt.Sprintf("auth-%s", s.id), func(ctx context.Context) {
		err := s.cfg.Authenticator.Authenticate(ctx, b, link)
		s.cfg.Scheduler.Post(func() { s.authDone(gen, err) })
	})
}

// HandleLinkFailed handles a failed link attempt.
func (s *Session) HandleLinkFailed(err error) {
	switch s.b.State {
	case PendingConnection, Connecting:
		s.setState(PendingConnection)
		s.emit(Notification{Kind: DidFailToConnect, Err: WrapError(ConnectionFailed, CodeConnectionFailed, err)})
		s.cfg.Controller.RetryLater(s.id)
	case Disconnecting:
		s.finishDisconnect()
	}
}

// HandleLinkLost handles an unexpected loss of an established link. The session
// is not retried automatically; the connection intent is kept.
func (s *Session) HandleLinkLost(err error) {
	switch s.b.State {
	case Connected, Ready:
		err = WrapError(TransportError, CodeBluetoothConnectionLost, err)
		s.logger.WithFields(logrus.Fields{"button": s.id, "error": err}).Warn("Link lost")
		s.resetLink()
		s.setState(Disconnected)
		s.emit(Notification{Kind: DidDisconnect, Err: err})
	case Connecting, PendingConnection:
		s.HandleLinkFailed(err)
	case Disconnecting:
		s.finishDisconnect()
	}
}

// HandleLinkClosed handles the radio confirming that a link or attempt is gone.
func (s *Session) HandleLinkClosed() {
	switch s.b.State {
	case Disconnecting:
		s.finishDisconnect()
	case Connected, Ready:
		s.HandleLinkLost(NewError(TransportError, CodeBluetoothPeripheralGone, "peripheral closed the link"))
	}
}

// HandleTransition accepts one raw edge from the link.
func (s *Session) HandleTransition(t RawTransition) {
	log := s.logger.WithFields(logrus.Fields{"button": s.id, "kind": t.Kind, "queued": t.Queued, "age": t.Age})
	switch s.b.State {
	case Connected:
		s.buffer(t)
	case Ready:
		if !s.replay.done {
			s.buffer(t)
			return
		}
		if t.Queued {
			log.Warn("Queued transition after replay completed, dropping")
			return
		}
		s.feed(t, stamp{at: s.cfg.Scheduler.Now(), queued: false, age: t.Age})
		s.armTimer()
	default:
		log.WithField("state", s.b.State).Debug("Transition outside of a ready link, dropping")
	}
}

// HandleQueueDrained marks the end of the peripheral offline queue.
func (s *Session) HandleQueueDrained() {
	switch s.b.State {
	case Connected:
		s.replay.drained = true
	case Ready:
		if !s.replay.done {
			s.replay.drained = true
			s.runReplay()
		}
	}
}

// HandleRSSI delivers an RSSI reading or failure.
func (s *Session) HandleRSSI(rssi int, err error) {
	n := Notification{Kind: DidUpdateRSSI, RSSI: rssi}
	if err != nil {
		n.Err = WrapError(RSSIReadFailed, CodeCouldNotUpdateRSSI, err)
	}
	s.emit(n)
}

// HandleFactoryReset restarts the press counter after the peripheral reports a reset.
func (s *Session) HandleFactoryReset() {
	s.logger.WithField("button", s.id).Info("Factory reset reported, press counter cleared")
	s.b.PressCount = 0
	s.publish()
}

func (s *Session) connect() {
	if s.b.State == Disconnecting {
		s.logger.WithField("button", s.id).Debug("Connect deferred until teardown completes")
		s.setWant(true)
		return
	}
	if s.b.State != Disconnected {
		s.logger.WithFields(logrus.Fields{"button": s.id, "state": s.b.State}).Debug("Connect ignored")
		s.setWant(true)
		return
	}

	s.setWant(true)
	s.setState(PendingConnection)
	if err := s.cfg.Controller.RequestConnect(s); err != nil {
		if errors.Is(err, ErrRadioDisabled) {
			s.setWant(false)
		}
		s.setState(Disconnected)
		s.emit(Notification{Kind: DidFailToConnect, Err: err})
	}
}

func (s *Session) disconnect() {
	s.setWant(false)
	switch s.b.State {
	case Disconnected, Disconnecting:
		return
	case PendingConnection, Connecting:
		if s.cfg.Controller.CancelConnect(s.id) {
			s.setState(Disconnecting)
			return
		}
		s.finishDisconnect()
	case Connected, Ready:
		s.resetLink()
		s.setState(Disconnecting)
		if !s.cfg.Controller.RequestDisconnect(s.id) {
			s.finishDisconnect()
		}
	}
}

// finishDisconnect completes a teardown. A Connect received while tearing down
// starts a new attempt.
func (s *Session) finishDisconnect() {
	s.resetLink()
	s.setState(Disconnected)
	s.emit(Notification{Kind: DidDisconnect})
	if s.want {
		s.connect()
	}
}

func (s *Session) readRSSI() {
	if s.b.State != Ready {
		s.emit(Notification{
			Kind: DidUpdateRSSI,
			Err:  NewError(RSSIReadFailed, CodeCouldNotUpdateRSSI, "button %s is %s", s.id, s.b.State),
		})
		return
	}
	if err := s.cfg.Controller.RequestRSSI(s.id); err != nil {
		s.HandleRSSI(0, err)
	}
}

func (s *Session) setLowLatency(enabled bool) {
	if s.b.LowLatency == enabled {
		return
	}
	s.b.LowLatency = enabled
	s.publish()
}

func (s *Session) authDone(gen uint64, err error) {
	if gen != s.linkGen || s.b.State != Connected {
		return
	}
	s.authCancel = nil

	if err != nil {
		err = WrapError(CryptographicFailure, CodeCryptographicFailure, err)
		s.logger.WithFields(logrus.Fields{"button": s.id, "error": err}).Warn("Authentication failed")
		s.resetLink()
		s.setState(PendingConnection)
		s.emit(Notification{Kind: DidFailToConnect, Err: err})
		s.cfg.Controller.RequestDisconnect(s.id)
		s.cfg.Controller.RetryLater(s.id)
		return
	}

	s.setState(Ready)
	s.emit(Notification{Kind: IsReady})
	if s.replay.drained {
		s.runReplay()
		return
	}
	gen = s.linkGen
	s.replay.settle = s.cfg.Scheduler.AfterFunc(s.cfg.ReplaySettle, func() {
		if gen != s.linkGen || s.b.State != Ready || s.replay.done {
			return
		}
		s.logger.WithField("button", s.id).Debug("Queue drain not reported, replaying what arrived")
		s.replay.settle = nil
		s.runReplay()
	})
}

func (s *Session) buffer(t RawTransition) {
	if t.Queued {
		s.replay.queued = append(s.replay.queued, t)
		return
	}
	s.replay.live = append(s.replay.live, heldTransition{t: t, at: s.cfg.Scheduler.Now()})
}

// runReplay feeds buffered transitions on a virtual timeline, oldest queued
// first, then live edges that arrived while the queue was still draining.
func (s *Session) runReplay() {
	if s.replay.settle != nil {
		s.replay.settle.Stop()
		s.replay.settle = nil
	}
	s.replay.done = true

	queued := s.replay.queued
	live := s.replay.live
	s.replay.queued = nil
	s.replay.live = nil

	sort.SliceStable(queued, func(i, j int) bool {
		return queued[i].elapsed() > queued[j].elapsed()
	})

	base := s.cfg.Scheduler.Now()
	var last time.Time
	for _, t := range queued {
		at := base.Add(-t.elapsed())
		if at.Before(last) {
			at = last
		}
		last = at
		s.feed(t, stamp{at: at, queued: true, age: t.Age})
	}
	for _, h := range live {
		at := h.at
		if at.Before(last) {
			at = last
		}
		last = at
		s.feed(h.t, stamp{at: at, queued: false, age: h.t.Age})
	}
	s.armTimer()
}

// feed runs one edge through the classifier, first resolving any deadline the
// edge's timestamp has already passed.
func (s *Session) feed(t RawTransition, st stamp) {
	for {
		deadline, ok := s.cls.armed()
		if !ok || deadline.After(st.at) {
			break
		}
		s.deliver(s.cls.expire())
	}

	var (
		out      []derived
		accepted bool
		raw      EventKind
	)
	switch t.Kind {
	case Down:
		out, accepted = s.cls.down(st, s.b.TriggerBehavior)
		raw = EventDown
	case Up:
		out, accepted = s.cls.up(st)
		raw = EventUp
	}
	if !accepted {
		s.logger.WithFields(logrus.Fields{"button": s.id, "kind": t.Kind, "queued": st.queued}).
			Warn("Inconsistent transition, dropping")
		return
	}

	s.b.PressCount = (s.b.PressCount + 1) % PressCountModulus
	s.publish()
	s.deliver([]derived{{kind: raw, from: st}})
	s.deliver(out)
}

func (s *Session) deliver(events []derived) {
	for _, d := range events {
		s.emit(Notification{
			Kind: Interaction,
			Event: InteractionEvent{
				ButtonID: s.id,
				Kind:     d.kind,
				Queued:   d.from.queued,
				Age:      d.from.age,
			},
		})
	}
}

// armTimer schedules the classifier deadline on the real clock. Deadlines that
// already passed on the virtual timeline resolve immediately.
func (s *Session) armTimer() {
	s.stopTimer()
	for {
		deadline, ok := s.cls.armed()
		if !ok {
			return
		}
		wait := deadline.Sub(s.cfg.Scheduler.Now())
		if wait <= 0 {
			s.deliver(s.cls.expire())
			continue
		}
		gen := s.timerGen
		s.timer = s.cfg.Scheduler.AfterFunc(wait, func() { s.onTimer(gen) })
		return
	}
}

func (s *Session) onTimer(gen uint64) {
	if gen != s.timerGen || s.b.State != Ready {
		return
	}
	s.timer = nil
	s.deliver(s.cls.expire())
	s.armTimer()
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

// resetLink discards everything tied to the current link.
func (s *Session) resetLink() {
	s.stopTimer()
	s.cls.reset()
	if s.replay.settle != nil {
		s.replay.settle.Stop()
	}
	s.replay = replayState{}
	if s.authCancel != nil {
		s.authCancel()
		s.authCancel = nil
	}
	s.linkGen++
}

func (s *Session) setState(st ConnectionState) {
	if s.b.State == st {
		return
	}
	s.logger.WithFields(logrus.Fields{"button": s.id, "from": s.b.State, "to": st}).Info("Button state changed")
	s.b.State = st
	s.publish()
	if st == Disconnected {
		for _, ch := range s.waiters {
			close(ch)
		}
		s.waiters = nil
	}
}

func (s *Session) setWant(v bool) {
	s.want = v
	s.intent.Store(v)
}

func (s *Session) publish() {
	b := s.b
	s.snap.Store(&b)
}

func (s *Session) emit(n Notification) {
	n.At = s.cfg.Scheduler.Now()
	n.ButtonID = s.id
	n.Button = s.b
	s.cfg.Emitter.Emit(n)
}
