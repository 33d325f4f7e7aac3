// Package supervisor arbitrates radio access between button sessions: it
// serializes link attempts, retries failures, routes radio events to the owning
// session and reacts to adapter power changes.
package supervisor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/buttond/internal/button"
	"github.com/srg/buttond/internal/radio"
)

const (
	DefaultRetryInterval         = 2 * time.Second
	DefaultMaxConcurrentAttempts = 1
)

// Config tunes attempt scheduling and the sessions created by the supervisor.
type Config struct {
	MaxConcurrentAttempts int
	RetryInterval         time.Duration
	ReplaySettle          time.Duration
	AuthTimeout           time.Duration
}

// Supervisor implements button.Controller for every session it owns. All of its
// state is confined to the scheduler loop.
type Supervisor struct {
	sched   button.Scheduler
	radio   radio.Radio
	auth    button.Authenticator
	emitter button.Emitter
	logger  *logrus.Logger
	cfg     Config

	ctx    context.Context
	cancel context.CancelFunc

	// loop confined
	sessions   map[button.ID]*button.Session
	order      []button.ID
	queue      []button.ID
	queued     map[button.ID]bool
	inFlight   map[button.ID]bool
	links      map[button.ID]bool
	retries    map[button.ID]button.Timer
	radioState button.RadioState
	enabled    bool
	foreground bool
}

var _ button.Controller = (*Supervisor)(nil)

// New creates a supervisor. Run must be started to receive radio events.
func New(sched button.Scheduler, r radio.Radio, auth button.Authenticator, emitter button.Emitter, logger *logrus.Logger, cfg Config) *Supervisor {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.MaxConcurrentAttempts <= 0 {
		cfg.MaxConcurrentAttempts = DefaultMaxConcurrentAttempts
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if emitter == nil {
		emitter = button.EmitterFunc(func(button.Notification) {})
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		sched:      sched,
		radio:      r,
		auth:       auth,
		emitter:    emitter,
		logger:     logger,
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[button.ID]*button.Session),
		queued:     make(map[button.ID]bool),
		inFlight:   make(map[button.ID]bool),
		links:      make(map[button.ID]bool),
		retries:    make(map[button.ID]button.Timer),
		enabled:    true,
		foreground: true,
	}
}

// Run forwards radio events onto the loop until ctx is done or the radio closes
// its event stream.
func (s *Supervisor) Run(ctx context.Context) error {
	events := s.radio.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				s.logger.Debug("Radio event stream closed")
				return nil
			}
			s.Dispatch(ev)
		}
	}
}

// Close cancels outstanding dials.
func (s *Supervisor) Close() {
	s.cancel()
}

// Dispatch posts one radio event to the loop.
func (s *Supervisor) Dispatch(ev radio.Event) {
	s.sched.Post(func() { s.handleEvent(ev) })
}

// Attach creates a session for b and registers it with the supervisor.
func (s *Supervisor) Attach(b button.Button) *button.Session {
	sess := button.NewSession(b, button.SessionConfig{
		Scheduler:     s.sched,
		Controller:    s,
		Authenticator: s.auth,
		Emitter:       s.emitter,
		Logger:        s.logger,
		Foreground:    func() bool { return s.foreground },
		ReplaySettle:  s.cfg.ReplaySettle,
		AuthTimeout:   s.cfg.AuthTimeout,
	})
	s.sched.Post(func() {
		if _, exists := s.sessions[sess.ID()]; exists {
			return
		}
		s.sessions[sess.ID()] = sess
		s.order = append(s.order, sess.ID())
	})
	return sess
}

// Detach forgets a session. It must already be Disconnected.
func (s *Supervisor) Detach(id button.ID) {
	s.sched.Post(func() {
		s.withdraw(id)
		delete(s.sessions, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	})
}

// Evict force-disconnects a session whose graceful teardown did not complete.
func (s *Supervisor) Evict(id button.ID, reason error) {
	s.sched.Post(func() {
		sess, ok := s.sessions[id]
		if !ok {
			return
		}
		if s.links[id] || s.inFlight[id] {
			_ = s.radio.Disconnect(id)
		}
		s.withdraw(id)
		sess.ForceDisconnect(reason)
	})
}

// SetForeground records the host application visibility. Leaving the foreground
// drops low latency mode everywhere.
func (s *Supervisor) SetForeground(fg bool) {
	s.sched.Post(func() {
		s.foreground = fg
		if fg {
			return
		}
		for _, id := range s.order {
			s.sessions[id].ClearLowLatency()
		}
	})
}

// Enable allows link attempts again after Disable.
func (s *Supervisor) Enable() {
	s.sched.Post(func() {
		s.enabled = true
		s.logger.Info("Radio use enabled")
	})
}

// Disable gracefully disconnects every session and refuses new attempts.
func (s *Supervisor) Disable() {
	s.sched.Post(func() {
		s.enabled = false
		s.logger.Info("Radio use disabled")
		for _, id := range s.order {
			s.sessions[id].DisconnectNow()
		}
	})
}

// DisconnectAll gracefully disconnects every session, keeping attempts enabled.
func (s *Supervisor) DisconnectAll() {
	s.sched.Post(func() {
		for _, id := range s.order {
			s.sessions[id].DisconnectNow()
		}
	})
}

// OnEnvironmentChange re-issues attempts for pending sessions that have no
// attempt queued or in flight, skipping any retry delay.
func (s *Supervisor) OnEnvironmentChange() {
	s.sched.Post(func() {
		for _, id := range s.order {
			sess := s.sessions[id]
			if sess.Current().State != button.PendingConnection || s.inFlight[id] || s.queued[id] {
				continue
			}
			s.stopRetry(id)
			s.enqueue(id)
		}
		s.pump()
	})
}

// HandleRadioState applies an adapter state change.
func (s *Supervisor) HandleRadioState(st button.RadioState) {
	s.sched.Post(func() { s.applyRadioState(st) })
}

// RequestConnect implements button.Controller.
func (s *Supervisor) RequestConnect(sess *button.Session) error {
	if !s.enabled {
		return button.ErrRadioDisabled
	}
	if s.radioState.IsLost() {
		return button.ErrRadioPoweredOff
	}
	id := sess.ID()
	if _, ok := s.sessions[id]; !ok {
		return button.NewError(button.UnknownButton, button.CodeUnknown, "button %s is not attached", id)
	}
	s.enqueue(id)
	s.sched.Post(s.pump)
	return nil
}

// CancelConnect implements button.Controller.
func (s *Supervisor) CancelConnect(id button.ID) bool {
	s.stopRetry(id)
	s.dequeue(id)
	if !s.inFlight[id] {
		return false
	}
	if err := s.radio.Disconnect(id); err != nil {
		s.logger.WithFields(logrus.Fields{"button": id, "error": err}).Warn("Failed to cancel dial")
		delete(s.inFlight, id)
		return false
	}
	return true
}

// RequestDisconnect implements button.Controller.
func (s *Supervisor) RequestDisconnect(id button.ID) bool {
	s.stopRetry(id)
	s.dequeue(id)
	if !s.links[id] && !s.inFlight[id] {
		return false
	}
	if err := s.radio.Disconnect(id); err != nil {
		s.logger.WithFields(logrus.Fields{"button": id, "error": err}).Warn("Failed to close link")
		delete(s.links, id)
		delete(s.inFlight, id)
		return false
	}
	return true
}

// RetryLater implements button.Controller.
func (s *Supervisor) RetryLater(id button.ID) {
	s.stopRetry(id)
	s.retries[id] = s.sched.AfterFunc(s.cfg.RetryInterval, func() {
		delete(s.retries, id)
		sess, ok := s.sessions[id]
		if !ok || sess.Current().State != button.PendingConnection {
			return
		}
		s.logger.WithField("button", id).Debug("Retrying connection")
		s.enqueue(id)
		s.pump()
	})
}

// RequestRSSI implements button.Controller.
func (s *Supervisor) RequestRSSI(id button.ID) error {
	if !s.links[id] {
		return button.NewError(button.TransportError, button.CodeBluetoothNotConnected, "no link to %s", id)
	}
	return s.radio.ReadRSSI(id)
}

// RequestLED implements button.Controller.
func (s *Supervisor) RequestLED(id button.ID, count int) error {
	if !s.links[id] {
		return button.NewError(button.TransportError, button.CodeBluetoothNotConnected, "no link to %s", id)
	}
	return s.radio.IndicateLED(id, count)
}

func (s *Supervisor) enqueue(id button.ID) {
	if s.queued[id] || s.inFlight[id] {
		return
	}
	s.queued[id] = true
	s.queue = append(s.queue, id)
}

func (s *Supervisor) dequeue(id button.ID) {
	if !s.queued[id] {
		return
	}
	delete(s.queued, id)
	for i, v := range s.queue {
		if v == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

func (s *Supervisor) stopRetry(id button.ID) {
	if t, ok := s.retries[id]; ok {
		t.Stop()
		delete(s.retries, id)
	}
}

func (s *Supervisor) withdraw(id button.ID) {
	s.stopRetry(id)
	s.dequeue(id)
	delete(s.inFlight, id)
	delete(s.links, id)
}

// pump starts queued attempts while capacity allows.
func (s *Supervisor) pump() {
	for len(s.inFlight) < s.cfg.MaxConcurrentAttempts && len(s.queue) > 0 {
		if !s.enabled || s.radioState.IsLost() {
			return
		}
		id := s.queue[0]
		s.queue = s.queue[1:]
		delete(s.queued, id)

		sess, ok := s.sessions[id]
		if !ok || sess.Current().State != button.PendingConnection {
			continue
		}

		s.inFlight[id] = true
		target := sess.Current().Target()
		s.logger.WithFields(logrus.Fields{"button": id, "target": target}).Debug("Starting link attempt")
		if err := s.radio.Connect(s.ctx, id, target); err != nil {
			delete(s.inFlight, id)
			sess.HandleLinkFailed(button.WrapError(button.ConnectionFailed, button.CodeConnectionFailed, err))
		}
	}
}

func (s *Supervisor) handleEvent(ev radio.Event) {
	if ev.Kind == radio.StateChanged {
		s.applyRadioState(ev.State)
		return
	}

	id := ev.ButtonID
	sess, ok := s.sessions[id]
	if !ok {
		s.logger.WithFields(logrus.Fields{"button": id, "kind": ev.Kind}).Debug("Radio event for unknown button")
		if ev.Kind == radio.LinkConnected {
			_ = s.radio.Disconnect(id)
		}
		return
	}

	switch ev.Kind {
	case radio.LinkConnecting:
		sess.HandleLinkConnecting()
	case radio.LinkConnected:
		delete(s.inFlight, id)
		s.links[id] = true
		sess.HandleLinkConnected(ev.Link)
		s.pump()
	case radio.LinkFailed:
		delete(s.inFlight, id)
		sess.HandleLinkFailed(ev.Err)
		s.pump()
	case radio.LinkLost:
		delete(s.inFlight, id)
		delete(s.links, id)
		sess.HandleLinkLost(ev.Err)
		s.pump()
	case radio.LinkDisconnected:
		delete(s.inFlight, id)
		delete(s.links, id)
		sess.HandleLinkClosed()
		s.pump()
	case radio.Transition:
		sess.HandleTransition(ev.Transition)
	case radio.QueueDrained:
		sess.HandleQueueDrained()
	case radio.RSSI:
		sess.HandleRSSI(ev.RSSI, ev.Err)
	case radio.FactoryReset:
		sess.HandleFactoryReset()
	}
}

func (s *Supervisor) applyRadioState(st button.RadioState) {
	prev := s.radioState
	s.radioState = st
	s.logger.WithFields(logrus.Fields{"radio_state": st, "from": prev}).Info("Radio state changed")
	s.emitter.Emit(button.Notification{Kind: button.RadioStateChanged, At: s.sched.Now(), Radio: st})

	switch {
	case st.IsLost():
		for id, t := range s.retries {
			t.Stop()
			delete(s.retries, id)
		}
		s.queue = nil
		s.queued = make(map[button.ID]bool)
		s.inFlight = make(map[button.ID]bool)
		s.links = make(map[button.ID]bool)
		for _, id := range s.order {
			s.sessions[id].ForceDisconnect(button.ErrRadioPoweredOff)
		}
	case st == button.RadioPoweredOn && prev != button.RadioPoweredOn:
		if !s.enabled {
			return
		}
		for _, id := range s.order {
			if s.sessions[id].Rearm() {
				s.enqueue(id)
			}
		}
		s.pump()
	}
}
