//go:build test

//go:generate go run github.com/srgg/testify/depend/cmd/dependgen

package supervisor_test

import (
	"errors"
	"testing"
	"time"

	"github.com/srg/buttond/internal/button"
	"github.com/srg/buttond/internal/radio"
	"github.com/srg/buttond/internal/supervisor"
	"github.com/srg/buttond/internal/testutils"
	"github.com/srgg/testify/depend"
	"github.com/stretchr/testify/suite"
)

type SupervisorTestSuite struct {
	suite.Suite
	sched *testutils.ManualScheduler
	radio *testutils.FakeRadio
	auth  *testutils.FakeAuthenticator
	rec   *testutils.Recorder
	sup   *supervisor.Supervisor
}

func (s *SupervisorTestSuite) SetupTest() {
	helper := testutils.NewTestHelper(s.T())
	s.sched = testutils.NewManualScheduler()
	s.radio = testutils.NewFakeRadio()
	s.auth = &testutils.FakeAuthenticator{}
	s.rec = testutils.NewRecorder()
	s.sup = supervisor.New(s.sched, s.radio, s.auth, s.rec, helper.Logger, supervisor.Config{})
}

func (s *SupervisorTestSuite) attach(name string) *button.Session {
	sess := s.sup.Attach(testutils.NewButton(name))
	s.sched.Flush()
	return sess
}

func (s *SupervisorTestSuite) deliver(ev radio.Event) {
	s.sup.Dispatch(ev)
	s.sched.Flush()
}

// establish reports a link for sess and waits for authentication to complete.
func (s *SupervisorTestSuite) establish(sess *button.Session) {
	s.deliver(radio.Event{Kind: radio.LinkConnecting, ButtonID: sess.ID()})
	s.deliver(radio.Event{Kind: radio.LinkConnected, ButtonID: sess.ID(), Link: testutils.NewFakeLink(sess.ID())})
	s.Require().True(testutils.WaitFor(time.Second, func() bool {
		s.sched.Flush()
		return sess.State() != button.Connected
	}), "authentication MUST complete")
	s.deliver(radio.Event{Kind: radio.QueueDrained, ButtonID: sess.ID()})
}

func (s *SupervisorTestSuite) TestAttemptScheduling() {
	s.Run("attempts are serialized", func() {
		// GOAL: Verify only one dial is in flight at a time
		//
		// TEST SCENARIO: Two sessions connect → only first dialed → first links → second dialed

		s.SetupTest()
		a := s.attach("a")
		b := s.attach("b")
		a.Connect()
		b.Connect()
		s.sched.Flush()

		s.Equal([]button.ID{a.ID()}, s.radio.Connects(), "only one attempt MUST be in flight")
		s.Equal(a.Snapshot().Target(), s.radio.Targets()[0], "dial MUST use the button address")
		s.Equal(button.PendingConnection, b.State(), "queued session MUST stay pending")

		s.establish(a)
		s.Equal(button.Ready, a.State())
		s.Equal([]button.ID{a.ID(), b.ID()}, s.radio.Connects(), "second attempt MUST start once the first resolves")
	})

	s.Run("connect during teardown dials after the link closes", func() {
		s.SetupTest()
		a := s.attach("a")
		a.Connect()
		s.sched.Flush()
		s.establish(a)

		a.Disconnect()
		a.Connect()
		s.sched.Flush()
		s.Len(s.radio.Connects(), 1, "no dial MUST start while the link is torn down")

		s.deliver(radio.Event{Kind: radio.LinkDisconnected, ButtonID: a.ID()})
		s.Equal(button.PendingConnection, a.State())
		s.Len(s.radio.Connects(), 2, "the deferred connect MUST dial")
	})

	s.Run("failed attempt retries after the interval", func() {
		s.SetupTest()
		a := s.attach("a")
		a.Connect()
		s.sched.Flush()
		s.deliver(radio.Event{Kind: radio.LinkFailed, ButtonID: a.ID(), Err: errors.New("timeout")})

		s.Equal(button.PendingConnection, a.State())
		s.Len(s.radio.Connects(), 1, "retry MUST wait for the interval")

		s.sched.Advance(supervisor.DefaultRetryInterval)
		s.Len(s.radio.Connects(), 2, "retry MUST dial again")
	})

	s.Run("synchronous dial error is treated as a failed attempt", func() {
		s.SetupTest()
		s.radio.ConnectErr = errors.New("adapter busy")
		a := s.attach("a")
		a.Connect()
		s.sched.Flush()

		n, ok := s.rec.Last(button.DidFailToConnect)
		s.Require().True(ok, "dial error MUST be reported")
		s.ErrorIs(n.Err, button.ErrConnectionFailed)
		s.Equal(button.PendingConnection, a.State())
	})

	s.Run("disconnecting a queued session withdraws it", func() {
		s.SetupTest()
		a := s.attach("a")
		b := s.attach("b")
		a.Connect()
		b.Connect()
		s.sched.Flush()
		b.Disconnect()
		s.sched.Flush()
		s.Equal(button.Disconnected, b.State())

		s.establish(a)
		s.Equal([]button.ID{a.ID()}, s.radio.Connects(), "withdrawn session MUST NOT be dialed")
	})

	s.Run("environment change skips the retry delay", func() {
		s.SetupTest()
		a := s.attach("a")
		a.Connect()
		s.sched.Flush()
		s.deliver(radio.Event{Kind: radio.LinkFailed, ButtonID: a.ID(), Err: errors.New("timeout")})

		s.sup.OnEnvironmentChange()
		s.sched.Flush()
		s.Len(s.radio.Connects(), 2, "environment change MUST re-dial pending sessions")

		s.sched.Advance(supervisor.DefaultRetryInterval)
		s.Len(s.radio.Connects(), 2, "stale retry MUST NOT dial again")
	})
}

func (s *SupervisorTestSuite) TestEventRouting() {
	s.Run("transitions reach the owning session", func() {
		s.SetupTest()
		a := s.attach("a")
		a.Connect()
		s.sched.Flush()
		s.establish(a)
		s.rec.Reset()

		s.deliver(radio.Event{Kind: radio.Transition, ButtonID: a.ID(), Transition: button.RawTransition{Kind: button.Down}})
		s.deliver(radio.Event{Kind: radio.Transition, ButtonID: a.ID(), Transition: button.RawTransition{Kind: button.Up}})
		s.Equal([]button.EventKind{button.EventDown, button.EventUp, button.EventClick}, s.rec.EventKinds())
	})

	s.Run("rssi and led requests reach the radio", func() {
		s.SetupTest()
		a := s.attach("a")
		a.Connect()
		s.sched.Flush()
		s.establish(a)

		a.ReadRSSI()
		s.sched.Flush()
		s.Equal([]button.ID{a.ID()}, s.radio.RSSIRequests())
		s.deliver(radio.Event{Kind: radio.RSSI, ButtonID: a.ID(), RSSI: -70})
		n, ok := s.rec.Last(button.DidUpdateRSSI)
		s.Require().True(ok)
		s.Equal(-70, n.RSSI)

		s.Require().NoError(a.IndicateLED(2))
		s.sched.Flush()
		s.Equal([]int{2}, s.radio.LEDs())
	})

	s.Run("link for an unknown button is closed", func() {
		s.SetupTest()
		stray := testutils.NewButton("stray").ID
		s.deliver(radio.Event{Kind: radio.LinkConnected, ButtonID: stray})
		s.Equal([]button.ID{stray}, s.radio.Disconnects())
	})
}

func (s *SupervisorTestSuite) TestRadioState() {
	s.Run("power loss disconnects and power on re-arms", func() {
		// GOAL: Verify adapter power changes force-disconnect and later restore wanted sessions
		//
		// TEST SCENARIO: a Ready, b pending, c never connected → PoweredOff → a, b Disconnected with RadioPoweredOff → PoweredOn → a, b pending again, c untouched

		s.SetupTest()
		a := s.attach("a")
		b := s.attach("b")
		c := s.attach("c")
		a.Connect()
		b.Connect()
		s.sched.Flush()
		s.establish(a)

		s.sup.HandleRadioState(button.RadioPoweredOff)
		s.sched.Flush()
		s.Equal(button.Disconnected, a.State())
		s.Equal(button.Disconnected, b.State())
		n, ok := s.rec.Last(button.DidDisconnect)
		s.Require().True(ok)
		s.ErrorIs(n.Err, button.ErrRadioPoweredOff, "power loss MUST be the disconnect reason")
		radioNote, ok := s.rec.Last(button.RadioStateChanged)
		s.Require().True(ok, "radio state MUST be published")
		s.Equal(button.RadioPoweredOff, radioNote.Radio)

		c.Connect()
		s.sched.Flush()
		failed, ok := s.rec.Last(button.DidFailToConnect)
		s.Require().True(ok)
		s.ErrorIs(failed.Err, button.ErrRadioPoweredOff, "connect while powered off MUST fail fast")

		dialsBefore := len(s.radio.Connects())
		s.sup.HandleRadioState(button.RadioPoweredOn)
		s.sched.Flush()
		s.Equal(button.PendingConnection, a.State(), "wanted session MUST be re-armed")
		s.Equal(button.PendingConnection, b.State(), "wanted session MUST be re-armed")
		s.Equal(button.PendingConnection, c.State(), "connect intent MUST survive a powered off refusal")
		s.Len(s.radio.Connects(), dialsBefore+1, "re-armed sessions MUST be dialed one at a time")
	})

	s.Run("resetting is informational", func() {
		s.SetupTest()
		a := s.attach("a")
		a.Connect()
		s.sched.Flush()
		s.establish(a)

		s.sup.HandleRadioState(button.RadioResetting)
		s.sched.Flush()
		s.Equal(button.Ready, a.State(), "Resetting MUST NOT tear sessions down")
	})

	s.Run("disable disconnects and refuses attempts", func() {
		s.SetupTest()
		a := s.attach("a")
		a.Connect()
		s.sched.Flush()
		s.establish(a)

		s.sup.Disable()
		s.sched.Flush()
		s.Equal(button.Disconnecting, a.State())
		s.Equal([]button.ID{a.ID()}, s.radio.Disconnects())
		s.deliver(radio.Event{Kind: radio.LinkDisconnected, ButtonID: a.ID()})
		s.Equal(button.Disconnected, a.State())

		a.Connect()
		s.sched.Flush()
		n, ok := s.rec.Last(button.DidFailToConnect)
		s.Require().True(ok)
		s.ErrorIs(n.Err, button.ErrRadioDisabled)

		s.sup.Enable()
		a.Connect()
		s.sched.Flush()
		s.Equal(button.PendingConnection, a.State(), "Enable MUST allow attempts again")
		s.Equal([]button.ID{a.ID(), a.ID()}, s.radio.Connects(), "Enable MUST let the radio dial again")
	})

	s.Run("leaving the foreground clears low latency", func() {
		s.SetupTest()
		a := s.attach("a")
		a.SetLowLatency(true)
		s.sched.Flush()
		s.Require().True(a.Snapshot().LowLatency)

		s.sup.SetForeground(false)
		s.sched.Flush()
		s.False(a.Snapshot().LowLatency, "background MUST clear low latency")

		a.SetLowLatency(true)
		s.sched.Flush()
		s.False(a.Snapshot().LowLatency, "background MUST refuse low latency")
	})
}

func TestSupervisorTestSuite(t *testing.T) {
	depend.RunSuite(t, new(SupervisorTestSuite))
}
