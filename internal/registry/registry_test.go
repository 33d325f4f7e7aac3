//go:build test

package registry_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/srg/buttond/internal/button"
	"github.com/srg/buttond/internal/eventloop"
	"github.com/srg/buttond/internal/radio"
	"github.com/srg/buttond/internal/registry"
	"github.com/srg/buttond/internal/supervisor"
	"github.com/srg/buttond/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type RegistryTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper
	ctx    context.Context
	cancel context.CancelFunc
	radio  *testutils.FakeRadio
	store  *testutils.MemoryStore
	rec    *testutils.Recorder
	sup    *supervisor.Supervisor
	reg    *registry.Registry
}

func (s *RegistryTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.store = &testutils.MemoryStore{}
	s.start()
}

// start wires a fresh loop, radio and supervisor around the current store.
func (s *RegistryTestSuite) start() {
	loop := eventloop.New(s.helper.Logger)
	go func() { _ = loop.Run(s.ctx) }()

	s.radio = testutils.NewFakeRadio()
	s.rec = testutils.NewRecorder()
	s.sup = supervisor.New(loop, s.radio, &testutils.FakeAuthenticator{}, s.rec, s.helper.Logger, supervisor.Config{})
	go func() { _ = s.sup.Run(s.ctx) }()

	s.reg = registry.New(s.sup, s.store, s.rec, s.helper.Logger, 100*time.Millisecond)
}

func (s *RegistryTestSuite) TearDownTest() {
	s.cancel()
}

func (s *RegistryTestSuite) waitState(sess *button.Session, want button.ConnectionState) {
	s.Require().True(testutils.WaitFor(time.Second, func() bool { return sess.State() == want }),
		"session MUST reach %s, got %s", want, sess.State())
}

func (s *RegistryTestSuite) TestAdd() {
	s.Run("new button is registered, connected and persisted", func() {
		s.SetupTest()
		b := testutils.NewButton("desk")
		sess, err := s.reg.Add(s.ctx, b)
		s.Require().NoError(err)

		s.Contains(s.reg.KnownButtons(), b.ID, "KnownButtons MUST include the new button")
		got, ok := s.reg.Lookup(b.ID)
		s.True(ok)
		s.Same(sess, got, "Lookup MUST return the registered session")
		s.Equal(1, s.store.Saves(), "Add MUST persist the catalog")

		records, err := registry.DecodeCatalog(s.store.Data())
		s.Require().NoError(err)
		s.Require().Len(records, 1)
		s.True(records[0].Pending, "freshly grabbed button MUST be persisted as pending")

		s.waitState(sess, button.PendingConnection)
		s.True(testutils.WaitFor(time.Second, func() bool { return len(s.radio.Connects()) == 1 }), "Add MUST start connecting")

		n, ok := s.rec.Last(button.DidGrab)
		s.Require().True(ok)
		s.NoError(n.Err)
	})

	s.Run("duplicate id is already grabbed", func() {
		s.SetupTest()
		b := testutils.NewButton("desk")
		_, err := s.reg.Add(s.ctx, b)
		s.Require().NoError(err)

		_, err = s.reg.Add(s.ctx, b)
		s.ErrorIs(err, button.ErrAlreadyGrabbed)
		s.Equal(1, s.reg.Len(), "duplicate MUST NOT be added")
		n, ok := s.rec.Last(button.DidGrab)
		s.Require().True(ok)
		s.ErrorIs(n.Err, button.ErrAlreadyGrabbed, "failed grab MUST be reported to observers")
	})
}

func (s *RegistryTestSuite) TestForget() {
	s.Run("unknown id leaves the registry unchanged", func() {
		s.SetupTest()
		_, err := s.reg.Add(s.ctx, testutils.NewButton("desk"))
		s.Require().NoError(err)
		saves := s.store.Saves()

		err = s.reg.Forget(s.ctx, testutils.NewButton("ghost").ID)
		s.ErrorIs(err, button.ErrUnknownButton)
		s.Equal(1, s.reg.Len())
		s.Equal(saves, s.store.Saves(), "failed forget MUST NOT persist")
	})

	s.Run("graceful teardown", func() {
		// GOAL: Verify Forget waits for the radio to confirm the teardown
		//
		// TEST SCENARIO: Add (dial in flight) → Forget → radio confirms disconnect → removed and persisted

		s.SetupTest()
		b := testutils.NewButton("desk")
		sess, err := s.reg.Add(s.ctx, b)
		s.Require().NoError(err)
		s.Require().True(testutils.WaitFor(time.Second, func() bool { return len(s.radio.Connects()) == 1 }))

		go func() {
			if testutils.WaitFor(time.Second, func() bool { return len(s.radio.Disconnects()) == 1 }) {
				s.radio.Inject(radio.Event{Kind: radio.LinkDisconnected, ButtonID: b.ID})
			}
		}()

		s.Require().NoError(s.reg.Forget(s.ctx, b.ID))
		s.Equal(button.Disconnected, sess.State())
		s.NotContains(s.reg.KnownButtons(), b.ID)
		_, ok := s.reg.Lookup(b.ID)
		s.False(ok)

		records, err := registry.DecodeCatalog(s.store.Data())
		s.Require().NoError(err)
		s.Empty(records, "forgotten button MUST be removed from the catalog")

		n, ok := s.rec.Last(button.DidForget)
		s.Require().True(ok)
		s.NoError(n.Err)
	})

	s.Run("stuck teardown is forced after the timeout", func() {
		s.SetupTest()
		b := testutils.NewButton("desk")
		sess, err := s.reg.Add(s.ctx, b)
		s.Require().NoError(err)
		s.Require().True(testutils.WaitFor(time.Second, func() bool { return len(s.radio.Connects()) == 1 }))

		s.Require().NoError(s.reg.Forget(s.ctx, b.ID))
		s.waitState(sess, button.Disconnected)
		s.Zero(s.reg.Len())
	})
}

func (s *RegistryTestSuite) TestRestore() {
	s.Run("empty store", func() {
		s.SetupTest()
		s.Require().NoError(s.reg.Restore(s.ctx))
		s.Zero(s.reg.Len())
		_, ok := s.rec.Last(button.DidRestoreState)
		s.True(ok, "DidRestoreState MUST be emitted even when nothing was saved")
	})

	s.Run("round trip preserves order and reconnects pending buttons", func() {
		// GOAL: Verify a saved catalog rehydrates identities and connection intent
		//
		// TEST SCENARIO: Add a and b → b disconnected → Save → new process restores → order, press count and trigger kept → only a dials

		s.SetupTest()
		a := testutils.NewButton("a")
		a.PressCount = 41
		a.TriggerBehavior = button.ClickAndDoubleClick
		b := testutils.NewButton("b")

		_, err := s.reg.Add(s.ctx, a)
		s.Require().NoError(err)
		sb, err := s.reg.Add(s.ctx, b)
		s.Require().NoError(err)
		sb.Disconnect()
		s.waitState(sb, button.Disconnected)
		s.Require().NoError(s.reg.Save(s.ctx))

		s.cancel()
		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.start()

		s.Require().NoError(s.reg.Restore(s.ctx))
		buttons := s.reg.Buttons()
		s.Require().Len(buttons, 2)
		s.Equal(a.ID, buttons[0].ID, "registration order MUST survive restore")
		s.Equal(b.ID, buttons[1].ID)
		s.EqualValues(41, buttons[0].PressCount)
		s.Equal(button.ClickAndDoubleClick, buttons[0].TriggerBehavior)

		s.True(testutils.WaitFor(time.Second, func() bool { return len(s.radio.Connects()) == 1 }))
		s.Equal([]button.ID{a.ID}, s.radio.Connects(), "only previously pending buttons MUST reconnect")
		_, ok := s.rec.Last(button.DidRestoreState)
		s.True(ok)
	})
}

func TestRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}

func TestDecodeCatalog(t *testing.T) {
	t.Run("low latency does not survive a restart", func(t *testing.T) {
		b := testutils.NewButton("desk")
		b.LowLatency = true
		data, err := registry.EncodeCatalog([]registry.Record{{Button: b}})
		if err != nil {
			t.Fatalf("encode MUST succeed: %v", err)
		}
		if strings.Contains(string(data), "low_latency") {
			t.Fatalf("snapshot MUST NOT carry low latency:\n%s", data)
		}
		records, err := registry.DecodeCatalog(data)
		if err != nil {
			t.Fatalf("decode MUST succeed: %v", err)
		}
		if records[0].Button.LowLatency {
			t.Fatal("restored button MUST start without low latency")
		}
	})

	t.Run("rejects unknown version", func(t *testing.T) {
		if _, err := registry.DecodeCatalog([]byte("version: 7\nbuttons: []\n")); err == nil {
			t.Fatal("unknown version MUST be rejected")
		}
	})

	t.Run("keeps first of duplicate ids and defaults color", func(t *testing.T) {
		doc := `
version: 1
buttons:
  - id: 6f1c2a44-8d0e-4a53-9a51-0b5f51c3b0a1
    public_key: aa
    trigger: click_only
    press_count: 16777217
    pending: true
  - id: 6f1c2a44-8d0e-4a53-9a51-0b5f51c3b0a1
    public_key: bb
    trigger: click_and_hold
    press_count: 0
    pending: false
`
		records, err := registry.DecodeCatalog([]byte(doc))
		if err != nil {
			t.Fatalf("decode MUST succeed: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("duplicate MUST be dropped, got %d records", len(records))
		}
		r := records[0]
		if r.Button.PublicKey != "aa" || r.Button.TriggerBehavior != button.ClickOnly || !r.Pending {
			t.Fatalf("first entry MUST win, got %+v", r)
		}
		if r.Button.PressCount != 1 {
			t.Fatalf("press count MUST be reduced modulo 2^24, got %d", r.Button.PressCount)
		}
		if r.Button.Color != button.DefaultColor {
			t.Fatalf("missing color MUST default, got %q", r.Button.Color)
		}
	})
}
