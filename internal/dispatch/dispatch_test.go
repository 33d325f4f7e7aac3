//go:build test

package dispatch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/srg/buttond/internal/button"
	"github.com/srg/buttond/internal/dispatch"
	"github.com/srg/buttond/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type collector struct {
	mu    sync.Mutex
	got   []button.Notification
	block chan struct{}
}

func (c *collector) Notify(n button.Notification) {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	c.got = append(c.got, n)
	c.mu.Unlock()
}

func (c *collector) kinds() []button.NotificationKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]button.NotificationKind, 0, len(c.got))
	for _, n := range c.got {
		out = append(out, n.Kind)
	}
	return out
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

type DispatcherTestSuite struct {
	suite.Suite
	d *dispatch.Dispatcher
}

func (s *DispatcherTestSuite) SetupTest() {
	s.d = dispatch.New(context.Background(), testutils.NewTestHelper(s.T()).Logger)
}

func (s *DispatcherTestSuite) TearDownTest() {
	_ = s.d.Close(context.Background())
}

func (s *DispatcherTestSuite) TestOrdering() {
	s.Run("each observer sees emission order", func() {
		s.SetupTest()
		a, b := &collector{}, &collector{}
		s.True(s.d.Subscribe("a", a))
		s.True(s.d.Subscribe("b", b))

		seq := []button.NotificationKind{button.DidConnect, button.IsReady, button.Interaction, button.Interaction, button.DidDisconnect}
		for _, k := range seq {
			s.d.Emit(button.Notification{Kind: k})
		}
		s.Require().NoError(s.d.Close(context.Background()))

		s.Equal(seq, a.kinds(), "observer a MUST receive notifications in emission order")
		s.Equal(seq, b.kinds(), "observer b MUST receive notifications in emission order")
	})

	s.Run("slow observer does not delay others", func() {
		s.SetupTest()
		slow := &collector{block: make(chan struct{})}
		fast := &collector{}
		s.d.Subscribe("slow", slow)
		s.d.Subscribe("fast", fast)

		s.d.Emit(button.Notification{Kind: button.DidConnect})
		s.True(testutils.WaitFor(time.Second, func() bool { return fast.len() == 1 }), "fast observer MUST NOT wait for the slow one")
		s.Zero(slow.len())
		close(slow.block)
		s.True(testutils.WaitFor(time.Second, func() bool { return slow.len() == 1 }))
	})
}

func (s *DispatcherTestSuite) TestMembership() {
	s.Run("subscribe and unsubscribe are idempotent", func() {
		s.SetupTest()
		c := &collector{}
		s.True(s.d.Subscribe("c", c))
		s.False(s.d.Subscribe("c", &collector{}), "second subscribe with the same id MUST be ignored")
		s.Equal(1, s.d.Len())

		s.True(s.d.Unsubscribe("c"))
		s.False(s.d.Unsubscribe("c"), "second unsubscribe MUST be ignored")
		s.Zero(s.d.Len())

		s.d.Emit(button.Notification{Kind: button.DidConnect})
		time.Sleep(20 * time.Millisecond)
		s.Zero(c.len(), "unsubscribed observer MUST NOT receive new notifications")
	})

	s.Run("panicking observer keeps its mailbox alive", func() {
		s.SetupTest()
		c := &collector{}
		calls := 0
		s.d.Subscribe("flaky", dispatch.ObserverFunc(func(n button.Notification) {
			calls++
			if calls == 1 {
				panic("boom")
			}
			c.Notify(n)
		}))

		s.d.Emit(button.Notification{Kind: button.DidConnect})
		s.d.Emit(button.Notification{Kind: button.IsReady})
		s.Require().NoError(s.d.Close(context.Background()))
		s.Equal([]button.NotificationKind{button.IsReady}, c.kinds(), "notifications after a panic MUST still be delivered")
	})

	s.Run("closed dispatcher refuses observers", func() {
		s.SetupTest()
		s.Require().NoError(s.d.Close(context.Background()))
		s.False(s.d.Subscribe("late", &collector{}))
		s.d.Emit(button.Notification{Kind: button.DidConnect})
	})
}

func TestDispatcherTestSuite(t *testing.T) {
	suite.Run(t, new(DispatcherTestSuite))
}
