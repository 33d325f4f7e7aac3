//go:build test

package testutils

import (
	"context"
	"sync"

	"github.com/srg/buttond/internal/button"
	"github.com/srg/buttond/internal/radio"
)

// FakeRadio records requests and lets tests inject events.
type FakeRadio struct {
	mu sync.Mutex

	ConnectErr error
	RSSIErr    error

	connects    []button.ID
	targets     []string
	disconnects []button.ID
	rssi        []button.ID
	leds        []int
	ads         []radio.Advertisement

	events chan radio.Event
	closed bool
}

var _ radio.Radio = (*FakeRadio)(nil)

func NewFakeRadio(ads ...radio.Advertisement) *FakeRadio {
	return &FakeRadio{events: make(chan radio.Event, 64), ads: ads}
}

func (r *FakeRadio) Connect(_ context.Context, id button.ID, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects = append(r.connects, id)
	r.targets = append(r.targets, target)
	return r.ConnectErr
}

func (r *FakeRadio) Disconnect(id button.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects = append(r.disconnects, id)
	return nil
}

func (r *FakeRadio) ReadRSSI(id button.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rssi = append(r.rssi, id)
	return r.RSSIErr
}

func (r *FakeRadio) IndicateLED(_ button.ID, count int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leds = append(r.leds, count)
	return nil
}

func (r *FakeRadio) Scan(ctx context.Context, handler func(radio.Advertisement)) error {
	r.mu.Lock()
	ads := append([]radio.Advertisement(nil), r.ads...)
	r.mu.Unlock()
	for _, ad := range ads {
		handler(ad)
	}
	<-ctx.Done()
	return nil
}

func (r *FakeRadio) Events() <-chan radio.Event { return r.events }

// Inject queues an event as if the stack reported it.
func (r *FakeRadio) Inject(ev radio.Event) {
	r.events <- ev
}

func (r *FakeRadio) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	return nil
}

func (r *FakeRadio) Connects() []button.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]button.ID(nil), r.connects...)
}

func (r *FakeRadio) Targets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.targets...)
}

func (r *FakeRadio) Disconnects() []button.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]button.ID(nil), r.disconnects...)
}

func (r *FakeRadio) RSSIRequests() []button.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]button.ID(nil), r.rssi...)
}

func (r *FakeRadio) LEDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.leds...)
}
