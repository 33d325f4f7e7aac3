// Package radio defines the boundary between the connection supervisor and a
// Bluetooth LE stack. A Radio performs link work asynchronously and reports
// every outcome on its event channel.
package radio

import (
	"context"
	"fmt"

	"github.com/srg/buttond/internal/button"
)

// EventKind identifies a radio event.
type EventKind int

const (
	// LinkConnecting is reported once the stack has started dialing.
	LinkConnecting EventKind = iota + 1
	// LinkConnected carries the established Link.
	LinkConnected
	// LinkFailed reports a dial that did not produce a link.
	LinkFailed
	// LinkLost reports an established link dropped by the transport.
	LinkLost
	// LinkDisconnected confirms a link or dial closed on request.
	LinkDisconnected
	// Transition carries one raw button edge.
	Transition
	// QueueDrained marks the end of the peripheral's offline queue.
	QueueDrained
	// RSSI carries a signal strength reading or its failure.
	RSSI
	// FactoryReset reports that the peripheral restarted its press counter.
	FactoryReset
	// StateChanged reports an adapter power/availability change.
	StateChanged
)

var eventKindNames = map[EventKind]string{
	LinkConnecting:   "link_connecting",
	LinkConnected:    "link_connected",
	LinkFailed:       "link_failed",
	LinkLost:         "link_lost",
	LinkDisconnected: "link_disconnected",
	Transition:       "transition",
	QueueDrained:     "queue_drained",
	RSSI:             "rssi",
	FactoryReset:     "factory_reset",
	StateChanged:     "state_changed",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("radio_event(%d)", int(k))
}

// Event is a single radio report.
type Event struct {
	Kind       EventKind
	ButtonID   button.ID
	Link       button.Link
	Transition button.RawTransition
	RSSI       int
	State      button.RadioState
	Err        error
}

// Advertisement is a discovered peripheral.
type Advertisement struct {
	Address     string
	Name        string
	RSSI        int
	Connectable bool
}

// Radio is a Bluetooth LE stack adapter.
type Radio interface {
	// Connect starts dialing target for the given button. The outcome is
	// reported as LinkConnected or LinkFailed.
	Connect(ctx context.Context, id button.ID, target string) error
	// Disconnect cancels a dial or closes a link. LinkDisconnected follows.
	Disconnect(id button.ID) error
	// ReadRSSI requests a reading reported as an RSSI event.
	ReadRSSI(id button.ID) error
	// IndicateLED flashes the button LED.
	IndicateLED(id button.ID, count int) error
	// Scan reports advertisements until ctx is done.
	Scan(ctx context.Context, handler func(Advertisement)) error
	// Events returns the event stream. It is closed by Close.
	Events() <-chan Event
	Close() error
}

// GATT layout of the button service, lowercase without dashes as go-ble
// prints them.
const (
	ServiceUUID    = "f02adfc026e711e49edc0002a5d5c51b"
	EventsCharUUID = "f02adfc126e711e49edc0002a5d5c51b"
	AuthCharUUID   = "f02adfc226e711e49edc0002a5d5c51b"
	LEDCharUUID    = "f02adfc326e711e49edc0002a5d5c51b"
)
