// Package button models a registered push button: its identity record, the
// click classifier and the per-button session state machine.
package button

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Classifier timing constants.
const (
	// HoldThreshold is measured from the Down that starts a press.
	HoldThreshold = 1 * time.Second

	// DoubleClickWindow is measured from the Up that ends the first press of a gesture.
	DoubleClickWindow = 500 * time.Millisecond
)

// PressCountModulus is the rollover point of the 24-bit peripheral press counter.
const PressCountModulus = 1 << 24

// MaxLEDIndications is the largest fade count accepted by IndicateLED.
const MaxLEDIndications = 5

// DefaultColor is used when a handoff token does not carry the button color.
const DefaultColor = "#ffffff"

// ID is the stable 128-bit button identifier.
type ID = uuid.UUID

// ParseID parses a textual button identifier.
func ParseID(s string) (ID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid button id %q: %w", s, err)
	}
	return id, nil
}

// ConnectionState is the session connection lifecycle state.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	PendingConnection
	Connecting
	Connected
	Ready
	Disconnecting
)

var connectionStateNames = map[ConnectionState]string{
	Disconnected:      "disconnected",
	PendingConnection: "pending_connection",
	Connecting:        "connecting",
	Connected:         "connected",
	Ready:             "ready",
	Disconnecting:     "disconnecting",
}

func (s ConnectionState) String() string {
	if name, ok := connectionStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// TriggerBehavior selects how raw transitions are disambiguated.
type TriggerBehavior int

const (
	ClickAndHold TriggerBehavior = iota
	ClickAndDoubleClick
	ClickAndDoubleClickAndHold
	ClickOnly
)

var triggerBehaviorNames = map[TriggerBehavior]string{
	ClickAndHold:               "click_and_hold",
	ClickAndDoubleClick:        "click_and_double_click",
	ClickAndDoubleClickAndHold: "click_and_double_click_and_hold",
	ClickOnly:                  "click_only",
}

func (b TriggerBehavior) String() string {
	if name, ok := triggerBehaviorNames[b]; ok {
		return name
	}
	return fmt.Sprintf("trigger(%d)", int(b))
}

// ParseTriggerBehavior accepts the snake_case names produced by String.
// Dashes are treated as underscores and matching is case-insensitive.
func ParseTriggerBehavior(s string) (TriggerBehavior, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for b, name := range triggerBehaviorNames {
		if name == norm {
			return b, nil
		}
	}
	return ClickAndHold, fmt.Errorf("unknown trigger behavior %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (b TriggerBehavior) MarshalText() ([]byte, error) {
	if _, ok := triggerBehaviorNames[b]; !ok {
		return nil, fmt.Errorf("unknown trigger behavior %d", int(b))
	}
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *TriggerBehavior) UnmarshalText(text []byte) error {
	parsed, err := ParseTriggerBehavior(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// RadioState mirrors the host Bluetooth adapter state.
type RadioState int

const (
	RadioUnknown RadioState = iota
	RadioResetting
	RadioUnsupported
	RadioUnauthorized
	RadioPoweredOff
	RadioPoweredOn
)

var radioStateNames = map[RadioState]string{
	RadioUnknown:      "unknown",
	RadioResetting:    "resetting",
	RadioUnsupported:  "unsupported",
	RadioUnauthorized: "unauthorized",
	RadioPoweredOff:   "powered_off",
	RadioPoweredOn:    "powered_on",
}

func (s RadioState) String() string {
	if name, ok := radioStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("radio(%d)", int(s))
}

// IsLost reports whether the state means the transport is gone.
// Resetting and Unknown are transient and do not count.
func (s RadioState) IsLost() bool {
	return s == RadioPoweredOff || s == RadioUnauthorized || s == RadioUnsupported
}

// TransitionKind is a physical button edge.
type TransitionKind int

const (
	Down TransitionKind = iota + 1
	Up
)

func (k TransitionKind) String() string {
	switch k {
	case Down:
		return "down"
	case Up:
		return "up"
	default:
		return fmt.Sprintf("transition(%d)", int(k))
	}
}

// RawTransition is one physical edge reported by the radio layer.
type RawTransition struct {
	Kind   TransitionKind
	Queued bool
	// Age is whole seconds since the edge occurred.
	Age uint32
	// Elapsed is the sub-second precise age when the peripheral reports one.
	// Zero means only Age is known.
	Elapsed time.Duration
}

// NewRawTransition builds a transition from a precise elapsed time, deriving Age.
func NewRawTransition(kind TransitionKind, queued bool, elapsed time.Duration) RawTransition {
	return RawTransition{
		Kind:    kind,
		Queued:  queued,
		Age:     AgeSeconds(elapsed),
		Elapsed: elapsed,
	}
}

// elapsed returns the best known time since the edge occurred.
func (t RawTransition) elapsed() time.Duration {
	if t.Elapsed > 0 {
		return t.Elapsed
	}
	return time.Duration(t.Age) * time.Second
}

// AgeSeconds rounds a duration to the nearest whole second, clamping negatives to zero.
func AgeSeconds(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	return uint32(d.Round(time.Second) / time.Second)
}

// EventKind is the kind of an interaction event delivered to observers.
type EventKind int

const (
	EventDown EventKind = iota + 1
	EventUp
	EventClick
	EventDoubleClick
	EventHold
)

var eventKindNames = map[EventKind]string{
	EventDown:        "down",
	EventUp:          "up",
	EventClick:       "click",
	EventDoubleClick: "double_click",
	EventHold:        "hold",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// InteractionEvent is a raw or classified button event.
type InteractionEvent struct {
	ButtonID ID        `json:"button"`
	Kind     EventKind `json:"kind"`
	Queued   bool      `json:"queued"`
	Age      uint32    `json:"age"`
}

// Button is the identity record of one peripheral. Values are immutable snapshots;
// the owning Session is the only writer.
type Button struct {
	ID               ID
	PublicKey        string
	Address          string
	DeviceName       string
	UserAssignedName string
	Color            string

	State           ConnectionState
	TriggerBehavior TriggerBehavior
	LowLatency      bool
	PressCount      uint32
}

// IsReady reports whether the button has completed authentication.
func (b Button) IsReady() bool {
	return b.State == Ready
}

// DisplayName prefers the user assigned name over the device name.
func (b Button) DisplayName() string {
	if b.UserAssignedName != "" {
		return b.UserAssignedName
	}
	if b.DeviceName != "" {
		return b.DeviceName
	}
	return b.ID.String()
}

// Target returns the address the radio should dial. Platforms that address
// peripherals by identifier (CoreBluetooth) use the id itself.
func (b Button) Target() string {
	if b.Address != "" {
		return b.Address
	}
	return b.ID.String()
}
