package button

import (
	"fmt"
	"time"
)

// NotificationKind identifies what an observer is being told.
type NotificationKind int

const (
	DidConnect NotificationKind = iota + 1
	IsReady
	DidDisconnect
	DidFailToConnect
	Interaction
	DidUpdateRSSI

	// Registry and radio level notifications carry no session ordering.
	RadioStateChanged
	DidGrab
	DidForget
	DidRestoreState
)

var notificationKindNames = map[NotificationKind]string{
	DidConnect:        "did_connect",
	IsReady:           "is_ready",
	DidDisconnect:     "did_disconnect",
	DidFailToConnect:  "did_fail_to_connect",
	Interaction:       "interaction",
	DidUpdateRSSI:     "did_update_rssi",
	RadioStateChanged: "radio_state_changed",
	DidGrab:           "did_grab",
	DidForget:         "did_forget",
	DidRestoreState:   "did_restore_state",
}

func (k NotificationKind) String() string {
	if name, ok := notificationKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("notification(%d)", int(k))
}

// IsLifecycle reports whether the notification describes a session link change.
func (k NotificationKind) IsLifecycle() bool {
	switch k {
	case DidConnect, IsReady, DidDisconnect, DidFailToConnect:
		return true
	default:
		return false
	}
}

// Notification is a single message fanned out to observers. Button is a snapshot
// taken at emission time.
type Notification struct {
	Kind     NotificationKind
	At       time.Time
	ButtonID ID
	Button   Button
	Event    InteractionEvent
	RSSI     int
	Radio    RadioState
	Err      error
}

func (n Notification) String() string {
	switch n.Kind {
	case Interaction:
		return fmt.Sprintf("%s %s queued=%t age=%d", n.ButtonID, n.Event.Kind, n.Event.Queued, n.Event.Age)
	case DidUpdateRSSI:
		return fmt.Sprintf("%s rssi=%d err=%v", n.ButtonID, n.RSSI, n.Err)
	case RadioStateChanged:
		return fmt.Sprintf("radio %s", n.Radio)
	case DidRestoreState:
		return n.Kind.String()
	default:
		if n.Err != nil {
			return fmt.Sprintf("%s %s: %v", n.ButtonID, n.Kind, n.Err)
		}
		return fmt.Sprintf("%s %s", n.ButtonID, n.Kind)
	}
}

// Emitter receives notifications in causal order. Implementations must not block.
type Emitter interface {
	Emit(n Notification)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Notification)

// Emit calls f(n).
func (f EmitterFunc) Emit(n Notification) { f(n) }
