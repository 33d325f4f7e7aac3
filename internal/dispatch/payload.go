package dispatch

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/srg/buttond/internal/button"
)

// Payload is the wire form of a notification shared by the network observers.
type Payload struct {
	Kind       string        `json:"kind"`
	Timestamp  string        `json:"timestamp"`
	Button     string        `json:"button,omitempty"`
	Name       string        `json:"name,omitempty"`
	State      string        `json:"state,omitempty"`
	PressCount *uint32       `json:"press_count,omitempty"`
	Event      *EventPayload `json:"event,omitempty"`
	RSSI       *int          `json:"rssi,omitempty"`
	Radio      string        `json:"radio,omitempty"`
	Error      *ErrorPayload `json:"error,omitempty"`
}

// EventPayload describes one interaction event.
type EventPayload struct {
	Kind   string `json:"kind"`
	Queued bool   `json:"queued"`
	Age    uint32 `json:"age"`
}

// ErrorPayload carries a reported failure.
type ErrorPayload struct {
	Kind    string `json:"kind,omitempty"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

// NewPayload converts n to its wire form.
func NewPayload(n button.Notification) Payload {
	p := Payload{
		Kind:      n.Kind.String(),
		Timestamp: n.At.UTC().Format(time.RFC3339Nano),
	}
	var zero button.ID
	if n.ButtonID != zero {
		p.Button = n.ButtonID.String()
	}
	if n.Button.ID != zero {
		p.Name = n.Button.DisplayName()
		p.State = n.Button.State.String()
		count := n.Button.PressCount
		p.PressCount = &count
	}

	switch n.Kind {
	case button.Interaction:
		p.Event = &EventPayload{Kind: n.Event.Kind.String(), Queued: n.Event.Queued, Age: n.Event.Age}
	case button.DidUpdateRSSI:
		if n.Err == nil {
			rssi := n.RSSI
			p.RSSI = &rssi
		}
	case button.RadioStateChanged:
		p.Radio = n.Radio.String()
	}

	if n.Err != nil {
		p.Error = &ErrorPayload{Message: n.Err.Error()}
		var be *button.Error
		if errors.As(n.Err, &be) {
			p.Error.Kind = string(be.Kind)
			p.Error.Code = be.Code
		}
	}
	return p
}

// MarshalNotification encodes n as JSON.
func MarshalNotification(n button.Notification) ([]byte, error) {
	return json.Marshal(NewPayload(n))
}
