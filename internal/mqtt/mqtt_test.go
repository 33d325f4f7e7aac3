//go:build test

package mqtt_test

import (
	"errors"
	"testing"
	"time"

	"github.com/srg/buttond/internal/button"
	"github.com/srg/buttond/internal/mqtt"
	"github.com/srg/buttond/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestObserverTopics(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	obs := mqtt.NewObserver(pub, "home/buttons", testutils.NewTestHelper(t).Logger)
	b := testutils.NewButton("desk")
	b.State = button.Ready
	b.PressCount = 7

	obs.Notify(button.Notification{Kind: button.IsReady, At: at, ButtonID: b.ID, Button: b})
	obs.Notify(button.Notification{
		Kind:     button.Interaction,
		At:       at,
		ButtonID: b.ID,
		Button:   b,
		Event:    button.InteractionEvent{ButtonID: b.ID, Kind: button.EventDoubleClick, Queued: true, Age: 4},
	})
	obs.Notify(button.Notification{Kind: button.RadioStateChanged, At: at, Radio: button.RadioPoweredOff})

	msgs := pub.Messages()
	require.Len(t, msgs, 3)

	assert.Equal(t, "home/buttons/"+b.ID.String()+"/state", msgs[0].Topic)
	assert.True(t, msgs[0].Retained, "lifecycle state MUST be retained")
	testutils.NewJSONAsserter(t).Assert(string(msgs[0].Payload), `{
		"kind": "is_ready",
		"timestamp": "2024-01-01T12:00:00Z",
		"button": "`+b.ID.String()+`",
		"name": "desk",
		"state": "ready",
		"press_count": 7
	}`)

	assert.Equal(t, "home/buttons/"+b.ID.String()+"/event", msgs[1].Topic)
	assert.False(t, msgs[1].Retained, "interaction events MUST NOT be retained")
	testutils.NewJSONAsserter(t).Assert(string(msgs[1].Payload), `{
		"kind": "interaction",
		"timestamp": "<<PRESENCE>>",
		"event": {"kind": "double_click", "queued": true, "age": 4}
	}`)

	assert.Equal(t, "home/buttons/system", msgs[2].Topic)
	testutils.NewJSONAsserter(t).WithOptions(testutils.WithIgnoreExtraKeys(false)).Assert(string(msgs[2].Payload), `{
		"kind": "radio_state_changed",
		"timestamp": "2024-01-01T12:00:00Z",
		"radio": "powered_off"
	}`)
}

func TestObserverErrors(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	obs := mqtt.NewObserver(pub, "", testutils.NewTestHelper(t).Logger)
	b := testutils.NewButton("desk")

	obs.Notify(button.Notification{
		Kind:     button.DidFailToConnect,
		At:       at,
		ButtonID: b.ID,
		Err:      button.NewError(button.CryptographicFailure, button.CodeInvalidSignature, "bad signature"),
	})
	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, mqtt.DefaultPrefix+"/"+b.ID.String()+"/state", msgs[0].Topic)
	testutils.NewJSONAsserter(t).Assert(string(msgs[0].Payload), `{
		"kind": "did_fail_to_connect",
		"error": {"kind": "cryptographic_failure", "code": 14, "message": "<<PRESENCE>>"}
	}`)

	pub.PublishError = errors.New("broker down")
	assert.NotPanics(t, func() {
		obs.Notify(button.Notification{Kind: button.DidConnect, At: at, ButtonID: b.ID})
	}, "publish failures MUST only be logged")
}
