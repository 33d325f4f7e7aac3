//go:build test

package console_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/srg/buttond/internal/button"
	"github.com/srg/buttond/internal/console"
	"github.com/srg/buttond/internal/testutils"
	"github.com/stretchr/testify/assert"
)

func TestPrinterLines(t *testing.T) {
	// GOAL: Verify the printer writes one line per notification in order
	//
	// TEST SCENARIO: lifecycle, live and queued interactions, rssi, radio and failure notifications

	var buf bytes.Buffer
	p := console.New(&buf, console.ColorNever, testutils.NewTestHelper(t).Logger)

	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	b := testutils.NewButton("desk")
	p.Notify(button.Notification{Kind: button.IsReady, At: at, ButtonID: b.ID, Button: b})
	p.Notify(button.Notification{Kind: button.Interaction, At: at.Add(250 * time.Millisecond), ButtonID: b.ID, Button: b,
		Event: button.InteractionEvent{Kind: button.EventClick}})
	p.Notify(button.Notification{Kind: button.Interaction, At: at.Add(time.Second), ButtonID: b.ID, Button: b,
		Event: button.InteractionEvent{Kind: button.EventHold, Queued: true, Age: 42}})
	p.Notify(button.Notification{Kind: button.DidUpdateRSSI, At: at, ButtonID: b.ID, Button: b, RSSI: -61})
	p.Notify(button.Notification{Kind: button.RadioStateChanged, At: at, Radio: button.RadioPoweredOff})
	p.Notify(button.Notification{Kind: button.DidFailToConnect, At: at, ButtonID: b.ID, Err: errors.New("timed out")})
	p.Notify(button.Notification{Kind: button.DidRestoreState, At: at})
	p.Close()

	testutils.NewTextAsserter(t).Assert(buf.String(), `
12:00:00.000 desk is_ready
12:00:00.250 desk click
12:00:01.000 desk hold (queued, 42s ago)
12:00:00.000 desk rssi -61 dBm
12:00:00.000 radio powered_off
12:00:00.000 `+b.ID.String()+` did_fail_to_connect: timed out
12:00:00.000 state restored
`)
}

func TestPrinterColors(t *testing.T) {
	var buf bytes.Buffer
	p := console.New(&buf, console.ColorAlways, nil)
	line := p.Format(button.Notification{Kind: button.RadioStateChanged, Radio: button.RadioPoweredOn})
	p.Close()
	assert.Contains(t, line, "\x1b[", "forced colors MUST emit escape codes")

	plain := console.New(&buf, console.ColorAuto, nil)
	defer plain.Close()
	assert.NotContains(t, plain.Format(button.Notification{Kind: button.RadioStateChanged}), "\x1b[",
		"non-terminal writers MUST NOT be colorized in auto mode")
}

func TestPrinterCloseIsIdempotent(t *testing.T) {
	p := console.New(&bytes.Buffer{}, console.ColorNever, nil)
	p.Close()
	assert.NotPanics(t, p.Close)
	assert.NotPanics(t, func() { p.Notify(button.Notification{Kind: button.DidConnect}) }, "notify after close MUST be ignored")
}
