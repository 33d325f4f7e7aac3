package button

import (
	"context"
	"time"
)

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the timer was
	// still pending.
	Stop() bool
}

// Scheduler is the single supervisory loop every session runs on.
type Scheduler interface {
	Now() time.Time
	// Post queues fn to run on the loop after everything already queued.
	Post(fn func())
	// AfterFunc runs fn on the loop once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Controller executes radio work on behalf of sessions. It is implemented by the
// connection supervisor and is only called from the loop.
type Controller interface {
	// RequestConnect queues a link attempt. A non-nil error means no attempt
	// could start at all.
	RequestConnect(s *Session) error
	// CancelConnect withdraws a queued or in-flight attempt. It reports whether
	// the radio had been asked to dial.
	CancelConnect(id ID) bool
	// RequestDisconnect tears down an established link. It reports whether a
	// link-closed event will follow.
	RequestDisconnect(id ID) bool
	// RetryLater schedules a new attempt for a session that is still pending.
	RetryLater(id ID)
	RequestRSSI(id ID) error
	RequestLED(id ID, count int) error
}

// Link is an established radio link handed to the authenticator.
type Link interface {
	ButtonID() ID
	ReadCharacteristic(ctx context.Context, uuid string) ([]byte, error)
	WriteCharacteristic(ctx context.Context, uuid string, data []byte) error
}

// Authenticator performs mutual authentication on a fresh link.
type Authenticator interface {
	Authenticate(ctx context.Context, b Button, link Link) error
}
