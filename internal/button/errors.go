package button

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the button layer reports.
type ErrorKind string

const (
	ConnectionFailed     ErrorKind = "connection_failed"
	CryptographicFailure ErrorKind = "cryptographic_failure"
	AlreadyGrabbed       ErrorKind = "already_grabbed"
	RSSIReadFailed       ErrorKind = "rssi_read_failed"
	TransportError       ErrorKind = "transport_error"
	HandoffRejected      ErrorKind = "handoff_rejected"
	UnknownButton        ErrorKind = "unknown_button"
)

// Numeric codes shared with the peripheral/companion protocol.
const (
	CodeUnknown                     = 0
	CodeCouldNotCompleteTask        = 1
	CodeConnectionFailed            = 2
	CodeCouldNotUpdateRSSI          = 3
	CodeButtonIsPrivate             = 10
	CodeCryptographicFailure        = 11
	CodeMissingData                 = 13
	CodeInvalidSignature            = 14
	CodeButtonAlreadyGrabbed        = 15
	CodeBluetoothUnknown            = 100
	CodeBluetoothInvalidParameters  = 101
	CodeBluetoothInvalidHandle      = 102
	CodeBluetoothNotConnected       = 103
	CodeBluetoothOutOfSpace         = 104
	CodeBluetoothOperationCancelled = 105
	CodeBluetoothConnectionLost     = 106
	CodeBluetoothPeripheralGone     = 107
	CodeBluetoothUUIDNotAllowed     = 108
	CodeBluetoothAlreadyAdvertising = 109
	CodeBluetoothConnectionFailed   = 110
	CodeBluetoothConnectionLimit    = 111
	CodeRefusedConnection           = 200
	codeRadioDisabled               = 1000
	codeRadioPoweredOff             = 1001
)

// Error is the single error type of the button layer.
type Error struct {
	Kind ErrorKind
	Code int
	Msg  string
	Err  error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare by Kind. A target carrying a non-zero Code must
// match the code too.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != 0 && t.Code != e.Code {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrConnectionFailed     = &Error{Kind: ConnectionFailed}
	ErrCryptographicFailure = &Error{Kind: CryptographicFailure}
	ErrAlreadyGrabbed       = &Error{Kind: AlreadyGrabbed}
	ErrRSSIReadFailed       = &Error{Kind: RSSIReadFailed}
	ErrTransport            = &Error{Kind: TransportError}
	ErrHandoffRejected      = &Error{Kind: HandoffRejected}
	ErrUnknownButton        = &Error{Kind: UnknownButton}

	// ErrRadioDisabled is returned when a connect is refused before any radio activity.
	ErrRadioDisabled = &Error{Kind: TransportError, Code: codeRadioDisabled, Msg: "radio disabled"}

	// ErrRadioPoweredOff is attached to sessions torn down by adapter power loss.
	ErrRadioPoweredOff = &Error{Kind: TransportError, Code: codeRadioPoweredOff, Msg: "radio powered off"}
)

// NewError builds an Error with a formatted message.
func NewError(kind ErrorKind, code int, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind to a lower level cause. An existing *Error is returned as is.
func WrapError(kind ErrorKind, code int, err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	return &Error{Kind: kind, Code: code, Err: err}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}

// KindForCode maps a protocol error code to its kind.
func KindForCode(code int) ErrorKind {
	switch {
	case code == CodeConnectionFailed || code == CodeRefusedConnection:
		return ConnectionFailed
	case code == CodeCouldNotUpdateRSSI:
		return RSSIReadFailed
	case code == CodeButtonIsPrivate || code == CodeButtonAlreadyGrabbed:
		return AlreadyGrabbed
	case code == CodeCryptographicFailure || code == CodeInvalidSignature:
		return CryptographicFailure
	case code == CodeMissingData:
		return HandoffRejected
	case code >= CodeBluetoothUnknown && code <= CodeBluetoothConnectionLimit:
		return TransportError
	default:
		return ConnectionFailed
	}
}
