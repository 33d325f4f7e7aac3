package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/buttond/internal/button"
)

// NormalizeError maps go-ble, CoreBluetooth and BlueZ error strings to typed
// transport errors, keeping the original as the cause.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	var be *button.Error
	if errors.As(err, &be) {
		return err
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "central manager has invalid state") && strings.Contains(msg, "have=4"),
		containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "not powered"):
		return fmt.Errorf("%w: %v", button.ErrRadioPoweredOff, err)
	case errors.Is(err, context.Canceled), containsIgnoreCase(msg, "canceled"), containsIgnoreCase(msg, "cancelled"):
		return transport(button.CodeBluetoothOperationCancelled, err)
	case containsIgnoreCase(msg, "device not connected"), containsIgnoreCase(msg, "not connected"):
		return transport(button.CodeBluetoothNotConnected, err)
	case containsIgnoreCase(msg, "disconnected"), containsIgnoreCase(msg, "connection lost"), containsIgnoreCase(msg, "supervision timeout"):
		return transport(button.CodeBluetoothConnectionLost, err)
	case containsIgnoreCase(msg, "invalid handle"):
		return transport(button.CodeBluetoothInvalidHandle, err)
	case containsIgnoreCase(msg, "out of space"), containsIgnoreCase(msg, "insufficient resources"):
		return transport(button.CodeBluetoothOutOfSpace, err)
	case containsIgnoreCase(msg, "connection limit"), containsIgnoreCase(msg, "too many connections"):
		return transport(button.CodeBluetoothConnectionLimit, err)
	case containsIgnoreCase(msg, "invalid parameter"):
		return transport(button.CodeBluetoothInvalidParameters, err)
	case containsIgnoreCase(msg, "peripheral") && containsIgnoreCase(msg, "gone"),
		containsIgnoreCase(msg, "unknown device"):
		return transport(button.CodeBluetoothPeripheralGone, err)
	case errors.Is(err, context.DeadlineExceeded), containsIgnoreCase(msg, "timeout"), containsIgnoreCase(msg, "timed out"):
		return transport(button.CodeBluetoothConnectionFailed, err)
	default:
		return transport(button.CodeBluetoothUnknown, err)
	}
}

// dialFailure reports a dial that produced no link.
func dialFailure(err error) error {
	normalized := NormalizeError(err)
	if errors.Is(normalized, button.ErrRadioPoweredOff) {
		return normalized
	}
	return &button.Error{Kind: button.ConnectionFailed, Code: button.CodeConnectionFailed, Err: normalized}
}

func transport(code int, err error) error {
	return &button.Error{Kind: button.TransportError, Code: code, Err: err}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
