package main

import (
	"errors"
	"fmt"

	"github.com/srg/buttond/internal/button"
)

// Command-level errors
var (
	ErrMissingAppSecret = errors.New("app secret is not configured (set app_secret or BUTTOND_APP_SECRET)")
	ErrNoObservers      = errors.New("no observers enabled; enable the console or configure mqtt, lua or feed")
)

// FormatUserError renders err with a hint for the failures users can act on.
func FormatUserError(err error) string {
	var be *button.Error
	if !errors.As(err, &be) {
		return err.Error()
	}
	switch {
	case errors.Is(err, button.ErrRadioPoweredOff):
		return fmt.Sprintf("%v (is Bluetooth turned on?)", err)
	case errors.Is(err, button.ErrAlreadyGrabbed):
		return fmt.Sprintf("%v (run 'buttond forget' first to re-grab it)", err)
	case errors.Is(err, button.ErrUnknownButton):
		return fmt.Sprintf("%v (see 'buttond list')", err)
	case errors.Is(err, button.ErrHandoffRejected):
		return fmt.Sprintf("%v (request a new token with 'buttond grab request')", err)
	default:
		return err.Error()
	}
}
