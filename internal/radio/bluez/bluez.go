// Package bluez watches the BlueZ adapter power state over D-Bus and reports it
// as radio state changes.
package bluez

import (
	"context"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/buttond/internal/button"
)

const (
	bluezBus       = "org.bluez"
	bluezAdapter1  = "org.bluez.Adapter1"
	dbusProperties = "org.freedesktop.DBus.Properties"

	// DefaultAdapter is the adapter watched when none is configured.
	DefaultAdapter = "hci0"
)

// Monitor reports Adapter1.Powered changes.
type Monitor struct {
	path   dbus.ObjectPath
	logger *logrus.Logger

	readPowered func() (bool, error)
	subscribe   func(ch chan *dbus.Signal) (func(), error)
}

// Open connects to the system bus and watches adapter (e.g. "hci0").
func Open(adapter string, logger *logrus.Logger) (*Monitor, error) {
	if adapter == "" {
		adapter = DefaultAdapter
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	path := dbus.ObjectPath("/org/bluez/" + adapter)

	readPowered := func() (bool, error) {
		v, err := conn.Object(bluezBus, path).GetProperty(bluezAdapter1 + ".Powered")
		if err != nil {
			return false, err
		}
		powered, ok := v.Value().(bool)
		if !ok {
			return false, fmt.Errorf("property %s.Powered has unexpected type %T", bluezAdapter1, v.Value())
		}
		return powered, nil
	}
	subscribe := func(ch chan *dbus.Signal) (func(), error) {
		opts := []dbus.MatchOption{
			dbus.WithMatchObjectPath(path),
			dbus.WithMatchInterface(dbusProperties),
			dbus.WithMatchMember("PropertiesChanged"),
		}
		if err := conn.AddMatchSignal(opts...); err != nil {
			return nil, fmt.Errorf("failed to add signal match: %w", err)
		}
		conn.Signal(ch)
		return func() {
			conn.RemoveSignal(ch)
			_ = conn.RemoveMatchSignal(opts...)
		}, nil
	}
	return newMonitor(path, logger, readPowered, subscribe), nil
}

func newMonitor(path dbus.ObjectPath, logger *logrus.Logger, readPowered func() (bool, error), subscribe func(chan *dbus.Signal) (func(), error)) *Monitor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Monitor{path: path, logger: logger, readPowered: readPowered, subscribe: subscribe}
}

// State reads the current adapter state.
func (m *Monitor) State() button.RadioState {
	powered, err := m.readPowered()
	if err != nil {
		st := stateForError(err)
		m.logger.WithFields(logrus.Fields{"adapter": m.path, "error": err, "radio_state": st}).Warn("Failed to read adapter power")
		return st
	}
	return poweredState(powered)
}

// Watch calls fn with the current state and then with every change until ctx
// is done.
func (m *Monitor) Watch(ctx context.Context, fn func(button.RadioState)) error {
	ch := make(chan *dbus.Signal, 16)
	unsubscribe, err := m.subscribe(ch)
	if err != nil {
		return err
	}
	defer unsubscribe()

	last := m.State()
	fn(last)
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-ch:
			if !ok {
				return nil
			}
			st, changed := stateFromSignal(sig, m.path)
			if !changed || st == last {
				continue
			}
			m.logger.WithFields(logrus.Fields{"adapter": m.path, "radio_state": st}).Debug("Adapter power changed")
			last = st
			fn(st)
		}
	}
}

// stateFromSignal extracts Powered from an Adapter1 PropertiesChanged signal.
func stateFromSignal(sig *dbus.Signal, path dbus.ObjectPath) (button.RadioState, bool) {
	if sig == nil || sig.Path != path || sig.Name != dbusProperties+".PropertiesChanged" || len(sig.Body) < 2 {
		return button.RadioUnknown, false
	}
	if iface, ok := sig.Body[0].(string); !ok || iface != bluezAdapter1 {
		return button.RadioUnknown, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return button.RadioUnknown, false
	}
	v, ok := changed["Powered"]
	if !ok {
		return button.RadioUnknown, false
	}
	powered, ok := v.Value().(bool)
	if !ok {
		return button.RadioUnknown, false
	}
	return poweredState(powered), true
}

func poweredState(powered bool) button.RadioState {
	if powered {
		return button.RadioPoweredOn
	}
	return button.RadioPoweredOff
}

func stateForError(err error) button.RadioState {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "AccessDenied"), strings.Contains(msg, "NotPermitted"):
		return button.RadioUnauthorized
	case strings.Contains(msg, "ServiceUnknown"), strings.Contains(msg, "UnknownObject"), strings.Contains(msg, "UnknownMethod"):
		return button.RadioUnsupported
	default:
		return button.RadioUnknown
	}
}
