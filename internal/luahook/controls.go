package luahook

import (
	"fmt"

	"github.com/aarzilli/golua/lua"
	"github.com/srg/buttond/internal/button"
)

// ControlTable is the global table exposing Controls to scripts.
const ControlTable = "buttond"

// Controls is the daemon surface a script may drive. Calls must not block: they
// run while the hook holds its Lua state.
type Controls interface {
	Buttons() []button.Button
	Connect(id button.ID) error
	Disconnect(id button.ID) error
	ReadRSSI(id button.ID) error
	IndicateLED(id button.ID, count int) error
	SetTriggerBehavior(id button.ID, tb button.TriggerBehavior) error
	SetLowLatency(id button.ID, enabled bool) error

	// Rescan re-issues attempts for pending buttons with nothing in flight.
	Rescan()
	SetRadioEnabled(enabled bool)
	SetForeground(foreground bool)
}

// Option configures a Hook.
type Option func(*Hook)

// WithControls registers the buttond table before the script runs.
//
//	buttond.buttons()                   -> { {id=, name=, state=, trigger=, press_count=}, ... }
//	buttond.connect(id)                 -> true | nil, err
//	buttond.disconnect(id)              -> true | nil, err
//	buttond.read_rssi(id)               -> true | nil, err (reading arrives in on_state)
//	buttond.indicate_led(id, count)     -> true | nil, err
//	buttond.set_trigger(id, behavior)   -> true | nil, err
//	buttond.set_low_latency(id, on)     -> true | nil, err
//	buttond.rescan()
//	buttond.set_radio_enabled(on)
//	buttond.set_foreground(on)
func WithControls(c Controls) Option {
	return func(h *Hook) { h.controls = c }
}

func (h *Hook) registerControls() {
	c := h.controls
	L := h.state
	L.NewTable()

	setFunction(L, "buttons", func(L *lua.State) int {
		buttons := c.Buttons()
		L.CreateTable(len(buttons), 0)
		for i, b := range buttons {
			L.PushInteger(int64(i + 1))
			L.NewTable()
			setString(L, "id", b.ID.String())
			setString(L, "name", b.DisplayName())
			setString(L, "state", b.State.String())
			setString(L, "trigger", b.TriggerBehavior.String())
			L.PushInteger(int64(b.PressCount))
			L.SetField(-2, "press_count")
			L.SetTable(-3)
		}
		return 1
	})

	setFunction(L, "connect", withID("connect", func(L *lua.State, id button.ID) error {
		return c.Connect(id)
	}))
	setFunction(L, "disconnect", withID("disconnect", func(L *lua.State, id button.ID) error {
		return c.Disconnect(id)
	}))
	setFunction(L, "read_rssi", withID("read_rssi", func(L *lua.State, id button.ID) error {
		return c.ReadRSSI(id)
	}))
	setFunction(L, "indicate_led", withID("indicate_led", func(L *lua.State, id button.ID) error {
		if !L.IsNumber(2) {
			L.RaiseError("indicate_led(id, count) expects a number as second argument")
			return nil
		}
		return c.IndicateLED(id, L.ToInteger(2))
	}))
	setFunction(L, "set_trigger", withID("set_trigger", func(L *lua.State, id button.ID) error {
		if !L.IsString(2) {
			L.RaiseError("set_trigger(id, behavior) expects a string as second argument")
			return nil
		}
		tb, err := button.ParseTriggerBehavior(L.ToString(2))
		if err != nil {
			return err
		}
		return c.SetTriggerBehavior(id, tb)
	}))
	setFunction(L, "set_low_latency", withID("set_low_latency", func(L *lua.State, id button.ID) error {
		return c.SetLowLatency(id, boolArg(L, 2, "set_low_latency(id, on)"))
	}))

	setFunction(L, "rescan", func(L *lua.State) int {
		c.Rescan()
		return 0
	})
	setFunction(L, "set_radio_enabled", func(L *lua.State) int {
		c.SetRadioEnabled(boolArg(L, 1, "set_radio_enabled(on)"))
		return 0
	})
	setFunction(L, "set_foreground", func(L *lua.State) int {
		c.SetForeground(boolArg(L, 1, "set_foreground(on)"))
		return 0
	})

	L.SetGlobal(ControlTable)
}

func setFunction(L *lua.State, name string, fn lua.LuaGoFunction) {
	L.PushString(name)
	L.PushGoFunction(fn)
	L.SetTable(-3)
}

// withID parses the button id in argument 1 and returns (true, nil) or
// (nil, message) to the script.
func withID(name string, call func(L *lua.State, id button.ID) error) lua.LuaGoFunction {
	return func(L *lua.State) int {
		if !L.IsString(1) {
			L.RaiseError(fmt.Sprintf("%s(id, ...) expects a button id string as first argument", name))
			return 0
		}
		id, err := button.ParseID(L.ToString(1))
		if err == nil {
			err = call(L, id)
		}
		if err != nil {
			L.PushNil()
			L.PushString(fmt.Sprintf("%s() failed: %s", name, err))
			return 2
		}
		L.PushBoolean(true)
		L.PushNil()
		return 2
	}
}

func boolArg(L *lua.State, idx int, usage string) bool {
	if !L.IsBoolean(idx) {
		L.RaiseError(fmt.Sprintf("%s expects a boolean", usage))
		return false
	}
	return L.ToBoolean(idx)
}
