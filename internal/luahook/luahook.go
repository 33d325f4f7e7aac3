// Package luahook runs a user Lua script against button notifications.
//
// The script may define two globals:
//
//	function on_event(ev) end -- interaction events
//	function on_state(ev) end -- every other notification
//
// ev is a table with the same fields as the JSON payload published over MQTT.
// With WithControls the script can also drive buttons through the buttond
// table.
package luahook

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
	"github.com/srg/buttond/internal/button"
	"github.com/srg/buttond/internal/dispatch"
)

const (
	EventHandler = "on_event"
	StateHandler = "on_state"
)

// Hook is a dispatch.Observer backed by a single Lua state.
type Hook struct {
	mu       sync.Mutex
	state    *lua.State
	name     string
	logger   *logrus.Logger
	controls Controls
}

// LoadFile reads and runs the script at path.
func LoadFile(path string, logger *logrus.Logger, opts ...Option) (*Hook, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return New(string(content), path, logger, opts...)
}

// New runs script in a fresh Lua state. Top-level errors fail the load.
func New(script, name string, logger *logrus.Logger, opts ...Option) (*Hook, error) {
	if strings.TrimSpace(script) == "" {
		return nil, fmt.Errorf("lua script %s is empty", name)
	}
	if logger == nil {
		logger = logrus.New()
	}

	h := &Hook{state: lua.NewState(), name: name, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	h.state.OpenLibs()
	h.registerPrint()
	if h.controls != nil {
		h.registerControls()
	}

	if err := h.state.DoString(script); err != nil {
		h.state.Close()
		return nil, fmt.Errorf("lua script %s failed: %w", name, err)
	}
	logger.WithField("script", name).Info("Lua hook loaded")
	return h, nil
}

// print goes to the log instead of stdout.
func (h *Hook) registerPrint() {
	h.state.PushGoFunction(func(L *lua.State) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			switch {
			case L.IsNil(i):
				parts = append(parts, "nil")
			case L.IsBoolean(i):
				parts = append(parts, fmt.Sprintf("%t", L.ToBoolean(i)))
			case L.IsNumber(i), L.IsString(i):
				parts = append(parts, L.ToString(i))
			default:
				L.GetGlobal("tostring")
				L.PushValue(i)
				L.Call(1, 1)
				parts = append(parts, L.ToString(-1))
				L.Pop(1)
			}
		}
		h.logger.WithField("script", h.name).Info(strings.Join(parts, "\t"))
		return 0
	})
	h.state.SetGlobal("print")
}

// Notify calls the matching handler if the script defines one. Script
// errors are logged.
func (h *Hook) Notify(n button.Notification) {
	fn := StateHandler
	if n.Kind == button.Interaction {
		fn = EventHandler
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == nil {
		return
	}

	L := h.state
	top := L.GetTop()
	defer L.SetTop(top)

	L.GetGlobal(fn)
	if !L.IsFunction(-1) {
		return
	}
	pushPayload(L, dispatch.NewPayload(n))
	if err := L.Call(1, 0); err != nil {
		h.logger.WithFields(logrus.Fields{
			"script":       h.name,
			"handler":      fn,
			"notification": n.Kind.String(),
			"error":        err,
		}).Warn("Lua handler failed")
	}
}

// Global returns a string, number or boolean global, or nil.
func (h *Hook) Global(name string) any {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == nil {
		return nil
	}
	L := h.state
	L.GetGlobal(name)
	defer L.Pop(1)
	switch {
	case L.IsBoolean(-1):
		return L.ToBoolean(-1)
	case L.IsNumber(-1):
		return L.ToNumber(-1)
	case L.IsString(-1):
		return L.ToString(-1)
	default:
		return nil
	}
}

// Close releases the Lua state. Later notifications are ignored.
func (h *Hook) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != nil {
		h.state.Close()
		h.state = nil
	}
}

func pushPayload(L *lua.State, p dispatch.Payload) {
	L.NewTable()
	setString(L, "kind", p.Kind)
	setString(L, "timestamp", p.Timestamp)
	setString(L, "button", p.Button)
	setString(L, "name", p.Name)
	setString(L, "state", p.State)
	setString(L, "radio", p.Radio)
	if p.PressCount != nil {
		L.PushInteger(int64(*p.PressCount))
		L.SetField(-2, "press_count")
	}
	if p.RSSI != nil {
		L.PushInteger(int64(*p.RSSI))
		L.SetField(-2, "rssi")
	}
	if p.Event != nil {
		L.NewTable()
		setString(L, "kind", p.Event.Kind)
		L.PushBoolean(p.Event.Queued)
		L.SetField(-2, "queued")
		L.PushInteger(int64(p.Event.Age))
		L.SetField(-2, "age")
		L.SetField(-2, "event")
	}
	if p.Error != nil {
		L.NewTable()
		setString(L, "kind", p.Error.Kind)
		L.PushInteger(int64(p.Error.Code))
		L.SetField(-2, "code")
		setString(L, "message", p.Error.Message)
		L.SetField(-2, "error")
	}
}

// setString skips empty values so scripts can test fields against nil.
func setString(L *lua.State, key, value string) {
	if value == "" {
		return
	}
	L.PushString(value)
	L.SetField(-2, key)
}
