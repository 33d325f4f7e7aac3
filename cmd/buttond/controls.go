package main

import (
	"sync/atomic"

	"github.com/srg/buttond/internal/button"
	"github.com/srg/buttond/internal/luahook"
	"github.com/srg/buttond/internal/registry"
	"github.com/srg/buttond/internal/supervisor"
)

// controls routes script requests to the registered sessions and the supervisor.
type controls struct {
	reg     *registry.Registry
	sup     *supervisor.Supervisor
	enabled atomic.Bool
}

var _ luahook.Controls = (*controls)(nil)

func newControls(reg *registry.Registry, sup *supervisor.Supervisor) *controls {
	c := &controls{reg: reg, sup: sup}
	c.enabled.Store(true)
	return c
}

func (c *controls) session(id button.ID) (*button.Session, error) {
	sess, ok := c.reg.Lookup(id)
	if !ok {
		return nil, button.NewError(button.UnknownButton, button.CodeUnknown, "button %s is not grabbed", id)
	}
	return sess, nil
}

func (c *controls) Buttons() []button.Button { return c.reg.Buttons() }

func (c *controls) Connect(id button.ID) error {
	sess, err := c.session(id)
	if err != nil {
		return err
	}
	sess.Connect()
	return nil
}

func (c *controls) Disconnect(id button.ID) error {
	sess, err := c.session(id)
	if err != nil {
		return err
	}
	sess.Disconnect()
	return nil
}

func (c *controls) ReadRSSI(id button.ID) error {
	sess, err := c.session(id)
	if err != nil {
		return err
	}
	sess.ReadRSSI()
	return nil
}

func (c *controls) IndicateLED(id button.ID, count int) error {
	sess, err := c.session(id)
	if err != nil {
		return err
	}
	return sess.IndicateLED(count)
}

func (c *controls) SetTriggerBehavior(id button.ID, tb button.TriggerBehavior) error {
	sess, err := c.session(id)
	if err != nil {
		return err
	}
	sess.SetTriggerBehavior(tb)
	return nil
}

func (c *controls) SetLowLatency(id button.ID, enabled bool) error {
	sess, err := c.session(id)
	if err != nil {
		return err
	}
	sess.SetLowLatency(enabled)
	return nil
}

func (c *controls) Rescan() { c.sup.OnEnvironmentChange() }

// RadioEnabled reports the last requested radio use.
func (c *controls) RadioEnabled() bool { return c.enabled.Load() }

func (c *controls) SetRadioEnabled(enabled bool) {
	c.enabled.Store(enabled)
	if enabled {
		c.sup.Enable()
		return
	}
	c.sup.Disable()
}

func (c *controls) SetForeground(foreground bool) { c.sup.SetForeground(foreground) }
