package button

import "time"

// stamp places a transition on the classifier timeline and carries the
// reporting attributes a derived event inherits from it.
type stamp struct {
	at     time.Time
	queued bool
	age    uint32
}

// derived is a classified event together with the transition that triggered it.
type derived struct {
	kind EventKind
	from stamp
}

type gesturePhase int

const (
	phaseIdle      gesturePhase = iota
	phasePressed                // first press of a gesture is down
	phaseReleased               // first press released, double click window open
	phaseRepressed              // second press of a gesture is down
	phaseHeld                   // hold emitted, waiting for the release
)

type deadlineKind int

const (
	noDeadline deadlineKind = iota
	holdDeadline
	windowDeadline
)

// classifier turns Down/Up edges into Click, DoubleClick and Hold decisions.
// It has no clock of its own: callers feed timestamped edges and call expire
// once the armed deadline has passed. At most one deadline is armed at a time.
type classifier struct {
	mode     TriggerBehavior
	phase    gesturePhase
	pending  deadlineKind
	deadline time.Time
	trigger  stamp
}

// armed returns the pending decision deadline, if any.
func (c *classifier) armed() (time.Time, bool) {
	if c.pending == noDeadline {
		return time.Time{}, false
	}
	return c.deadline, true
}

// pressed reports whether the classifier believes the button is currently down.
func (c *classifier) pressed() bool {
	return c.phase == phasePressed || c.phase == phaseRepressed || c.phase == phaseHeld
}

func (c *classifier) reset() {
	c.phase = phaseIdle
	c.disarm()
}

func (c *classifier) arm(kind deadlineKind, at time.Time, trigger stamp) {
	c.pending = kind
	c.deadline = at
	c.trigger = trigger
}

func (c *classifier) disarm() {
	c.pending = noDeadline
	c.deadline = time.Time{}
	c.trigger = stamp{}
}

// down feeds a Down edge. current is the behavior configured right now; it only
// takes effect when the edge starts a new gesture. The second result is false
// when the edge is rejected as a duplicate Down.
func (c *classifier) down(st stamp, current TriggerBehavior) ([]derived, bool) {
	switch c.phase {
	case phaseIdle:
		c.mode = current
		c.phase = phasePressed
		switch c.mode {
		case ClickOnly:
			return []derived{{kind: EventClick, from: st}}, true
		case ClickAndHold, ClickAndDoubleClickAndHold:
			c.arm(holdDeadline, st.at.Add(HoldThreshold), st)
		}
		return nil, true

	case phaseReleased:
		c.disarm()
		c.phase = phaseRepressed
		if c.mode == ClickAndDoubleClickAndHold {
			c.arm(holdDeadline, st.at.Add(HoldThreshold), st)
		}
		return nil, true

	default:
		return nil, false
	}
}

// up feeds an Up edge. The second result is false for an Up without a Down.
func (c *classifier) up(st stamp) ([]derived, bool) {
	switch c.phase {
	case phasePressed:
		switch c.mode {
		case ClickOnly:
			c.reset()
			return nil, true
		case ClickAndHold:
			c.reset()
			return []derived{{kind: EventClick, from: st}}, true
		default:
			c.disarm()
			c.phase = phaseReleased
			c.arm(windowDeadline, st.at.Add(DoubleClickWindow), st)
			return nil, true
		}

	case phaseRepressed:
		c.reset()
		return []derived{{kind: EventDoubleClick, from: st}}, true

	case phaseHeld:
		c.reset()
		return nil, true

	default:
		return nil, false
	}
}

// expire resolves the armed deadline.
func (c *classifier) expire() []derived {
	trigger := c.trigger
	switch c.pending {
	case holdDeadline:
		c.disarm()
		c.phase = phaseHeld
		return []derived{{kind: EventHold, from: trigger}}
	case windowDeadline:
		c.reset()
		return []derived{{kind: EventClick, from: trigger}}
	default:
		return nil
	}
}
