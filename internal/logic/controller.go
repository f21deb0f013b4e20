package logic

import "time"

// Pulser advances the physical clock by exactly one minute.
// The minute displayed after the call has the given parity.
type Pulser interface {
	Emit(p Parity)
}

// Decide is the convergence decision table. displayed is the raw tracker
// position, target is in [0, MinutesPerDay).
func Decide(displayed, target, tolerance int) Action {
	switch {
	case displayed == target:
		return ActionIdle
	case displayed < target:
		return ActionPulse
	case displayed <= target+tolerance:
		return ActionWait
	default:
		return ActionRebase
	}
}

// Controller reconciles the displayed minute with the target minute,
// one tick at a time. It is the sole writer of the Tracker after boot.
type Controller struct {
	tracker   *Tracker
	pulser    Pulser
	tolerance int
	state     State
	counts    Counts
}

// NewController creates a controller. A negative tolerance is treated as zero.
func NewController(tracker *Tracker, pulser Pulser, tolerance int) *Controller {
	if tolerance < 0 {
		tolerance = 0
	}
	return &Controller{
		tracker:   tracker,
		pulser:    pulser,
		tolerance: tolerance,
		state:     StateCatchingUp,
	}
}

// Tick applies the decision table once. At most one pulse is emitted and it
// runs to completion before Tick returns.
func (c *Controller) Tick(target int, now time.Time) Decision {
	d := Decision{
		Time:   now,
		Before: c.tracker.Position(),
		Target: target,
	}
	d.Action = Decide(d.Before, target, c.tolerance)

	switch d.Action {
	case ActionPulse:
		d.Parity = c.tracker.NextParity()
		c.pulser.Emit(d.Parity)
		c.tracker.Advance()
		c.counts.Pulses++
	case ActionRebase:
		c.tracker.Rebase()
		c.counts.Rebases++
	}

	d.After = c.tracker.Position()
	if d.Action == ActionRebase {
		d.State = StateRebasing
		c.state = StateCatchingUp
	} else {
		c.state = c.settle(target)
		d.State = c.state
	}
	return d
}

// Skip records a tick that could not read the time source. The tracker is untouched.
func (c *Controller) Skip(now time.Time) Decision {
	c.counts.Skipped++
	p := c.tracker.Position()
	return Decision{Time: now, Action: ActionSkip, Before: p, After: p, State: c.state}
}

// Override applies the operator's displayed time. Only call between ticks.
func (c *Controller) Override(hour, minute int, now time.Time) Event {
	c.tracker.Set(hour, minute)
	c.counts.Overrides++
	c.state = StateCatchingUp
	return Event{
		Timestamp: now,
		Type:      EventSet,
		Displayed: c.tracker.Get(),
	}
}

func (c *Controller) settle(target int) State {
	if c.tracker.Position() == target {
		return StateIdle
	}
	return StateCatchingUp
}

// Displayed returns the normalized displayed minute.
func (c *Controller) Displayed() int {
	return c.tracker.Get()
}

// State returns the convergence state after the last tick.
func (c *Controller) State() State {
	return c.state
}

// Counts returns a copy of the activity counters.
func (c *Controller) Counts() Counts {
	return c.counts
}

// Tolerance returns the ahead window in minutes.
func (c *Controller) Tolerance() int {
	return c.tolerance
}
