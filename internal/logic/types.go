// Package logic contains the pure clock-drive logic: the displayed-minute tracker
// and the convergence controller.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// MinutesPerDay is the modulus of every minute-of-day value.
const MinutesPerDay = 24 * 60

// DefaultAheadTolerance is how many minutes the display may run ahead of
// the target before the controller rebases instead of waiting.
const DefaultAheadTolerance = 10

// Parity is the parity of the minute shown after a pulse completes.
// It selects the active coil line.
type Parity int

const (
	ParityEven Parity = 0
	ParityOdd  Parity = 1
)

func (p Parity) String() string {
	if p == ParityOdd {
		return "odd"
	}
	return "even"
}

// State is the convergence state of the controller.
type State string

const (
	StateIdle       State = "IDLE"
	StateCatchingUp State = "CATCHING_UP"
	StateRebasing   State = "REBASING"
)

// Action is what a single tick decided to do.
type Action string

const (
	ActionIdle   Action = "IDLE"   // displayed == target
	ActionPulse  Action = "PULSE"  // displayed behind target
	ActionWait   Action = "WAIT"   // displayed ahead within tolerance
	ActionRebase Action = "REBASE" // displayed far ahead, rebased by one day
	ActionSkip   Action = "SKIP"   // time source unreadable
)

// EventType identifies a published clock event.
type EventType string

const (
	EventPulse  EventType = "PULSE"
	EventRebase EventType = "REBASE"
	EventSet    EventType = "SET"
)

// Event is a change of the displayed minute to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Displayed int // normalized displayed minute after the change
	Target    int
	Parity    Parity // PULSE only
}

// Decision is the outcome of one controller tick.
type Decision struct {
	Time   time.Time
	Action Action
	Before int // raw position before the tick
	After  int // raw position after the tick
	Target int
	Parity Parity // valid when Action == ActionPulse
	State  State
}

// Event converts the decision into a publishable event.
// Returns nil for ticks that did not change the displayed minute.
func (d Decision) Event() *Event {
	var typ EventType
	switch d.Action {
	case ActionPulse:
		typ = EventPulse
	case ActionRebase:
		typ = EventRebase
	default:
		return nil
	}
	return &Event{
		Timestamp: d.Time,
		Type:      typ,
		Displayed: Normalize(d.After),
		Target:    d.Target,
		Parity:    d.Parity,
	}
}

// Counts tracks controller activity since startup.
type Counts struct {
	Pulses    int
	Rebases   int
	Overrides int
	Skipped   int
}
