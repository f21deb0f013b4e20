package timesource

import (
	"sync"
	"time"

	"github.com/sweeney/nebenuhr/internal/zone"
)

// DefaultPreAdvanceSecond is the second of minute from which the target is
// already the next minute, absorbing the ~0.5 s pulse latency.
const DefaultPreAdvanceSecond = 59

// MinuteOf returns the minute of day of t in its own location, advanced by
// one when the second of minute is at or past preAdvance.
func MinuteOf(t time.Time, preAdvance int) int {
	hour, minute, sec := t.Clock()
	m := hour*60 + minute
	if sec >= preAdvance {
		m++
	}
	return m % (24 * 60)
}

// Adapter projects the clock into the active zone.
// The zone may be changed from another goroutine; it takes effect on the next read.
type Adapter struct {
	clock      Clock
	preAdvance int

	mu   sync.RWMutex
	zone zone.Zone
}

// NewAdapter creates an Adapter. preAdvance is a second of minute in [0, 60];
// 60 disables the pre-advance.
func NewAdapter(clock Clock, z zone.Zone, preAdvance int) *Adapter {
	return &Adapter{clock: clock, zone: z, preAdvance: preAdvance}
}

// SetZone activates a new zone.
func (a *Adapter) SetZone(z zone.Zone) {
	a.mu.Lock()
	a.zone = z
	a.mu.Unlock()
}

// Zone returns the active zone.
func (a *Adapter) Zone() zone.Zone {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.zone
}

// LocalNow returns the wall clock in the active zone.
func (a *Adapter) LocalNow() (time.Time, error) {
	t, err := a.clock.Now()
	if err != nil {
		return time.Time{}, err
	}
	loc := a.Zone().Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc), nil
}

// TargetMinute returns the local minute of day in [0, 1440) the display should show.
func (a *Adapter) TargetMinute() (int, error) {
	t, err := a.LocalNow()
	if err != nil {
		return 0, err
	}
	return MinuteOf(t, a.preAdvance), nil
}
