// Package status provides a thread-safe snapshot of the daemon state.
// It is written by the scheduler and read by HTTP handlers and MQTT lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/nebenuhr/internal/logic"
	"github.com/sweeney/nebenuhr/internal/persist"
	"github.com/sweeney/nebenuhr/internal/zone"
)

// NetworkInfo contains network state reported by the host helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	HTTPAddr        string
	Broker          string
	NTPServer       string
	Drive           string
	Store           string
	PersistSchedule string
	AheadTolerance  int
	PreAdvance      int
	TickMs          int64
	HousekeepingMs  int64
}

// Clock is the engine view: what the dial shows and where it should be.
type Clock struct {
	Displayed   int
	Target      int
	TargetValid bool
	State       logic.State
	Counts      logic.Counts
	Local       time.Time // wall clock in the active zone, as of the last refresh
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and stays valid after the lock is released.
type Snapshot struct {
	Clock         Clock
	Zone          zone.Zone
	Record        persist.Record
	Session       string
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
	Logs          []string // newest first
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// TotalUptime is the cumulative uptime across reboots, as last recorded.
func (s Snapshot) TotalUptime() time.Duration {
	return time.Duration(s.Record.UptimeSecondsTotal) * time.Second
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	logs func() []string
}

// NewTracker creates a Tracker with the given start time, session id and config.
func NewTracker(startTime time.Time, session string, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Session:   session,
			Config:    cfg,
		},
	}
}

// UpdateClock replaces the engine view. Called from the scheduler.
func (t *Tracker) UpdateClock(c Clock) {
	t.mu.Lock()
	t.snap.Clock = c
	t.mu.Unlock()
}

// SetZone records the active zone.
func (t *Tracker) SetZone(z zone.Zone) {
	t.mu.Lock()
	t.snap.Zone = z
	t.mu.Unlock()
}

// SetRecord records the latest persisted counters.
func (t *Tracker) SetRecord(r persist.Record) {
	t.mu.Lock()
	t.snap.Record = r
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// SetLogSource installs the function that supplies recent log lines.
func (t *Tracker) SetLogSource(fn func() []string) {
	t.mu.Lock()
	t.logs = fn
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// Now is set at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	logs := t.logs
	t.mu.RUnlock()
	s.Now = time.Now()
	if logs != nil {
		s.Logs = logs()
	}
	return s
}
