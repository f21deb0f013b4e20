package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/nebenuhr/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event              string       `json:"event,omitempty"`
	Reason             string       `json:"reason,omitempty"`
	Displayed          string       `json:"displayed"`
	Target             string       `json:"target,omitempty"`
	State              string       `json:"state"`
	LocalTime          string       `json:"local_time,omitempty"`
	Zone               ZoneJSON     `json:"zone"`
	UptimeSeconds      int64        `json:"uptime_seconds"`
	UptimeTotalSeconds uint32       `json:"uptime_total_seconds"`
	Reboots            uint16       `json:"reboots"`
	Session            string       `json:"session"`
	StartTime          string       `json:"start_time"`
	Timestamp          string       `json:"timestamp"`
	MQTT               MQTTStatus   `json:"mqtt"`
	Counts             CountsJSON   `json:"counts"`
	Network            *NetworkJSON `json:"network,omitempty"`
	Config             ConfigJSON   `json:"config"`
}

// ZoneJSON identifies the active time zone.
type ZoneJSON struct {
	Name  string `json:"name"`
	ID    uint32 `json:"id"`
	Index int    `json:"index"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of the controller counters.
type CountsJSON struct {
	Pulses    int `json:"pulses"`
	Rebases   int `json:"rebases"`
	Overrides int `json:"overrides"`
	Skipped   int `json:"skipped"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	HTTPAddr        string `json:"http_addr"`
	Broker          string `json:"broker"`
	NTPServer       string `json:"ntp_server"`
	Drive           string `json:"drive"`
	Store           string `json:"store"`
	PersistSchedule string `json:"persist_schedule"`
	AheadTolerance  int    `json:"ahead_tolerance"`
	PreAdvance      int    `json:"pre_advance_second"`
	TickMs          int64  `json:"tick_ms"`
	HousekeepingMs  int64  `json:"housekeeping_ms"`
}

func buildInner(snap Snapshot) StatusInner {
	state := string(snap.Clock.State)
	if state == "" {
		state = "UNKNOWN"
	}

	inner := StatusInner{
		Displayed:          logic.FormatMinute(snap.Clock.Displayed),
		State:              state,
		Zone:               ZoneJSON{Name: snap.Zone.Name, ID: snap.Zone.ID, Index: snap.Zone.Index},
		UptimeSeconds:      int64(snap.Uptime().Truncate(time.Second).Seconds()),
		UptimeTotalSeconds: snap.Record.UptimeSecondsTotal,
		Reboots:            snap.Record.Reboots,
		Session:            snap.Session,
		StartTime:          snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:          snap.Now.UTC().Format(time.RFC3339),
		MQTT:               MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Pulses:    snap.Clock.Counts.Pulses,
			Rebases:   snap.Clock.Counts.Rebases,
			Overrides: snap.Clock.Counts.Overrides,
			Skipped:   snap.Clock.Counts.Skipped,
		},
		Config: ConfigJSON(snap.Config),
	}
	if snap.Clock.TargetValid {
		inner.Target = logic.FormatMinute(snap.Clock.Target)
	}
	if !snap.Clock.Local.IsZero() {
		inner.LocalTime = snap.Clock.Local.Format(time.RFC3339)
	}
	if snap.Network != nil {
		n := NetworkJSON(*snap.Network)
		inner.Network = &n
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
