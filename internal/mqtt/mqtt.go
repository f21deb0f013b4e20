// Package mqtt publishes clock events and lifecycle messages to an MQTT broker.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/nebenuhr/internal/logic"
	"github.com/sweeney/nebenuhr/internal/pulse"
)

// Topic suffixes appended to the configured prefix.
const (
	SuffixEvents = "events"
	SuffixSystem = "system"
)

// Topics holds the fully qualified topic names.
type Topics struct {
	Events string
	System string
}

// TopicsFor builds the topic names under prefix.
func TopicsFor(prefix string) Topics {
	return Topics{
		Events: prefix + "/" + SuffixEvents,
		System: prefix + "/" + SuffixSystem,
	}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a clock event. Errors are reported, never fatal.
	Publish(event logic.Event) error

	// PublishSystem sends a lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close flushes pending messages and disconnects.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent is a lifecycle event: STARTUP, HEARTBEAT, SHUTDOWN.
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // signal name, SHUTDOWN only
	RawPayload []byte // pre-formatted status snapshot; returned as-is when set
	Retained   bool
}

// Payload is the clock event message.
type Payload struct {
	Clock ClockPayload `json:"clock"`
}

// ClockPayload carries one PULSE, REBASE or SET.
type ClockPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Displayed string `json:"displayed"`
	Target    string `json:"target"`
	Line      string `json:"line,omitempty"` // PULSE only
}

// FormatPayload creates the JSON payload for a clock event.
func FormatPayload(event logic.Event) ([]byte, error) {
	p := ClockPayload{
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Event:     string(event.Type),
		Displayed: logic.FormatMinute(event.Displayed),
		Target:    logic.FormatMinute(event.Target),
	}
	if event.Type == logic.EventPulse {
		active, _ := pulse.ActiveLine(event.Parity)
		p.Line = active.String()
	}
	return json.Marshal(Payload{Clock: p})
}

// SystemPayload is the minimal lifecycle message used when no snapshot is attached.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the lifecycle event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	inner := SystemPayloadInner{Event: event.Event, Reason: event.Reason}
	if !event.Timestamp.IsZero() {
		inner.Timestamp = event.Timestamp.UTC().Format(time.RFC3339)
	}
	return json.Marshal(SystemPayload{System: inner})
}

// WillPayload is the retained last-will message the broker sends if we vanish.
func WillPayload() []byte {
	b, _ := FormatSystemPayload(SystemEvent{Event: "OFFLINE"})
	return b
}

// Discard is the Publisher used when no broker is configured.
type Discard struct{}

func (Discard) Publish(logic.Event) error       { return nil }
func (Discard) PublishSystem(SystemEvent) error { return nil }
func (Discard) Close() error                    { return nil }
func (Discard) IsConnected() bool               { return false }
