package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sweeney/nebenuhr/internal/logic"
)

var ts = time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC)

func TestTopicsFor(t *testing.T) {
	got := TopicsFor("home/clock")
	if got.Events != "home/clock/events" || got.System != "home/clock/system" {
		t.Errorf("got %+v", got)
	}
}

func TestFormatPayloadPulse(t *testing.T) {
	tests := []struct {
		parity   logic.Parity
		wantLine string
	}{
		{logic.ParityEven, "OUT1"},
		{logic.ParityOdd, "OUT2"},
	}
	for _, tt := range tests {
		t.Run(tt.parity.String(), func(t *testing.T) {
			payload, err := FormatPayload(logic.Event{
				Timestamp: ts,
				Type:      logic.EventPulse,
				Displayed: 755,
				Target:    760,
				Parity:    tt.parity,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			var parsed Payload
			if err := json.Unmarshal(payload, &parsed); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			c := parsed.Clock
			if c.Timestamp != "2026-02-02T22:18:12Z" {
				t.Errorf("timestamp: %s", c.Timestamp)
			}
			if c.Event != "PULSE" || c.Displayed != "12:35" || c.Target != "12:40" {
				t.Errorf("got %+v", c)
			}
			if c.Line != tt.wantLine {
				t.Errorf("line: got %s, want %s", c.Line, tt.wantLine)
			}
		})
	}
}

func TestFormatPayloadRebaseExactJSON(t *testing.T) {
	payload, err := FormatPayload(logic.Event{
		Timestamp: ts,
		Type:      logic.EventRebase,
		Displayed: 800,
		Target:    300,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"clock":{"timestamp":"2026-02-02T22:18:12Z","event":"REBASE","displayed":"13:20","target":"05:00"}}`
	if string(payload) != want {
		t.Errorf("got  %s\nwant %s", payload, want)
	}
}

func TestFormatPayloadTimezoneConversion(t *testing.T) {
	berlin := time.FixedZone("CET", 3600)
	payload, _ := FormatPayload(logic.Event{
		Timestamp: time.Date(2026, 1, 1, 0, 30, 0, 0, berlin),
		Type:      logic.EventSet,
	})
	var parsed Payload
	json.Unmarshal(payload, &parsed)
	if parsed.Clock.Timestamp != "2025-12-31T23:30:00Z" {
		t.Errorf("timestamp should be UTC: %s", parsed.Clock.Timestamp)
	}
}

func TestFormatSystemPayload(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{Timestamp: ts, Event: "SHUTDOWN", Reason: "SIGTERM"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"system":{"timestamp":"2026-02-02T22:18:12Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(payload) != want {
		t.Errorf("got  %s\nwant %s", payload, want)
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"system":{"event":"STARTUP","displayed":"12:00"}}`)
	payload, _ := FormatSystemPayload(SystemEvent{Event: "STARTUP", RawPayload: raw})
	if string(payload) != string(raw) {
		t.Errorf("raw payload should pass through: %s", payload)
	}
}

func TestWillPayload(t *testing.T) {
	if got := string(WillPayload()); got != `{"system":{"event":"OFFLINE"}}` {
		t.Errorf("got %s", got)
	}
}

func TestDiscard(t *testing.T) {
	var p Publisher = Discard{}
	if err := p.Publish(logic.Event{Type: logic.EventPulse}); err != nil {
		t.Error(err)
	}
	if err := p.PublishSystem(SystemEvent{Event: "STARTUP"}); err != nil {
		t.Error(err)
	}
	if (Discard{}).IsConnected() {
		t.Error("discard is never connected")
	}
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()
	f.Publish(logic.Event{Timestamp: ts, Type: logic.EventPulse})
	f.Publish(logic.Event{Timestamp: ts, Type: logic.EventRebase})
	f.Publish(logic.Event{Timestamp: ts, Type: logic.EventPulse})
	f.PublishSystem(SystemEvent{Timestamp: ts, Event: "STARTUP", Retained: true})

	if len(f.Events) != 3 || len(f.Payloads) != 3 {
		t.Fatalf("expected 3 events, got %d", len(f.Events))
	}
	if n := len(f.EventsOf(logic.EventPulse)); n != 2 {
		t.Errorf("pulses: got %d, want 2", n)
	}
	if len(f.SystemEvents) != 1 || !f.SystemEvents[0].Retained {
		t.Errorf("system events: %+v", f.SystemEvents)
	}

	f.PublishError = errors.New("simulated")
	if err := f.Publish(logic.Event{Type: logic.EventPulse}); err == nil {
		t.Error("expected error")
	}
	if len(f.Events) != 3 {
		t.Error("failed publish should not be recorded")
	}

	f.Close()
	if !f.Closed {
		t.Error("should be closed")
	}
	f.Reset()
	if f.Closed || len(f.Events) != 0 || f.PublishError != nil {
		t.Errorf("reset left state behind: %+v", f)
	}
}

// fakeToken completes immediately.
type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	err          error
	published    []bufferedMsg
	disconnected bool
}

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return &fakeToken{err: c.err}
	}
	c.published = append(c.published, bufferedMsg{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return &fakeToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func (c *fakeClient) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *fakeClient) messages() []bufferedMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bufferedMsg(nil), c.published...)
}

func waitBuffered(t *testing.T, p *RealPublisher, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for p.Buffered() != n {
		if time.Now().After(deadline) {
			t.Fatalf("buffered: got %d, want %d", p.Buffered(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRealPublisherSendsWhenConnected(t *testing.T) {
	c := &fakeClient{connected: true}
	p := newPublisher(c, TopicsFor("nebenuhr"), zerolog.Nop())

	p.Publish(logic.Event{Timestamp: ts, Type: logic.EventPulse, Displayed: 1, Target: 2})
	p.PublishSystem(SystemEvent{Timestamp: ts, Event: "SHUTDOWN", Retained: true})
	p.Close()

	msgs := c.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].topic != "nebenuhr/events" || msgs[0].qos != 0 || msgs[0].retained {
		t.Errorf("event message: %+v", msgs[0])
	}
	if msgs[1].topic != "nebenuhr/system" || msgs[1].qos != 1 || !msgs[1].retained {
		t.Errorf("system message: %+v", msgs[1])
	}
	if !c.disconnected {
		t.Error("close should disconnect")
	}
}

func TestRealPublisherBuffersAndReplays(t *testing.T) {
	c := &fakeClient{}
	p := newPublisher(c, TopicsFor("nebenuhr"), zerolog.Nop())
	defer p.Close()

	for i := 0; i < 3; i++ {
		p.Publish(logic.Event{Timestamp: ts, Type: logic.EventPulse, Displayed: i})
	}
	waitBuffered(t, p, 3)
	if len(c.messages()) != 0 {
		t.Fatal("nothing should be sent while disconnected")
	}

	c.setConnected(true)
	p.replay()
	waitBuffered(t, p, 0)

	deadline := time.Now().Add(2 * time.Second)
	for len(c.messages()) < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	msgs := c.messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 replayed messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		var parsed Payload
		json.Unmarshal(m.payload, &parsed)
		want := logic.FormatMinute(i)
		if parsed.Clock.Displayed != want {
			t.Errorf("message %d out of order: displayed %s, want %s", i, parsed.Clock.Displayed, want)
		}
	}
}

func TestRealPublisherBuffersOnError(t *testing.T) {
	c := &fakeClient{connected: true, err: errors.New("broker rejected")}
	p := newPublisher(c, TopicsFor("nebenuhr"), zerolog.Nop())
	defer p.Close()

	p.Publish(logic.Event{Timestamp: ts, Type: logic.EventSet})
	waitBuffered(t, p, 1)
	if !p.IsConnected() {
		t.Error("IsConnected should follow the client")
	}
}

func TestRealPublisherCloseIdempotent(t *testing.T) {
	c := &fakeClient{connected: true}
	p := newPublisher(c, TopicsFor("x"), zerolog.Nop())
	p.Close()
	p.Close()
}
