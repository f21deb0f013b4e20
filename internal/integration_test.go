package internal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/nebenuhr/internal/gpio"
	"github.com/sweeney/nebenuhr/internal/logic"
	"github.com/sweeney/nebenuhr/internal/mqtt"
	"github.com/sweeney/nebenuhr/internal/pulse"
	"github.com/sweeney/nebenuhr/internal/status"
	"github.com/sweeney/nebenuhr/internal/timesource"
	"github.com/sweeney/nebenuhr/internal/web"
	"github.com/sweeney/nebenuhr/internal/zone"
)

// manualClock is a time source the test moves by hand.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t, nil
}

func (c *manualClock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// rig wires the engine the way the daemon does, minus the scheduler goroutine.
type rig struct {
	clock   *manualClock
	adapter *timesource.Adapter
	out     *gpio.FakeOutput
	gen     *pulse.Generator
	ctrl    *logic.Controller
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
	zones   *zone.Registry
}

func newRig(t *testing.T, zoneName string, displayed int, utc time.Time) *rig {
	t.Helper()
	zones := zone.Default()
	z, err := zones.ByName(zoneName)
	if err != nil {
		t.Fatal(err)
	}
	clock := &manualClock{t: utc}
	out := gpio.NewFakeOutput()
	gen := pulse.NewGenerator(out, pulse.DefaultConfig(), out.Sleep, zerolog.Nop())
	r := &rig{
		clock:   clock,
		adapter: timesource.NewAdapter(clock, z, timesource.DefaultPreAdvanceSecond),
		out:     out,
		gen:     gen,
		ctrl:    logic.NewController(logic.NewTracker(displayed), gen, logic.DefaultAheadTolerance),
		pub:     mqtt.NewFakePublisher(),
		tracker: status.NewTracker(utc, "integration", status.Config{}),
		zones:   zones,
	}
	r.tracker.SetZone(z)
	return r
}

// tick performs one scheduler tick: read the target, decide, publish.
func (r *rig) tick(t *testing.T) logic.Decision {
	t.Helper()
	target, err := r.adapter.TargetMinute()
	if err != nil {
		t.Fatalf("target: %v", err)
	}
	d := r.ctrl.Tick(target, time.Time{})
	if ev := d.Event(); ev != nil {
		r.pub.Publish(*ev)
	}
	r.tracker.UpdateClock(status.Clock{
		Displayed:   r.ctrl.Displayed(),
		Target:      target,
		TargetValid: true,
		State:       r.ctrl.State(),
		Counts:      r.ctrl.Counts(),
	})
	return d
}

// activeLines returns the line ramped by each pulse, in order.
// Every ramp opens with exactly one full-duty step.
func activeLines(writes []gpio.Write) []gpio.Line {
	var lines []gpio.Line
	for _, w := range writes {
		if w.PWM && w.Duty == gpio.MaxDuty {
			lines = append(lines, w.Line)
		}
	}
	return lines
}

func TestIntegrationSteadyState(t *testing.T) {
	// 10:00:05 Berlin in January
	r := newRig(t, "Europe/Berlin", 600, time.Date(2026, 1, 10, 9, 0, 5, 0, time.UTC))
	d := r.tick(t)

	if d.Action != logic.ActionIdle {
		t.Errorf("action: got %s, want IDLE", d.Action)
	}
	if len(r.out.Writes()) != 0 {
		t.Errorf("no line should be driven: %+v", r.out.Writes())
	}
	if r.ctrl.Displayed() != 600 {
		t.Errorf("displayed: got %d", r.ctrl.Displayed())
	}
}

func TestIntegrationCatchUpBurst(t *testing.T) {
	// displayed 10:00, wall clock 11:00:05 Berlin
	r := newRig(t, "Europe/Berlin", 600, time.Date(2026, 1, 10, 10, 0, 5, 0, time.UTC))
	for i := 0; i < 60; i++ {
		if d := r.tick(t); d.Action != logic.ActionPulse {
			t.Fatalf("tick %d: got %s, want PULSE", i, d.Action)
		}
	}
	if d := r.tick(t); d.Action != logic.ActionIdle {
		t.Errorf("tick 61: got %s, want IDLE", d.Action)
	}

	if r.ctrl.Displayed() != 660 {
		t.Errorf("displayed: got %d, want 660", r.ctrl.Displayed())
	}
	lines := activeLines(r.out.Writes())
	if len(lines) != 60 {
		t.Fatalf("expected 60 pulses on the wire, got %d", len(lines))
	}
	for i := 1; i < len(lines); i++ {
		if lines[i] == lines[i-1] {
			t.Fatalf("pulses %d and %d both on %s", i-1, i, lines[i])
		}
	}
	if lines[0] != gpio.Out2 {
		t.Errorf("first pulse lands on 10:01 (odd): got %s, want OUT2", lines[0])
	}
	if len(r.pub.EventsOf(logic.EventPulse)) != 60 {
		t.Errorf("published pulses: got %d", len(r.pub.EventsOf(logic.EventPulse)))
	}
	if got := r.out.Elapsed(); got != 60*470*time.Millisecond {
		t.Errorf("pulse time: got %v", got)
	}
}

func TestIntegrationPreAdvance(t *testing.T) {
	// 12:34:59 Berlin targets 12:35
	r := newRig(t, "Europe/Berlin", 754, time.Date(2026, 1, 10, 11, 34, 59, 0, time.UTC))
	if d := r.tick(t); d.Action != logic.ActionPulse {
		t.Fatalf("got %s, want PULSE", d.Action)
	}
	if r.ctrl.Displayed() != 755 {
		t.Errorf("displayed: got %d, want 755", r.ctrl.Displayed())
	}
}

func TestIntegrationMidnightRollover(t *testing.T) {
	// 00:00:10 Berlin on Jan 11 is 23:00:10 UTC on Jan 10
	r := newRig(t, "Europe/Berlin", 1439, time.Date(2026, 1, 10, 23, 0, 10, 0, time.UTC))

	var actions []logic.Action
	for i := 0; i < 3; i++ {
		actions = append(actions, r.tick(t).Action)
	}
	want := []logic.Action{logic.ActionRebase, logic.ActionPulse, logic.ActionIdle}
	for i := range want {
		if actions[i] != want[i] {
			t.Fatalf("actions: got %v, want %v", actions, want)
		}
	}
	if r.ctrl.Displayed() != 0 || r.gen.Count() != 1 {
		t.Errorf("displayed %d after %d pulses", r.ctrl.Displayed(), r.gen.Count())
	}
	if r.gen.LastLine() != gpio.Out1 {
		t.Errorf("minute 0 is even: got %s, want OUT1", r.gen.LastLine())
	}
}

func TestIntegrationMidnightCatchUp(t *testing.T) {
	// displayed 23:58, wall clock 00:01:20 Berlin
	r := newRig(t, "Europe/Berlin", 1438, time.Date(2026, 1, 10, 23, 1, 20, 0, time.UTC))
	if d := r.tick(t); d.Action != logic.ActionRebase {
		t.Fatalf("got %s, want REBASE", d.Action)
	}
	pulses := 0
	for r.tick(t).Action == logic.ActionPulse {
		pulses++
	}
	if pulses != 3 || r.ctrl.Displayed() != 1 {
		t.Errorf("pulses %d displayed %d, want 3 and 1", pulses, r.ctrl.Displayed())
	}
	if got := activeLines(r.out.Writes()); len(got) != 3 || got[0] != gpio.Out2 || got[1] != gpio.Out1 || got[2] != gpio.Out2 {
		t.Errorf("lines: %v", got)
	}
}

func TestIntegrationSingleMinuteWaveform(t *testing.T) {
	// 10:01:00 Berlin
	r := newRig(t, "Europe/Berlin", 600, time.Date(2026, 1, 10, 9, 1, 0, 0, time.UTC))
	if d := r.tick(t); d.Action != logic.ActionPulse {
		t.Fatalf("got %s, want PULSE", d.Action)
	}

	writes := r.out.Writes()
	if len(writes) != 12 {
		t.Fatalf("expected 12 writes, got %d: %+v", len(writes), writes)
	}
	if writes[0].Line != gpio.Out1 || writes[0].PWM || writes[0].Duty != gpio.MaxDuty {
		t.Errorf("OUT1 should be held high first: %+v", writes[0])
	}
	wantDuty := []uint8{255, 251, 247, 239, 223, 191, 127, 63, 0}
	for i, d := range wantDuty {
		w := writes[1+i]
		if w.Line != gpio.Out2 || !w.PWM || w.Duty != d {
			t.Errorf("step %d: got %+v, want OUT2 duty %d", i, w, d)
		}
		if w.At != time.Duration(i)*30*time.Millisecond {
			t.Errorf("step %d at %v", i, w.At)
		}
	}
	if writes[10].At != 470*time.Millisecond {
		t.Errorf("release at %v, want 470ms", writes[10].At)
	}
	if r.out.Level(gpio.Out1) != 0 || r.out.Level(gpio.Out2) != 0 {
		t.Error("both lines should end low")
	}

	var parsed mqtt.Payload
	if err := json.Unmarshal(r.pub.Payloads[0], &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed.Clock.Event != "PULSE" || parsed.Clock.Displayed != "10:01" || parsed.Clock.Line != "OUT2" {
		t.Errorf("payload: %+v", parsed.Clock)
	}
}

func TestIntegrationOperatorAheadThenWait(t *testing.T) {
	// 10:00:00 Berlin
	start := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	r := newRig(t, "Europe/Berlin", 600, start)
	r.ctrl.Override(10, 5, start)

	for minute := 0; minute <= 5; minute++ {
		r.clock.set(start.Add(time.Duration(minute) * time.Minute))
		if d := r.tick(t); d.Action == logic.ActionPulse || d.Action == logic.ActionRebase {
			t.Fatalf("minute %d: unexpected %s", minute, d.Action)
		}
	}
	if r.ctrl.State() != logic.StateIdle || r.ctrl.Displayed() != 605 {
		t.Errorf("state %s displayed %d", r.ctrl.State(), r.ctrl.Displayed())
	}
}

func TestIntegrationOperatorFarAheadWraps(t *testing.T) {
	start := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	r := newRig(t, "Europe/Berlin", 600, start)
	r.ctrl.Override(13, 20, start)

	if d := r.tick(t); d.Action != logic.ActionRebase {
		t.Fatalf("got %s, want REBASE", d.Action)
	}
	pulses := 0
	for r.ctrl.State() != logic.StateIdle {
		if r.tick(t).Action == logic.ActionPulse {
			pulses++
		}
		if pulses > 2000 {
			t.Fatal("did not converge")
		}
	}
	if pulses != 1240 {
		t.Errorf("pulses: got %d, want 1240", pulses)
	}
	if len(r.pub.EventsOf(logic.EventRebase)) != 1 {
		t.Error("expected exactly one REBASE event")
	}
}

func TestIntegrationSpringForward(t *testing.T) {
	// 2026-03-29 01:59:30 CET, then the clocks jump to 03:00 CEST.
	before := time.Date(2026, 3, 29, 0, 59, 30, 0, time.UTC)
	r := newRig(t, "Europe/Berlin", 119, before)
	if d := r.tick(t); d.Action != logic.ActionIdle {
		t.Fatalf("before the jump: got %s", d.Action)
	}

	r.clock.set(before.Add(time.Minute))
	pulses := 0
	for r.tick(t).Action == logic.ActionPulse {
		pulses++
	}
	if pulses != 61 || r.ctrl.Displayed() != 180 {
		t.Errorf("pulses %d displayed %d, want 61 and 180", pulses, r.ctrl.Displayed())
	}
}

func TestIntegrationZoneChangeRetargets(t *testing.T) {
	utc := time.Date(2026, 1, 10, 9, 0, 5, 0, time.UTC)
	r := newRig(t, "Europe/Berlin", 600, utc)
	london, _ := r.zones.ByName("Europe/London")
	r.adapter.SetZone(london)

	// 10:00 displayed, 09:00 target: an hour ahead is beyond tolerance
	if d := r.tick(t); d.Action != logic.ActionRebase {
		t.Errorf("got %s, want REBASE", d.Action)
	}
}

// engineSetter applies web requests directly, standing in for the scheduler queue.
type engineSetter struct {
	r *rig
}

func (s engineSetter) Set(_ context.Context, req web.SetRequest) error {
	ev := s.r.ctrl.Override(req.Hour, req.Minute, time.Time{})
	if req.HasZone {
		if z, err := s.r.zones.ByIndex(req.ZoneIndex); err == nil {
			s.r.adapter.SetZone(z)
			s.r.tracker.SetZone(z)
		}
	}
	ev.Target, _ = s.r.adapter.TargetMinute()
	s.r.pub.Publish(ev)
	s.r.tracker.UpdateClock(status.Clock{Displayed: s.r.ctrl.Displayed(), State: s.r.ctrl.State(), Counts: s.r.ctrl.Counts()})
	return nil
}

func TestIntegrationOperatorPageRoundTrip(t *testing.T) {
	r := newRig(t, "Europe/Berlin", 600, time.Date(2026, 1, 10, 9, 0, 5, 0, time.UTC))
	srv := web.New(":0", r.tracker, r.zones, engineSetter{r}, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	tokyo, _ := r.zones.ByName("Asia/Tokyo")
	resp, err := http.PostForm(ts.URL+"/set", url.Values{
		"hour":   {"24"},
		"minute": {"0"},
		"zone":   {strconv.Itoa(tokyo.Index)},
	})
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	// 24:00 folds to 00:00
	if !strings.Contains(string(body), `<td id="displayed">00:00</td>`) {
		t.Error("page should show the operator's time")
	}
	if !strings.Contains(string(body), "selected>Asia/Tokyo</option>") {
		t.Error("page should select the new zone")
	}

	resp, err = http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatal(err)
	}
	var sj status.StatusJSON
	json.NewDecoder(resp.Body).Decode(&sj)
	resp.Body.Close()
	if sj.Status.Displayed != "00:00" || sj.Status.Zone.Name != "Asia/Tokyo" {
		t.Errorf("json: displayed=%s zone=%s", sj.Status.Displayed, sj.Status.Zone.Name)
	}

	sets := r.pub.EventsOf(logic.EventSet)
	if len(sets) != 1 || sets[0].Target != 18*60 {
		t.Errorf("SET event: %+v", sets)
	}

	var parsed mqtt.Payload
	json.Unmarshal(r.pub.Payloads[0], &parsed)
	if parsed.Clock.Event != "SET" || parsed.Clock.Target != "18:00" {
		t.Errorf("payload: %+v", parsed.Clock)
	}
}
