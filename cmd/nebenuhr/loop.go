package main

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/sweeney/nebenuhr/internal/gpio"
	"github.com/sweeney/nebenuhr/internal/logic"
	"github.com/sweeney/nebenuhr/internal/mqtt"
	"github.com/sweeney/nebenuhr/internal/persist"
	"github.com/sweeney/nebenuhr/internal/status"
	"github.com/sweeney/nebenuhr/internal/timesource"
	"github.com/sweeney/nebenuhr/internal/web"
	"github.com/sweeney/nebenuhr/internal/zone"
)

// setOp carries an operator request into the loop and its result back out.
type setOp struct {
	req  web.SetRequest
	done chan error
}

// queueSetter hands web requests to the loop so they are applied between ticks.
type queueSetter struct {
	ops chan<- setOp
}

func (q *queueSetter) Set(ctx context.Context, req web.SetRequest) error {
	op := setOp{req: req, done: make(chan error, 1)}
	select {
	case q.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// daemon owns the clock engine. Every field is touched only from runLoop.
type daemon struct {
	ctrl       *logic.Controller
	adapter    *timesource.Adapter
	zones      *zone.Registry
	hook       *persist.Hook
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	schedule   cron.Schedule
	out        gpio.Output
	log        zerolog.Logger
	now        func() time.Time
	start      time.Time

	target       int
	targetValid  bool
	local        time.Time
	nextSnapshot time.Time
}

// runLoop is the cooperative scheduler. A pulse blocks the loop for its
// full duration; housekeeping and operator requests wait for it.
func (d *daemon) runLoop(tick, house <-chan time.Time, sets <-chan setOp, sig <-chan os.Signal) error {
	d.nextSnapshot = d.schedule.Next(d.start)

	for {
		select {
		case s := <-sig:
			d.shutdown(s)
			return nil

		case t := <-tick:
			d.onTick(t)

		case t := <-house:
			d.onHousekeeping(t)

		case op := <-sets:
			op.done <- d.applySet(op.req, d.now())
		}
	}
}

func (d *daemon) onTick(t time.Time) {
	if !d.targetValid {
		dec := d.ctrl.Skip(t)
		d.log.Debug().Int("skipped", d.ctrl.Counts().Skipped).Str("displayed", logic.FormatMinute(dec.After)).Msg("time source not ready, tick skipped")
		d.updateStatus()
		return
	}

	dec := d.ctrl.Tick(d.target, t)
	if ev := dec.Event(); ev != nil {
		evt := d.log.Info()
		if ev.Type == logic.EventRebase {
			evt = d.log.Warn()
		}
		evt.Str("event", string(ev.Type)).
			Str("displayed", logic.FormatMinute(ev.Displayed)).
			Str("target", logic.FormatMinute(ev.Target)).
			Msg("clock event")
		d.publish(*ev)
	}
	d.updateStatus()
}

func (d *daemon) onHousekeeping(t time.Time) {
	d.refreshTarget()
	d.hook.UpdateUptime(t.Sub(d.start))
	if !t.Before(d.nextSnapshot) {
		d.snapshot()
		d.publishSystem("HEARTBEAT", "", false)
		d.nextSnapshot = d.schedule.Next(t)
	}
	d.updateStatus()
}

// applySet applies an operator override and, if it resolves, a zone change.
func (d *daemon) applySet(req web.SetRequest, now time.Time) error {
	ev := d.ctrl.Override(req.Hour, req.Minute, now)

	if req.HasZone {
		z, err := d.zones.ByIndex(req.ZoneIndex)
		if err != nil {
			d.log.Warn().Err(err).Msg("zone not changed")
		} else {
			d.adapter.SetZone(z)
			d.tracker.SetZone(z)
			if err := d.hook.SetZone(z.ID); err != nil {
				d.log.Error().Err(err).Msg("failed to persist zone")
			}
			d.log.Info().Str("zone", z.Name).Msg("zone changed")
		}
	}

	d.refreshTarget()
	ev.Target = d.target
	d.log.Info().
		Str("displayed", logic.FormatMinute(ev.Displayed)).
		Str("target", logic.FormatMinute(ev.Target)).
		Msg("displayed time set by operator")
	d.publish(ev)
	d.tracker.SetRecord(d.hook.Record())
	d.updateStatus()
	return nil
}

func (d *daemon) refreshTarget() {
	local, err := d.adapter.LocalNow()
	if err != nil {
		if d.targetValid {
			d.log.Warn().Err(err).Msg("time source unreadable")
		}
		d.targetValid = false
		return
	}
	target, _ := d.adapter.TargetMinute()
	if !d.targetValid {
		d.log.Info().Str("target", logic.FormatMinute(target)).Msg("time source ready")
	}
	d.local = local
	d.target = target
	d.targetValid = true
}

func (d *daemon) snapshot() {
	if err := d.hook.Save(); err != nil {
		d.log.Error().Err(err).Msg("failed to save record")
	}
	d.tracker.SetRecord(d.hook.Record())
	if net := readNetworkInfo(); net != nil {
		d.tracker.SetNetwork(net)
	}
}

func (d *daemon) shutdown(s os.Signal) {
	reason := "UNKNOWN"
	switch s {
	case syscall.SIGINT:
		reason = "SIGINT"
	case syscall.SIGTERM:
		reason = "SIGTERM"
	}
	d.log.Info().Str("signal", reason).Msg("shutting down")

	d.hook.UpdateUptime(d.now().Sub(d.start))
	d.snapshot()
	d.updateStatus()
	d.publishSystem("SHUTDOWN", reason, true)

	for _, line := range []gpio.Line{gpio.Out1, gpio.Out2} {
		if err := d.out.SetLevel(line, false); err != nil {
			d.log.Warn().Err(err).Stringer("line", line).Msg("failed to release line")
		}
	}
}

func (d *daemon) updateStatus() {
	d.tracker.UpdateClock(status.Clock{
		Displayed:   d.ctrl.Displayed(),
		Target:      d.target,
		TargetValid: d.targetValid,
		State:       d.ctrl.State(),
		Counts:      d.ctrl.Counts(),
		Local:       d.local,
	})
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

func (d *daemon) publish(ev logic.Event) {
	if err := d.publisher.Publish(ev); err != nil {
		d.log.Warn().Err(err).Msg("publish error")
	}
}

func (d *daemon) publishSystem(event, reason string, retained bool) {
	snap := d.tracker.Snapshot()
	snap.Logs = nil
	err := d.publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		d.log.Warn().Err(err).Str("event", event).Msg("failed to publish system event")
	}
}
