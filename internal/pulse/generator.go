// Package pulse generates the polarity-alternating drive pulse that advances
// a slave clock movement by one minute.
package pulse

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/nebenuhr/internal/gpio"
	"github.com/sweeney/nebenuhr/internal/logic"
)

// DefaultRamp is the soft-start duty table. Each entry is written inverted
// (MaxDuty - step), so the active line starts high and is pulled progressively lower.
var DefaultRamp = []uint8{0, 4, 8, 16, 32, 64, 128, 192, 255}

const (
	DefaultStepDelay = 30 * time.Millisecond
	DefaultHold      = 200 * time.Millisecond
)

// Config shapes the waveform. The ramp is tuned to a specific coil.
type Config struct {
	Ramp      []uint8
	StepDelay time.Duration
	Hold      time.Duration
}

// DefaultConfig returns the waveform tuned for the reference movement.
func DefaultConfig() Config {
	ramp := make([]uint8, len(DefaultRamp))
	copy(ramp, DefaultRamp)
	return Config{Ramp: ramp, StepDelay: DefaultStepDelay, Hold: DefaultHold}
}

// Duration is the time a pulse occupies the outputs, excluding release settling.
func (c Config) Duration() time.Duration {
	return time.Duration(len(c.Ramp))*c.StepDelay + c.Hold
}

// Generator emits pulses on two outputs. It exclusively owns the outputs
// for the duration of a pulse and is not safe for concurrent use.
type Generator struct {
	out   gpio.Output
	cfg   Config
	sleep func(time.Duration)
	log   zerolog.Logger

	last  gpio.Line
	count int
}

// NewGenerator creates a Generator. sleep may be nil to use time.Sleep.
func NewGenerator(out gpio.Output, cfg Config, sleep func(time.Duration), log zerolog.Logger) *Generator {
	if sleep == nil {
		sleep = time.Sleep
	}
	return &Generator{out: out, cfg: cfg, sleep: sleep, log: log}
}

// ActiveLine returns the line ramped for a pulse of the given parity.
func ActiveLine(p logic.Parity) (active, idle gpio.Line) {
	if p == logic.ParityOdd {
		return gpio.Out2, gpio.Out1
	}
	return gpio.Out1, gpio.Out2
}

// Emit drives the clock forward by one minute, blocking for the whole pulse.
// The pulse is open-loop: write failures are logged and the pulse is assumed
// to have succeeded.
func (g *Generator) Emit(p logic.Parity) {
	active, idle := ActiveLine(p)
	g.check(g.out.SetLevel(idle, true), idle)
	for _, step := range g.cfg.Ramp {
		g.check(g.out.SetDuty(active, gpio.MaxDuty-step), active)
		g.sleep(g.cfg.StepDelay)
	}
	g.sleep(g.cfg.Hold)
	g.check(g.out.SetLevel(gpio.Out1, false), gpio.Out1)
	g.check(g.out.SetLevel(gpio.Out2, false), gpio.Out2)

	g.last = active
	g.count++
	g.log.Debug().Stringer("line", active).Stringer("parity", p).Int("pulses", g.count).Msg("pulse")
}

func (g *Generator) check(err error, line gpio.Line) {
	if err != nil {
		g.log.Error().Err(err).Stringer("line", line).Msg("drive write failed")
	}
}

// Count returns the number of pulses emitted.
func (g *Generator) Count() int {
	return g.count
}

// LastLine returns the active line of the most recent pulse.
func (g *Generator) LastLine() gpio.Line {
	return g.last
}

// Config returns the waveform configuration.
func (g *Generator) Config() Config {
	return g.cfg
}
