//go:build linux

package gpio

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/warthog618/go-gpiocdev"
)

// RealOutput drives the coil lines through the Linux GPIO character device.
// PWM is generated in software, one goroutine per line.
type RealOutput struct {
	chip  *gpiocdev.Chip
	lines map[Line]*gpiocdev.Line
	pwm   map[Line]*softPWM
}

// NewRealOutput requests both pins as outputs, initially low.
func NewRealOutput(chipName string, pinOut1, pinOut2 int, period time.Duration, log zerolog.Logger) (*RealOutput, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	l1, err := chip.RequestLine(pinOut1, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request OUT1 pin %d: %w", pinOut1, err)
	}

	l2, err := chip.RequestLine(pinOut2, gpiocdev.AsOutput(0))
	if err != nil {
		l1.Close()
		chip.Close()
		return nil, fmt.Errorf("request OUT2 pin %d: %w", pinOut2, err)
	}

	onErr := func(line Line) func(error) {
		return func(err error) {
			log.Error().Err(err).Stringer("line", line).Msg("gpio write failed")
		}
	}

	return &RealOutput{
		chip:  chip,
		lines: map[Line]*gpiocdev.Line{Out1: l1, Out2: l2},
		pwm: map[Line]*softPWM{
			Out1: newSoftPWM(l1, period, onErr(Out1)),
			Out2: newSoftPWM(l2, period, onErr(Out2)),
		},
	}, nil
}

// SetDuty sets the software PWM duty cycle of the line.
func (r *RealOutput) SetDuty(line Line, duty uint8) error {
	p, ok := r.pwm[line]
	if !ok {
		return fmt.Errorf("unknown line %s", line)
	}
	p.Set(duty)
	return nil
}

// SetLevel parks the line on a steady level.
func (r *RealOutput) SetLevel(line Line, high bool) error {
	if high {
		return r.SetDuty(line, MaxDuty)
	}
	return r.SetDuty(line, 0)
}

// Close stops PWM, drives both lines low and releases the chip.
func (r *RealOutput) Close() error {
	var errs []error

	for _, line := range []Line{Out1, Out2} {
		if p := r.pwm[line]; p != nil {
			p.Close()
		}
		if l := r.lines[line]; l != nil {
			if err := l.SetValue(0); err != nil {
				errs = append(errs, fmt.Errorf("drive %s low: %w", line, err))
			}
			if err := l.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", line, err))
			}
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
