package gpio

import (
	"errors"
	"fmt"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// PeriphOutput drives the coil lines with periph.io hardware PWM.
// Pins are looked up by name in the periph registry (e.g. "GPIO12").
type PeriphOutput struct {
	pins map[Line]pgpio.PinIO
	freq physic.Frequency
}

// NewPeriphOutput initializes the periph host drivers and claims both pins, initially low.
func NewPeriphOutput(nameOut1, nameOut2 string, hz int64) (*PeriphOutput, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}
	if hz <= 0 {
		return nil, errors.New("pwm frequency must be positive")
	}

	p := &PeriphOutput{
		pins: make(map[Line]pgpio.PinIO, 2),
		freq: physic.Frequency(hz) * physic.Hertz,
	}
	for line, name := range map[Line]string{Out1: nameOut1, Out2: nameOut2} {
		pin := gpioreg.ByName(name)
		if pin == nil {
			return nil, fmt.Errorf("%s: no pin named %q", line, name)
		}
		if err := pin.Out(pgpio.Low); err != nil {
			return nil, fmt.Errorf("%s: drive %s low: %w", line, name, err)
		}
		p.pins[line] = pin
	}
	return p, nil
}

// SetDuty programs the hardware PWM. The extremes are written as plain levels.
func (p *PeriphOutput) SetDuty(line Line, duty uint8) error {
	pin, ok := p.pins[line]
	if !ok {
		return fmt.Errorf("unknown line %s", line)
	}
	switch duty {
	case 0:
		return pin.Out(pgpio.Low)
	case MaxDuty:
		return pin.Out(pgpio.High)
	}
	d := pgpio.Duty(int64(duty) * int64(pgpio.DutyMax) / MaxDuty)
	return pin.PWM(d, p.freq)
}

// SetLevel drives the line to a plain level.
func (p *PeriphOutput) SetLevel(line Line, high bool) error {
	pin, ok := p.pins[line]
	if !ok {
		return fmt.Errorf("unknown line %s", line)
	}
	if high {
		return pin.Out(pgpio.High)
	}
	return pin.Out(pgpio.Low)
}

// Close drives both lines low and halts them.
func (p *PeriphOutput) Close() error {
	var errs []error
	for line, pin := range p.pins {
		if err := pin.Out(pgpio.Low); err != nil {
			errs = append(errs, fmt.Errorf("drive %s low: %w", line, err))
		}
		if err := pin.Halt(); err != nil {
			errs = append(errs, fmt.Errorf("halt %s: %w", line, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
