// Package gpio provides the two coil drive outputs with hardware abstraction.
// The real implementations use the Linux GPIO character device (software PWM)
// or periph.io (hardware PWM). The fake implementation allows testing without hardware.
package gpio

import "fmt"

// Line identifies one of the two coil drive outputs.
type Line int

const (
	Out1 Line = 1 // active on even minutes
	Out2 Line = 2 // active on odd minutes
)

func (l Line) String() string {
	switch l {
	case Out1:
		return "OUT1"
	case Out2:
		return "OUT2"
	}
	return fmt.Sprintf("LINE%d", int(l))
}

// MaxDuty is the full-scale value of the 8-bit duty register.
const MaxDuty = 255

// Output drives the coil lines.
type Output interface {
	// SetDuty writes an 8-bit PWM duty cycle to the line.
	// 0 is constantly low, MaxDuty is constantly high.
	SetDuty(line Line, duty uint8) error

	// SetLevel drives the line to a plain logic level.
	SetLevel(line Line, high bool) error

	// Close drives both lines low and releases resources.
	Close() error
}

// Pin definitions (BCM numbering)
const (
	DefaultPinOut1 = 23
	DefaultPinOut2 = 24
)
