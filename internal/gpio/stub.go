//go:build !linux

package gpio

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// RealOutput is not available on non-Linux platforms.
type RealOutput struct{}

// NewRealOutput returns an error on non-Linux platforms.
func NewRealOutput(chipName string, pinOut1, pinOut2 int, period time.Duration, log zerolog.Logger) (*RealOutput, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// SetDuty is not implemented on non-Linux platforms.
func (r *RealOutput) SetDuty(line Line, duty uint8) error {
	return errors.New("gpio: not supported")
}

// SetLevel is not implemented on non-Linux platforms.
func (r *RealOutput) SetLevel(line Line, high bool) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *RealOutput) Close() error {
	return nil
}
