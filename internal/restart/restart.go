// Package restart replaces the running process with a fresh copy of itself.
// The daemon uses it when the clock never becomes valid during boot.
package restart

import (
	"errors"
	"fmt"
	"os"
)

// ErrUnsupported is returned on platforms without exec.
var ErrUnsupported = errors.New("restart: not supported on this platform")

// Execer replaces the process image. It only returns on failure.
type Execer func(path string, argv []string, envv []string) error

// Self re-executes the current binary with the same arguments and environment.
// On success it never returns.
func Self(exec Execer) error {
	path, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	if err := exec(path, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("exec %s: %w", path, err)
	}
	return nil
}
