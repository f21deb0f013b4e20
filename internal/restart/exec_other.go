//go:build !linux

package restart

// Exec is unavailable off Linux.
var Exec Execer = func(string, []string, []string) error {
	return ErrUnsupported
}
