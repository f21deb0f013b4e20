//go:build linux

package restart

import "golang.org/x/sys/unix"

// Exec is the platform exec(2).
var Exec Execer = unix.Exec
