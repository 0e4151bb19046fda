//go:build !windows

package session

import (
	"errors"
	"syscall"
)

// IsPidAlive reports whether the process exists. Signal 0 probes without
// delivering a signal; EPERM means the process exists but isn't ours.
func IsPidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
