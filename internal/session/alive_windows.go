//go:build windows

package session

import "os"

// IsPidAlive reports whether the process exists. On Windows FindProcess
// only succeeds for live processes.
func IsPidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = proc.Release()
	return true
}
