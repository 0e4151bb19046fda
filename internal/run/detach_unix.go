//go:build !windows

package run

import "syscall"

// detachAttr puts the child in its own session so it survives the CLI
// exiting and never receives the terminal's signals.
func detachAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
