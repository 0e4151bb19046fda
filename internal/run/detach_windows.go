//go:build windows

package run

import "syscall"

// detachAttr detaches the child from the console so it survives the CLI
// exiting.
func detachAttr() *syscall.SysProcAttr {
	const createNewProcessGroup = 0x00000200
	const detachedProcess = 0x00000008
	return &syscall.SysProcAttr{CreationFlags: createNewProcessGroup | detachedProcess}
}
