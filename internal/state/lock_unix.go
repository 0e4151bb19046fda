//go:build !windows

package state

import (
	"fmt"
	"os"
	"syscall"
)

// fileLock holds an exclusive advisory lock for the state document.
// The lock file is separate from the document so acquiring it never
// interferes with the atomic rename of the document itself.
type fileLock struct {
	file *os.File
}

// acquireLock blocks until the exclusive lock is held. Writers are
// short-lived (one read-modify-write), so blocking beats failing.
func acquireLock(path string) (*fileLock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, fileMode)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	return &fileLock{file: file}, nil
}

func (l *fileLock) release() {
	if l == nil || l.file == nil {
		return
	}
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
}
