//go:build windows

package state

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// fileLock approximates the unix flock with O_EXCL lock-file creation.
type fileLock struct {
	path string
}

func acquireLock(path string) (*fileLock, error) {
	var lastErr error
	for i := 0; i < 100; i++ {
		file, err := os.OpenFile(path+".held", os.O_CREATE|os.O_EXCL|os.O_WRONLY, fileMode)
		if err == nil {
			_ = file.Close()
			return &fileLock{path: path + ".held"}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("open lock file %s: %w", path, err)
		}
		lastErr = err
		time.Sleep(time.Duration(i+1) * 2 * time.Millisecond)
	}
	return nil, fmt.Errorf("acquire lock %s: %w", path, lastErr)
}

func (l *fileLock) release() {
	if l == nil {
		return
	}
	_ = os.Remove(l.path)
}
