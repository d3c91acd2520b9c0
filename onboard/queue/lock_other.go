//go:build !linux && !darwin

package queue

import (
	"errors"
	"os"
)

const LOCK_FILE = ".lock"

var ERR_LOCKED = errors.New("queue directory is locked by another process")

// DirLock is advisory only on platforms without flock.
type DirLock struct{}

func LockDir(dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &DirLock{}, nil
}

func (l *DirLock) Unlock() error {
	return nil
}
