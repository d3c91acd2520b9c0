//go:build linux || darwin

package queue

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const LOCK_FILE = ".lock"

var ERR_LOCKED = errors.New("queue directory is locked by another process")

// DirLock holds an exclusive flock on a queue directory.
type DirLock struct {
	file *os.File
}

// LockDir takes the lock without blocking; a second scheduler on the same
// directory gets ERR_LOCKED.
func LockDir(dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(filepath.Join(dir, LOCK_FILE), os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ERR_LOCKED
		}
		return nil, fmt.Errorf("flock: %w", err)
	}
	return &DirLock{file: f}, nil
}

func (l *DirLock) Unlock() error {
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	return l.file.Close()
}
