package infra

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/eliteGoblin/focusd/killswitch/internal/domain"
)

// FileLock implements domain.SweepLock with flock(2) on a lock file.
// The kernel drops the lock when the holder dies, so a crashed sweep
// never leaves the lock stuck.
type FileLock struct {
	path string
}

// NewFileLock creates a lock backed by path.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// TryAcquire takes the lock without blocking.
func (l *FileLock) TryAcquire() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, domain.ErrBusy
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	release := func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
	}
	return release, nil
}

// Ensure FileLock implements domain.SweepLock.
var _ domain.SweepLock = (*FileLock)(nil)
