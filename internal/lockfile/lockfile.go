// Package lockfile guards against running two instances against the same
// data directory.
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
)

// DefaultLockName is the lock file created next to the database.
const DefaultLockName = "funnelcoach.lock"

// ErrAlreadyLocked reports that another instance holds the lock.
var ErrAlreadyLocked = errors.New("another instance is already running")

// Lock is a held exclusive file lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes a non-blocking exclusive lock on the given path, creating
// the file (and its directory) if needed.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, ErrAlreadyLocked
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	// The PID helps operators identify the holder; the flock is the lock.
	f.Truncate(0)
	fmt.Fprintf(f, "%d\n", os.Getpid())
	slog.Debug("Lock acquired", "path", path)
	return &Lock{file: f, path: path}, nil
}

// Release unlocks and removes the lock file.
func (l *Lock) Release() error {
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.path, err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close lock file: %w", err)
	}
	os.Remove(l.path)
	slog.Debug("Lock released", "path", l.path)
	return nil
}
