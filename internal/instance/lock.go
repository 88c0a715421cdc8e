// Package instance makes sure only one process owns a data directory and
// lets later processes hand their imports to the owner.
package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrLockReleased is returned when releasing a lock twice.
var ErrLockReleased = errors.New("lock already released")

var (
	heldMu sync.Mutex
	held   = make(map[string]bool)
)

// Lock is an exclusive, non-blocking lock on a file in a directory.
type Lock struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// TryLock attempts to take the lock <dir>/<name> without blocking. granted
// is false when another process, or another caller in this one, holds it.
func TryLock(dir, name string) (lock *Lock, granted bool, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, false, fmt.Errorf("failed to create lock directory: %w", err)
	}
	p, err := filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		return nil, false, err
	}

	heldMu.Lock()
	defer heldMu.Unlock()
	if held[p] {
		return nil, false, nil
	}

	f, ok, err := lockFile(p)
	if err != nil || !ok {
		return nil, false, err
	}
	held[p] = true
	return &Lock{path: p, f: f}, true, nil
}

func (l *Lock) Path() string {
	return l.path
}

// Release gives the lock up.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return ErrLockReleased
	}

	err := unlockFile(l.f)
	l.f = nil

	heldMu.Lock()
	delete(held, l.path)
	heldMu.Unlock()
	return err
}
