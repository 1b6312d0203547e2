package denylist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFileName is created in the storage root while a process owns it.
const LockFileName = "ssh-gate.lock"

// ErrStorageLocked is returned when another process already owns the storage root.
var ErrStorageLocked = errors.New("storage root is in use by another process")

// DirLock is an exclusive advisory lock on a storage root. Only one Controller
// may write a root at a time, otherwise the last writer's in-memory copy wins.
type DirLock struct {
	fl *flock.Flock
}

// LockDir takes the lock on dir without waiting.
func LockDir(dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	fl := flock.New(filepath.Join(dir, LockFileName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", dir, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", dir, ErrStorageLocked)
	}
	return &DirLock{fl: fl}, nil
}

func (l *DirLock) Unlock() error {
	return l.fl.Unlock()
}
