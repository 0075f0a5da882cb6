// Package lock keeps a second launcher from supervising the same server.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrLockedElsewhere is returned when another process holds the lock.
var ErrLockedElsewhere = errors.New("lock file already held by another launcher")

// Lock is an acquired single-instance lock.
type Lock struct {
	l *flock.Flock
}

// Acquire takes an exclusive flock on path without waiting.
func Acquire(path string) (*Lock, error) {
	return acquire(nil, path)
}

// AcquireWait takes the lock, retrying until ctx is done.
func AcquireWait(ctx context.Context, path string) (*Lock, error) {
	return acquire(ctx, path)
}

func acquire(ctx context.Context, path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	l := flock.New(path)

	var (
		locked bool
		err    error
	)
	if ctx != nil {
		locked, err = l.TryLockContext(ctx, 25*time.Millisecond)
	} else {
		locked, err = l.TryLock()
	}
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !locked {
		return nil, ErrLockedElsewhere
	}
	return &Lock{l: l}, nil
}

func (l *Lock) Path() string { return l.l.Path() }

// Release unlocks. The file is left in place.
func (l *Lock) Release() error {
	return l.l.Unlock()
}
