// Package lockfile provides a non-blocking exclusive lock that holds both
// within the process and across processes sharing the same file.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Lock combines a size-1 channel token for in-process exclusion with
// flock(2) on a fresh fd per acquisition for cross-process exclusion.
type Lock struct {
	path string
	ch   chan struct{}
	fl   *flock.Flock // non-nil while held
}

// New creates a Lock for path. The file is created on first acquisition.
func New(path string) *Lock {
	return &Lock{path: path, ch: make(chan struct{}, 1)}
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// TryLock attempts a non-blocking acquisition.
// Returns (false, nil) if the lock is currently held by another caller.
func (l *Lock) TryLock() (bool, error) {
	select {
	case l.ch <- struct{}{}:
	default:
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		<-l.ch
		return false, fmt.Errorf("create lock dir: %w", err)
	}
	fl := flock.New(l.path)
	ok, err := fl.TryLock()
	if err != nil || !ok {
		<-l.ch
		if err != nil {
			return false, fmt.Errorf("flock %s: %w", l.path, err)
		}
		return false, nil
	}
	l.fl = fl
	return true, nil
}

// Unlock releases the lock.
func (l *Lock) Unlock() error {
	var err error
	if l.fl != nil {
		err = l.fl.Unlock()
		l.fl = nil
	}
	select {
	case <-l.ch:
	default:
	}
	if err != nil {
		return fmt.Errorf("release flock %s: %w", l.path, err)
	}
	return nil
}
