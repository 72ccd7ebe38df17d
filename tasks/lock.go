package tasks

import (
	"os"
	"time"
)

const (
	// DefaultLockTimeout bounds how long a transition waits for the lock.
	DefaultLockTimeout = 5 * time.Second

	// LockPollInterval is the sleep between exclusive-create attempts.
	LockPollInterval = 100 * time.Millisecond

	// AbandonedLockAge is the minimum age before a lock or scratch marker is
	// treated as left behind by a crash. A live transition never holds the
	// lock this long.
	AbandonedLockAge = 12 * DefaultLockTimeout
)

// Lock is a per-task mutual exclusion primitive backed by an exclusively
// created marker file. It brackets a single transition and is never held
// while an agent runs.
type Lock struct {
	path string
}

// NewLock returns a lock on the given marker path.
func NewLock(path string) *Lock {
	return &Lock{path: path}
}

// Path returns the lock marker path.
func (l *Lock) Path() string { return l.path }

// Acquire polls until the lock marker is created or timeout elapses.
// At least one attempt is always made. Errors other than "already exists"
// fail immediately.
func (l *Lock) Acquire(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			return true
		}
		if !os.IsExist(err) {
			return false
		}
		if time.Now().Add(LockPollInterval).After(deadline) {
			return false
		}
		time.Sleep(LockPollInterval)
	}
}

// Release removes the lock marker. A missing marker is not an error.
func (l *Lock) Release() {
	_ = os.Remove(l.path)
}

// Age reports how long the lock marker has existed. ok is false when no
// marker is present.
func (l *Lock) Age() (age time.Duration, ok bool) {
	info, err := os.Lstat(l.path)
	if err != nil {
		return 0, false
	}
	return time.Since(info.ModTime()), true
}
