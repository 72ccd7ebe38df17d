package tasks

import (
	"os"
	"time"

	"github.com/vinayprograms/agentbatch/errors"
	"github.com/vinayprograms/agentbatch/markers"
)

// Task drives one task file through its states. A Task holds no state of its
// own beyond marker paths, so any number of values (in any number of
// processes) may refer to the same file.
type Task struct {
	set         markers.Set
	lockTimeout time.Duration
}

// Option configures a Task.
type Option func(*Task)

// WithLockTimeout overrides DefaultLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(t *Task) {
		if d > 0 {
			t.lockTimeout = d
		}
	}
}

// New resolves path and returns its state machine.
func New(path string, opts ...Option) (*Task, error) {
	set, err := markers.For(path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "resolve task path")
	}
	t := fromSet(set)
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func fromSet(set markers.Set) *Task {
	return &Task{set: set, lockTimeout: DefaultLockTimeout}
}

// Path returns the absolute task file path.
func (t *Task) Path() string { return t.set.Task }

// Markers returns the derived marker paths.
func (t *Task) Markers() markers.Set { return t.set }

func (t *Task) lock() *Lock { return NewLock(t.set.Lock) }

// Status derives the current state from the markers on disk.
func (t *Task) Status() Status {
	switch {
	case t.set.IsCompleted():
		return StatusCompleted
	case t.set.HasFailed():
		return StatusFailed
	case t.set.HasInProgress():
		return StatusInProgress
	default:
		return StatusPending
	}
}

// Metadata reads the in-progress marker. It returns nil when the marker is
// absent, unreadable or malformed.
func (t *Task) Metadata() *Metadata {
	data, err := os.ReadFile(t.set.InProgress)
	if err != nil {
		return nil
	}
	m, err := DecodeMetadata(data)
	if err != nil {
		return nil
	}
	return m
}

func (t *Task) claimable() bool {
	return !t.set.IsCompleted() && !t.set.HasInProgress()
}

// Claim moves a pending (or failed) task to in_progress with meta as the
// marker content. It returns false when the task is completed, already in
// progress, or another caller holds the lock past the lock timeout.
func (t *Task) Claim(meta Metadata) (bool, error) {
	if !t.claimable() {
		return false, nil
	}

	lock := t.lock()
	if !lock.Acquire(t.lockTimeout) {
		return false, nil
	}
	defer lock.Release()

	if !t.claimable() {
		return false, nil
	}

	data, err := meta.Encode()
	if err != nil {
		return false, errors.MarkerIO(t.set.Task, "encode metadata", err)
	}
	if err := t.publish(data); err != nil {
		return false, err
	}
	return true, nil
}

// Update rewrites the metadata of a task its caller already owns, for
// example to record the current attempt. It returns false when the task is
// no longer in progress.
func (t *Task) Update(meta Metadata) (bool, error) {
	if !t.set.HasInProgress() {
		return false, nil
	}
	data, err := meta.Encode()
	if err != nil {
		return false, errors.MarkerIO(t.set.Task, "encode metadata", err)
	}
	if err := t.publish(data); err != nil {
		return false, err
	}
	return true, nil
}

// publish writes data to a scratch file in the task directory and renames it
// onto the in-progress marker so readers never see a partial write.
func (t *Task) publish(data []byte) error {
	tmp, err := os.CreateTemp(t.set.Dir, markers.PrefixScratch)
	if err != nil {
		return errors.MarkerIO(t.set.Task, "create scratch marker", err)
	}
	name := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return errors.MarkerIO(t.set.Task, "write scratch marker", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return errors.MarkerIO(t.set.Task, "close scratch marker", err)
	}
	if err := os.Rename(name, t.set.InProgress); err != nil {
		os.Remove(name)
		return errors.MarkerIO(t.set.Task, "publish in-progress marker", err)
	}
	return nil
}

// FinalizeSuccess moves an in_progress task to completed, keeping the
// captured log as the marker content and dropping any failed marker left by
// an earlier batch. It returns false when the task is not in progress.
func (t *Task) FinalizeSuccess() (bool, error) {
	return t.finalize(t.set.Completed, true)
}

// FinalizeFailure moves an in_progress task to failed.
func (t *Task) FinalizeFailure() (bool, error) {
	return t.finalize(t.set.Failed, false)
}

func (t *Task) finalize(terminal string, success bool) (bool, error) {
	if !t.set.HasInProgress() {
		return false, nil
	}

	if t.set.HasTempLog() {
		if err := os.Rename(t.set.TempLog, terminal); err != nil {
			return false, errors.MarkerIO(t.set.Task, "rename output log", err)
		}
	} else if err := touch(terminal); err != nil {
		return false, errors.MarkerIO(t.set.Task, "create terminal marker", err)
	}

	// The terminal marker now outranks in-progress, so a failure below still
	// leaves the task in its final state.
	if err := removeIfExists(t.set.InProgress); err != nil {
		return false, errors.MarkerIO(t.set.Task, "remove in-progress marker", err)
	}
	if success {
		if err := removeIfExists(t.set.Failed); err != nil {
			return false, errors.MarkerIO(t.set.Task, "remove failed marker", err)
		}
	}
	return true, nil
}

// Stale reports whether the in-progress marker is at least maxAge old and
// its recorded owner is gone. Missing or malformed metadata counts as a dead
// owner.
func (t *Task) Stale(maxAge time.Duration) bool {
	info, err := os.Lstat(t.set.InProgress)
	if err != nil {
		return false
	}
	if time.Since(info.ModTime()) < maxAge {
		return false
	}
	if meta := t.Metadata(); meta != nil && meta.PID != nil && processAlive(*meta.PID) {
		return false
	}
	return true
}

// ReclaimStale reverts an orphaned in_progress task to pending. A marker
// whose recorded process is alive is never reclaimed, whatever its age.
func (t *Task) ReclaimStale(maxAge time.Duration) (bool, error) {
	if !t.Stale(maxAge) {
		return false, nil
	}

	lock := t.lock()
	if !lock.Acquire(t.lockTimeout) {
		return false, nil
	}
	defer lock.Release()

	// The owner may have finalized or a new claim may have landed meanwhile.
	if !t.Stale(maxAge) {
		return false, nil
	}
	if err := os.Remove(t.set.InProgress); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.MarkerIO(t.set.Task, "remove stale in-progress marker", err)
	}
	_ = removeIfExists(t.set.TempLog)
	return true, nil
}

// Release reverts an in_progress task to pending without recording an
// outcome. Workers use it when shutdown interrupts an attempt.
func (t *Task) Release() (bool, error) {
	if !t.set.HasInProgress() {
		return false, nil
	}
	if err := os.Remove(t.set.InProgress); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.MarkerIO(t.set.Task, "remove in-progress marker", err)
	}
	_ = removeIfExists(t.set.TempLog)
	return true, nil
}

// Reopen removes terminal markers so a completed or failed task can be
// claimed again. It refuses while an attempt is in progress.
func (t *Task) Reopen() (bool, error) {
	if !t.set.IsCompleted() && !t.set.HasFailed() {
		return false, nil
	}

	lock := t.lock()
	if !lock.Acquire(t.lockTimeout) {
		return false, nil
	}
	defer lock.Release()

	if t.set.HasInProgress() {
		return false, nil
	}
	removed := false
	for _, p := range []string{t.set.Completed, t.set.LegacyCompleted, t.set.Failed} {
		err := os.Remove(p)
		switch {
		case err == nil:
			removed = true
		case !os.IsNotExist(err):
			return false, errors.MarkerIO(t.set.Task, "remove terminal marker", err)
		}
	}
	return removed, nil
}

func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
