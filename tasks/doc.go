// Package tasks implements the task state machine on top of filesystem
// markers.
//
// A task is a file on disk. Its state is never stored as a field; it is
// derived from which sibling markers exist (see package markers):
//
//	pending ──Claim──▶ in_progress ──FinalizeSuccess──▶ completed
//	   ▲                   │
//	   │                   └──────FinalizeFailure──▶ failed
//	   └──ReclaimStale / Release──┘
//
// When several markers coexist, completed wins over failed, and failed wins
// over in_progress.
//
// # Coordination
//
// The only primitives that must be atomic are exclusive create (used by
// Lock) and rename (used to publish metadata and terminal logs). Claim runs
// check, lock, re-check, write so that at most one of any number of racing
// callers sees true. The lock is held only for the duration of one
// transition, never while an agent runs; the in-progress marker is the
// long-lived ownership signal.
//
// # Crash recovery
//
// There is no heartbeat. A worker that dies leaves its in-progress marker
// behind and ReclaimStale removes it once the marker is older than a caller
// supplied threshold and the recorded process is gone. Pick the threshold
// above the longest legitimate run time: a live owner whose process id is not
// visible from this host can otherwise be reclaimed while still running.
//
// # Errors
//
// Transitions return (bool, error). false with a nil error means the
// transition did not apply (wrong state, lost race). A non-nil error carries
// errors.ErrCodeMarkerIO and the task is left in its prior observable state.
package tasks
