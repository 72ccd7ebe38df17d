// Package errors provides the structured error taxonomy used by the task
// coordination engine.
//
// # Error Categories
//
// Errors are classified into three categories:
//
//   - Transient: the same operation may succeed on a later attempt (agent exit,
//     timeout, a marker race).
//   - Permanent: retrying will not help (invalid input, a missing executable).
//   - Internal: unexpected failures indicating a bug or a broken filesystem.
//
// # Error Codes
//
// Each error carries a code naming the failure:
//
//   - CLAIM_LOST: another worker won the race for a task (a normal skip)
//   - PROCESS_FAILED: the agent exited non-zero
//   - TIMEOUT: the agent exceeded its time budget and was killed
//   - MARKER_IO: a marker read/write/rename failed; the transition was aborted
//   - STALE_MARKER: an orphaned in-progress marker was found
//   - INTERRUPTED: shutdown was requested while the task was held
//
// # Usage
//
//	err := errors.New(errors.ErrCodeMarkerIO, "rename in-progress marker",
//	    errors.WithCause(ioErr), errors.WithTaskID(path))
//
//	if errors.IsRetryable(err) {
//	    // schedule another attempt
//	}
//
// None of these errors escape a batch run; the worker pool resolves them and
// reports the message on the task's result.
package errors
