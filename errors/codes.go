package errors

// ErrorCategory classifies errors by their retry semantics.
type ErrorCategory string

const (
	// CategoryTransient indicates a failure where another attempt may succeed.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates a failure where retry will not help.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates unexpected errors or filesystem breakage.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies a specific failure.
type ErrorCode string

const (
	ErrCodeClaimLost     ErrorCode = "CLAIM_LOST"     // Another worker owns the task
	ErrCodeProcessFailed ErrorCode = "PROCESS_FAILED" // Agent exited non-zero
	ErrCodeTimeout       ErrorCode = "TIMEOUT"        // Agent killed after timeout
	ErrCodeInterrupted   ErrorCode = "INTERRUPTED"    // Shutdown requested

	ErrCodeSpawnFailed  ErrorCode = "SPAWN_FAILED"  // Agent could not be started
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT" // Bad path, pattern or config

	ErrCodeMarkerIO    ErrorCode = "MARKER_IO"    // Marker filesystem operation failed
	ErrCodeStaleMarker ErrorCode = "STALE_MARKER" // Orphaned in-progress marker
	ErrCodeInternal    ErrorCode = "INTERNAL"     // Unexpected internal error
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeClaimLost, ErrCodeProcessFailed, ErrCodeTimeout, ErrCodeStaleMarker:
		return CategoryTransient
	case ErrCodeInterrupted, ErrCodeSpawnFailed, ErrCodeInvalidInput:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeClaimLost:     "task claimed by another worker",
	ErrCodeProcessFailed: "agent process failed",
	ErrCodeTimeout:       "agent process timed out",
	ErrCodeInterrupted:   "shutdown requested",
	ErrCodeSpawnFailed:   "agent process could not be started",
	ErrCodeInvalidInput:  "invalid input",
	ErrCodeMarkerIO:      "marker I/O failed",
	ErrCodeStaleMarker:   "stale in-progress marker",
	ErrCodeInternal:      "internal error",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
