package tasks

// Status is the state of a task as derived from its markers.
type Status string

const (
	// StatusPending indicates no markers exist.
	StatusPending Status = "pending"

	// StatusInProgress indicates an attempt holds the in-progress marker.
	StatusInProgress Status = "in_progress"

	// StatusCompleted indicates a completed marker (current or legacy) exists.
	StatusCompleted Status = "completed"

	// StatusFailed indicates retries were exhausted.
	StatusFailed Status = "failed"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusPending, StatusInProgress, StatusCompleted, StatusFailed}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}
