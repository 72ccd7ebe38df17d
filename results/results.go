package results

import (
	"encoding/json"
	"strings"
	"time"
)

// Outcome classifies how a task ended in this batch.
type Outcome string

const (
	// OutcomeCompleted means an attempt exited 0 and the task was finalized.
	OutcomeCompleted Outcome = "completed"

	// OutcomeFailed means every attempt failed and the task was finalized as failed.
	OutcomeFailed Outcome = "failed"

	// OutcomeSkipped means the task was already completed, owned by another
	// worker, or the claim was lost.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeInterrupted means shutdown stopped the task and it was reverted
	// to pending.
	OutcomeInterrupted Outcome = "interrupted"

	// OutcomeDryRun means nothing was launched.
	OutcomeDryRun Outcome = "dry-run"
)

// Valid returns true if the outcome is a known value.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeCompleted, OutcomeFailed, OutcomeSkipped, OutcomeInterrupted, OutcomeDryRun:
		return true
	default:
		return false
	}
}

// Return codes with a fixed meaning.
const (
	// TimeoutExitCode is reported when the agent was killed after the timeout.
	TimeoutExitCode = 124

	// InterruptedExitCode is reported when shutdown stopped the task.
	InterruptedExitCode = 130
)

// Result is the outcome of one task in one batch.
type Result struct {
	// Task is the absolute task file path.
	Task string

	Outcome    Outcome
	Success    bool
	ReturnCode int

	// Duration covers every attempt, including retry delays.
	Duration time.Duration

	// LogPath is the captured agent output: the temp log for a single
	// attempt, the terminal marker once the task is finalized.
	LogPath string

	// Error is empty on success.
	Error string

	Attempts   int
	WorkerID   string
	FinishedAt time.Time
}

type wireResult struct {
	File       string  `json:"file"`
	Outcome    Outcome `json:"outcome"`
	Success    bool    `json:"success"`
	ReturnCode int     `json:"return_code"`
	Duration   float64 `json:"duration"`
	Log        string  `json:"log,omitempty"`
	Error      string  `json:"error,omitempty"`
	Attempts   int     `json:"attempts"`
	WorkerID   string  `json:"worker_id,omitempty"`
	Timestamp  string  `json:"timestamp"`
}

// MarshalJSON renders durations as seconds and the finish time as RFC 3339.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireResult{
		File:       r.Task,
		Outcome:    r.Outcome,
		Success:    r.Success,
		ReturnCode: r.ReturnCode,
		Duration:   r.Duration.Seconds(),
		Log:        r.LogPath,
		Error:      r.Error,
		Attempts:   r.Attempts,
		WorkerID:   r.WorkerID,
		Timestamp:  r.FinishedAt.Format(time.RFC3339),
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *Result) UnmarshalJSON(data []byte) error {
	var w wireResult
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	finished, _ := time.Parse(time.RFC3339, w.Timestamp)
	*r = Result{
		Task:       w.File,
		Outcome:    w.Outcome,
		Success:    w.Success,
		ReturnCode: w.ReturnCode,
		Duration:   time.Duration(w.Duration * float64(time.Second)),
		LogPath:    w.Log,
		Error:      w.Error,
		Attempts:   w.Attempts,
		WorkerID:   w.WorkerID,
		FinishedAt: finished,
	}
	return nil
}

// Filter specifies criteria for listing results.
type Filter struct {
	// Outcome filters by outcome. Empty means all outcomes.
	Outcome Outcome

	// TaskPrefix filters by task path prefix.
	TaskPrefix string

	// Limit caps the number of results returned. 0 means no limit.
	Limit int
}

// Matches returns true if the result matches the filter criteria.
func (f Filter) Matches(r Result) bool {
	if f.Outcome != "" && r.Outcome != f.Outcome {
		return false
	}
	if f.TaskPrefix != "" && !strings.HasPrefix(r.Task, f.TaskPrefix) {
		return false
	}
	return true
}

// Summary counts results per outcome.
type Summary struct {
	Total       int
	Succeeded   int
	Failed      int
	Skipped     int
	Interrupted int
	DryRun      int
	Duration    time.Duration
}

// Summarize reduces results to per-outcome counts. Duration is the sum of
// task durations, not wall clock time.
func Summarize(rs []Result) Summary {
	var s Summary
	for _, r := range rs {
		s.Total++
		s.Duration += r.Duration
		switch r.Outcome {
		case OutcomeCompleted:
			s.Succeeded++
		case OutcomeFailed:
			s.Failed++
		case OutcomeSkipped:
			s.Skipped++
		case OutcomeInterrupted:
			s.Interrupted++
		case OutcomeDryRun:
			s.DryRun++
		}
	}
	return s
}

// OK reports whether no task failed.
func (s Summary) OK() bool {
	return s.Failed == 0
}
