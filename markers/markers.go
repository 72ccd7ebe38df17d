// Package markers maps a task file to the family of sibling marker files that
// encode its state. It only computes names and checks existence; transitions
// live in package tasks.
package markers

import (
	"os"
	"path/filepath"
	"strings"
)

// Marker name prefixes. These must match existing task directories exactly.
const (
	PrefixInProgress      = "in-progress-"
	PrefixCompleted       = "done_exec_log-"
	PrefixFailed          = "failed_exec_log-"
	PrefixLock            = ".lock-"
	PrefixTempLog         = ".tmp_exec_log-"
	PrefixLegacyCompleted = "completed_"

	// PrefixScratch names the temporary file metadata is written to before it
	// is renamed onto the in-progress marker.
	PrefixScratch = ".tmp_marker_"

	logSuffix = ".txt"
)

// Prefixes lists every prefix that identifies a marker rather than a task.
var Prefixes = []string{
	PrefixInProgress,
	PrefixCompleted,
	PrefixFailed,
	PrefixLock,
	PrefixTempLog,
	PrefixLegacyCompleted,
	PrefixScratch,
}

// Set holds the marker paths derived from one task file.
type Set struct {
	Task string // absolute path of the task file
	Dir  string
	Name string

	InProgress      string
	Completed       string
	LegacyCompleted string
	Failed          string
	Lock            string
	TempLog         string
}

// For resolves path and derives its marker set.
func For(path string) (Set, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Set{}, err
	}
	return ForAbs(abs), nil
}

// ForAbs derives the marker set for an already-absolute path.
func ForAbs(abs string) Set {
	dir, name := filepath.Split(abs)
	dir = filepath.Clean(dir)
	return Set{
		Task:            abs,
		Dir:             dir,
		Name:            name,
		InProgress:      filepath.Join(dir, PrefixInProgress+name),
		Completed:       filepath.Join(dir, PrefixCompleted+name+logSuffix),
		LegacyCompleted: filepath.Join(dir, PrefixLegacyCompleted+name+logSuffix),
		Failed:          filepath.Join(dir, PrefixFailed+name+logSuffix),
		Lock:            filepath.Join(dir, PrefixLock+name),
		TempLog:         filepath.Join(dir, PrefixTempLog+name+logSuffix),
	}
}

// HasInProgress reports whether an attempt is active.
func (s Set) HasInProgress() bool { return exists(s.InProgress) }

// IsCompleted reports whether either completed variant exists.
func (s Set) IsCompleted() bool { return exists(s.Completed) || exists(s.LegacyCompleted) }

// HasFailed reports whether the failed marker exists.
func (s Set) HasFailed() bool { return exists(s.Failed) }

// HasLock reports whether a transition lock is held.
func (s Set) HasLock() bool { return exists(s.Lock) }

// HasTempLog reports whether a scratch output log exists.
func (s Set) HasTempLog() bool { return exists(s.TempLog) }

// IsMarker reports whether a file name belongs to the marker family.
func IsMarker(name string) bool {
	for _, p := range Prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
