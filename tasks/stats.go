package tasks

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vinayprograms/agentbatch/errors"
	"github.com/vinayprograms/agentbatch/markers"
)

// Counts tallies tasks per status.
type Counts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Add records one task in the given status.
func (c *Counts) Add(s Status) {
	c.Total++
	switch s {
	case StatusPending:
		c.Pending++
	case StatusInProgress:
		c.InProgress++
	case StatusCompleted:
		c.Completed++
	case StatusFailed:
		c.Failed++
	}
}

// Of returns the count for one status.
func (c Counts) Of(s Status) int {
	switch s {
	case StatusPending:
		return c.Pending
	case StatusInProgress:
		return c.InProgress
	case StatusCompleted:
		return c.Completed
	case StatusFailed:
		return c.Failed
	}
	return 0
}

// Stats counts the tasks matching pattern in dir by status.
func Stats(dir, pattern string) (Counts, error) {
	var c Counts
	files, err := markers.Discover(dir, pattern)
	if err != nil {
		return c, err
	}
	for _, f := range files {
		c.Add(fromSet(markers.ForAbs(f)).Status())
	}
	return c, nil
}

// FindStale lists tasks in dir whose in-progress marker ReclaimStale would
// remove. Nothing is modified.
func FindStale(dir, pattern string, maxAge time.Duration) ([]string, error) {
	files, err := markers.Discover(dir, pattern)
	if err != nil {
		return nil, err
	}
	var stale []string
	for _, f := range files {
		t := fromSet(markers.ForAbs(f))
		if t.Stale(maxAge) {
			stale = append(stale, f)
		}
	}
	return stale, nil
}

// CleanupStale reclaims every stale task in dir and returns how many were
// reverted to pending. Lock and scratch markers left by a crash in the middle
// of a transition are removed as well once they are older than both maxAge
// and AbandonedLockAge, so a lock held by a running claim is never touched.
func CleanupStale(dir, pattern string, maxAge time.Duration) (int, error) {
	files, err := markers.Discover(dir, pattern)
	if err != nil {
		return 0, err
	}

	var errs []error
	reclaimed := 0
	for _, f := range files {
		t := fromSet(markers.ForAbs(f))
		ok, err := t.ReclaimStale(maxAge)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			reclaimed++
		}
	}

	if err := removeAgedScratch(dir, maxAge); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return reclaimed, errors.Join(errs...)
	}
	return reclaimed, nil
}

func removeAgedScratch(dir string, maxAge time.Duration) error {
	maxAge = max(maxAge, AbandonedLockAge)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		// A single-file root has no sibling scan.
		return nil
	}
	found, err := markers.List(dir)
	if err != nil {
		return errors.MarkerIO(dir, "list markers", err)
	}
	for _, path := range found {
		name := filepath.Base(path)
		if !strings.HasPrefix(name, markers.PrefixLock) && !strings.HasPrefix(name, markers.PrefixScratch) {
			continue
		}
		if age, ok := NewLock(path).Age(); ok && age >= maxAge {
			if err := removeIfExists(path); err != nil {
				return errors.MarkerIO(path, "remove aged lock", err)
			}
		}
	}
	return nil
}

// Reset removes every marker file in dir, returning all tasks to pending.
// Callers should make sure no batch is running against dir.
func Reset(dir string) (int, error) {
	found, err := markers.List(dir)
	if err != nil {
		return 0, errors.MarkerIO(dir, "list markers", err)
	}
	removed := 0
	for _, path := range found {
		if err := removeIfExists(path); err != nil {
			return removed, errors.MarkerIO(path, "remove marker", err)
		}
		removed++
	}
	return removed, nil
}
