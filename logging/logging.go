// Package logging provides real-time console output for batch runs.
// Marker files are the durable record of what happened to each task; this
// package only reports progress while a batch is running.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a case-insensitive level name. Unknown names yield INFO
// and ok=false.
func ParseLevel(s string) (Level, bool) {
	lvl := Level(strings.ToUpper(strings.TrimSpace(s)))
	if lvl == "WARNING" {
		lvl = LevelWarn
	}
	if _, ok := levelPriority[lvl]; !ok {
		return LevelInfo, false
	}
	return lvl, true
}

// sink is shared by a logger and every logger derived from it, so writes from
// concurrent workers never interleave within a line.
type sink struct {
	mu       sync.Mutex
	output   io.Writer
	minLevel Level
}

// Logger writes levelled key=value lines.
type Logger struct {
	sink      *sink
	component string
}

// New creates a new Logger writing INFO and above to stderr.
func New() *Logger {
	return &Logger{sink: &sink{output: os.Stderr, minLevel: LevelInfo}}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{sink: &sink{output: io.Discard, minLevel: LevelError}}
}

// WithComponent returns a logger sharing this logger's output and level.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{sink: l.sink, component: component}
}

// SetLevel sets the minimum log level for this logger and its derivatives.
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	l.sink.minLevel = level
	l.sink.mu.Unlock()
}

// SetOutput sets the output writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	l.sink.output = w
	l.sink.mu.Unlock()
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields renders fields as key=value pairs in key order.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

// log writes: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if levelPriority[level] < levelPriority[l.sink.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}
	io.WriteString(l.sink.output, line)
}

// --- Task lifecycle events ---

// TaskSkipped logs a task that was not attempted.
func (l *Logger) TaskSkipped(task, worker, reason string) {
	l.Info("task_skipped", map[string]interface{}{
		"task":   task,
		"worker": worker,
		"reason": reason,
	})
}

// TaskClaimed logs a successful claim.
func (l *Logger) TaskClaimed(task, worker string) {
	l.Debug("task_claimed", map[string]interface{}{
		"task":   task,
		"worker": worker,
	})
}

// AttemptStart logs the launch of one attempt.
func (l *Logger) AttemptStart(task, worker string, attempt, maxAttempts int) {
	l.Info("attempt_start", map[string]interface{}{
		"task":    task,
		"worker":  worker,
		"attempt": fmt.Sprintf("%d/%d", attempt, maxAttempts),
	})
}

// AttemptFailed logs a failed attempt that may be retried.
func (l *Logger) AttemptFailed(task string, attempt, returnCode int, duration time.Duration, msg string) {
	fields := map[string]interface{}{
		"task":     task,
		"attempt":  attempt,
		"rc":       returnCode,
		"duration": duration.Round(time.Millisecond).String(),
	}
	if msg != "" {
		fields["error"] = msg
	}
	l.Warn("attempt_failed", fields)
}

// TaskFinished logs the terminal outcome of a task in this session.
func (l *Logger) TaskFinished(task, outcome string, attempts int, duration time.Duration) {
	fields := map[string]interface{}{
		"task":     task,
		"outcome":  outcome,
		"attempts": attempts,
		"duration": duration.Round(time.Millisecond).String(),
	}
	if outcome == "failed" {
		l.Error("task_finished", fields)
		return
	}
	l.Info("task_finished", fields)
}

// StaleReclaimed logs removal of an orphaned in-progress marker.
func (l *Logger) StaleReclaimed(task, worker string, pid int) {
	l.Info("stale_reclaimed", map[string]interface{}{
		"task":   task,
		"worker": worker,
		"pid":    pid,
	})
}

// ShutdownRequested logs the start of cooperative shutdown with the pids of
// the agents about to be signalled.
func (l *Logger) ShutdownRequested(reason string, pids []int) {
	fields := map[string]interface{}{
		"reason":    reason,
		"in_flight": len(pids),
	}
	if len(pids) > 0 {
		fields["pids"] = pids
	}
	l.Warn("shutdown_requested", fields)
}
