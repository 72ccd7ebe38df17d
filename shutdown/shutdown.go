package shutdown

import (
	"context"
	"os"
	"time"
)

// Phases for batch runs. Lower phases run first.
const (
	PhaseStopWork        = 10
	PhaseTerminateAgents = 20
	PhaseFlush           = 30
)

// ForcedExitCode is the status used when a second signal arrives mid-drain.
const ForcedExitCode = 130

// Hook is a component that takes part in draining a run.
type Hook interface {
	OnShutdown(ctx context.Context) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context) error

// OnShutdown implements Hook.
func (f HookFunc) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// HookResult records how one hook finished.
type HookResult struct {
	Name     string
	Phase    int
	Err      error
	Duration time.Duration
	TimedOut bool
}

// Report summarizes a completed drain.
type Report struct {
	Reason   string
	Hooks    []HookResult
	Duration time.Duration
	Err      error
}

// Failed reports whether any hook returned an error or timed out.
func (r *Report) Failed() bool {
	if r == nil {
		return false
	}
	for _, h := range r.Hooks {
		if h.Err != nil || h.TimedOut {
			return true
		}
	}
	return false
}

// Config controls drain behavior.
type Config struct {
	// Timeout bounds the whole drain.
	Timeout time.Duration

	// ContinueOnError keeps running later phases after a hook fails.
	ContinueOnError bool

	// OnSignal is called with the first signal received, before the drain starts.
	OnSignal func(sig os.Signal)

	// OnForce is called when a second signal arrives. Defaults to os.Exit(ForcedExitCode).
	OnForce func(sig os.Signal)

	// OnHook is called as each hook completes.
	OnHook func(r HookResult)
}

// DefaultConfig returns a 30 second drain that continues past failures.
func DefaultConfig() Config {
	return Config{
		Timeout:         30 * time.Second,
		ContinueOnError: true,
	}
}
