package pool

import (
	"time"

	"github.com/vinayprograms/agentbatch/logging"
	"github.com/vinayprograms/agentbatch/metrics"
	"github.com/vinayprograms/agentbatch/ratelimit"
	"github.com/vinayprograms/agentbatch/results"
	"github.com/vinayprograms/agentbatch/runner"
	"github.com/vinayprograms/agentbatch/tasks"
	"github.com/vinayprograms/agentbatch/telemetry"
)

const (
	MaxConcurrency    = 32
	DefaultRetryDelay = 5 * time.Second
	DefaultPacing     = time.Second
)

// LaunchResource is the limiter resource consulted before every agent launch.
const LaunchResource = "agent-launch"

// Config controls a pool.
type Config struct {
	// Concurrency is the worker count, clamped to 1..MaxConcurrency.
	Concurrency int

	// Retries is the number of extra attempts after the first failure.
	Retries int

	// RetryDelay is the pause between attempts of one task.
	RetryDelay time.Duration

	// Pacing is the pause a worker takes after every task, skipped ones included.
	Pacing time.Duration

	// SkipCompleted leaves completed tasks alone. When false, terminal
	// markers are dropped and the task runs again.
	SkipCompleted bool

	// DryRun reports what would run without claiming or launching anything.
	DryRun bool

	// StaleAfter, when positive, lets a worker reclaim an in-progress marker
	// of at least this age whose owner is gone, instead of skipping the task.
	StaleAfter time.Duration

	LockTimeout time.Duration

	// KillGrace is how long Shutdown waits after SIGTERM before SIGKILL.
	KillGrace time.Duration

	Logger  *logging.Logger
	Metrics *metrics.Metrics
	Tracer  *telemetry.Tracer

	// Limiter, when set, bounds agent launches across workers via LaunchResource.
	Limiter *ratelimit.Limiter

	// Collector receives every result as it is produced.
	Collector *results.Collector

	// OnResult is called once per result. Calls are serialized.
	OnResult func(results.Result)
}

// DefaultConfig returns a single worker, no retries, 5 s retry delay and
// 1 s pacing with completed tasks skipped.
func DefaultConfig() Config {
	return Config{
		Concurrency:   1,
		RetryDelay:    DefaultRetryDelay,
		Pacing:        DefaultPacing,
		SkipCompleted: true,
		LockTimeout:   tasks.DefaultLockTimeout,
		KillGrace:     runner.DefaultKillGrace,
	}
}

func (c Config) normalized() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.Concurrency > MaxConcurrency {
		c.Concurrency = MaxConcurrency
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.Pacing < 0 {
		c.Pacing = 0
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = tasks.DefaultLockTimeout
	}
	if c.KillGrace <= 0 {
		c.KillGrace = runner.DefaultKillGrace
	}
	if c.Logger == nil {
		c.Logger = logging.Discard()
	}
	if c.Tracer == nil {
		c.Tracer = telemetry.GetTracer()
	}
	return c
}

// MaxAttempts is the attempt budget per task.
func (c Config) MaxAttempts() int {
	if c.Retries < 0 {
		return 1
	}
	return c.Retries + 1
}
