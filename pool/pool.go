package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/agentbatch/results"
	"github.com/vinayprograms/agentbatch/runner"
)

// Executor runs one attempt of an agent against a task file.
// *runner.Runner satisfies it.
type Executor interface {
	Execute(ctx context.Context, task string, reg *runner.Registry) results.Result
	AgentName() string
	Model() string
}

// previewer is implemented by executors that can describe a launch without
// performing it.
type previewer interface {
	CommandLine(task string) string
}

// session is the state shared by the workers of one batch.
type session struct {
	stopped atomic.Bool
	reason  atomic.Value

	// ctx is canceled when the batch is asked to stop. It carries the
	// batch span but none of the caller's cancellation.
	ctx    context.Context
	cancel context.CancelFunc

	procs *runner.Registry
}

func newSession(parent context.Context) *session {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &session{ctx: ctx, cancel: cancel, procs: runner.NewRegistry()}
}

// stop raises the shutdown flag. It returns false if it was already raised.
func (s *session) stop(reason string) bool {
	if !s.stopped.CompareAndSwap(false, true) {
		return false
	}
	s.reason.Store(reason)
	s.cancel()
	return true
}

func (s *session) stopping() bool { return s.stopped.Load() }

// sleep waits for d and reports whether it ran to completion.
func (s *session) sleep(d time.Duration) bool {
	if s.stopping() {
		return false
	}
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return !s.stopping()
	case <-s.ctx.Done():
		return false
	}
}

// Pool runs batches of tasks with a fixed number of workers. Batches on one
// Pool run one at a time; use separate pools for independent batches.
type Pool struct {
	exec Executor
	cfg  Config

	mu   sync.Mutex
	sess *session

	emitMu sync.Mutex
}

// New creates a pool that runs exec.
func New(exec Executor, cfg Config) *Pool {
	return &Pool{exec: exec, cfg: cfg.normalized()}
}

// Config returns the effective configuration.
func (p *Pool) Config() Config { return p.cfg }

type job struct {
	index int
	path  string
}

// RunBatch handles every path and returns one result per path, in input
// order. Canceling ctx is equivalent to calling Shutdown. RunBatch never
// returns an error: failures are reported in the results.
func (p *Pool) RunBatch(ctx context.Context, paths []string) []results.Result {
	start := time.Now()
	workers := p.cfg.Concurrency
	if len(paths) < workers && len(paths) > 0 {
		workers = len(paths)
	}

	ctx, span := p.cfg.Tracer.StartBatchSpan(ctx, len(paths), workers)
	defer span.End()

	s := newSession(ctx)
	p.mu.Lock()
	p.sess = s
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		if p.sess == s {
			p.sess = nil
		}
		p.mu.Unlock()
		s.cancel()
	}()

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			p.shutdown(s, "context canceled")
		case <-watchDone:
		}
	}()

	queue := make(chan job, len(paths))
	for i, path := range paths {
		queue <- job{index: i, path: path}
	}
	close(queue)

	out := make([]results.Result, len(paths))
	p.cfg.Metrics.SetCapacity(workers)
	p.cfg.Logger.Info("batch_start", map[string]interface{}{
		"tasks":   len(paths),
		"workers": workers,
		"agent":   p.exec.AgentName(),
		"model":   p.exec.Model(),
		"dry_run": p.cfg.DryRun,
	})

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		w := &worker{id: newWorkerID(), pool: p, sess: s}
		g.Go(func() error {
			for j := range queue {
				out[j.index] = w.next(j.path)
				p.emit(out[j.index])
			}
			return nil
		})
	}
	_ = g.Wait()

	sum := results.Summarize(out)
	p.cfg.Logger.Info("batch_finished", map[string]interface{}{
		"total":       sum.Total,
		"succeeded":   sum.Succeeded,
		"failed":      sum.Failed,
		"skipped":     sum.Skipped,
		"interrupted": sum.Interrupted,
		"duration":    time.Since(start).Round(time.Millisecond).String(),
	})
	return out
}

// Shutdown stops the running batch: workers stop picking up tasks and
// retries, and running agents get SIGTERM then SIGKILL after the kill
// grace. It blocks until the agents have exited or been killed. Calling it
// with no batch running, or more than once, does nothing.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	s := p.sess
	p.mu.Unlock()
	if s != nil {
		p.shutdown(s, "shutdown requested")
	}
}

func (p *Pool) shutdown(s *session, reason string) {
	if !s.stop(reason) {
		return
	}
	p.cfg.Logger.ShutdownRequested(reason, s.procs.PIDs())
	if killed := s.procs.TerminateAll(p.cfg.KillGrace); killed > 0 {
		p.cfg.Logger.Warn("agents_killed", map[string]interface{}{"count": killed})
	}
}

// Running returns the number of agent processes of the current batch.
func (p *Pool) Running() int {
	p.mu.Lock()
	s := p.sess
	p.mu.Unlock()
	if s == nil {
		return 0
	}
	return s.procs.Len()
}

func (p *Pool) emit(r results.Result) {
	if p.cfg.Collector != nil {
		_ = p.cfg.Collector.Add(r)
	}
	if p.cfg.OnResult != nil {
		p.emitMu.Lock()
		defer p.emitMu.Unlock()
		p.cfg.OnResult(r)
	}
}

func newWorkerID() string {
	return uuid.New().String()[:8]
}
