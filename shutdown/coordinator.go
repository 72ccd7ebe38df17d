package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/vinayprograms/agentbatch/errors"
)

type entry struct {
	name  string
	phase int
	hook  Hook
}

// Coordinator runs hooks once, in phase order.
type Coordinator struct {
	cfg Config

	mu      sync.Mutex
	hooks   []entry
	started bool
	report  *Report

	requested chan struct{}
	done      chan struct{}
	once      sync.Once
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.OnForce == nil {
		cfg.OnForce = func(os.Signal) { os.Exit(ForcedExitCode) }
	}
	return &Coordinator{
		cfg:       cfg,
		requested: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Register adds a hook. Hooks registered after the drain began are ignored.
func (c *Coordinator) Register(name string, phase int, h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.hooks = append(c.hooks, entry{name: name, phase: phase, hook: h})
}

// RegisterFunc adds a function hook.
func (c *Coordinator) RegisterFunc(name string, phase int, fn func(ctx context.Context) error) {
	c.Register(name, phase, HookFunc(fn))
}

// Requested is closed as soon as a drain starts.
func (c *Coordinator) Requested() <-chan struct{} {
	return c.requested
}

// Done is closed after every hook has returned.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Report returns the drain report, or nil before completion.
func (c *Coordinator) Report() *Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report
}

// Err returns the drain error, if any.
func (c *Coordinator) Err() error {
	if r := c.Report(); r != nil {
		return r.Err
	}
	return nil
}

// Shutdown drains with the configured timeout. Only the first call runs
// hooks; later calls wait for it and return its error.
func (c *Coordinator) Shutdown(reason string) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	return c.ShutdownContext(ctx, reason)
}

// ShutdownContext drains under ctx.
func (c *Coordinator) ShutdownContext(ctx context.Context, reason string) error {
	c.once.Do(func() {
		c.mu.Lock()
		c.started = true
		hooks := append([]entry(nil), c.hooks...)
		c.mu.Unlock()
		close(c.requested)

		report := c.drain(ctx, reason, hooks)

		c.mu.Lock()
		c.report = report
		c.mu.Unlock()
		close(c.done)
	})
	<-c.done
	return c.Err()
}

func (c *Coordinator) drain(ctx context.Context, reason string, hooks []entry) *Report {
	start := time.Now()
	report := &Report{Reason: reason}

	sort.SliceStable(hooks, func(i, j int) bool { return hooks[i].phase < hooks[j].phase })

	var failed []error
	for i := 0; i < len(hooks); {
		j := i
		for j < len(hooks) && hooks[j].phase == hooks[i].phase {
			j++
		}
		results := c.runPhase(ctx, hooks[i:j])
		report.Hooks = append(report.Hooks, results...)
		for _, r := range results {
			switch {
			case r.TimedOut:
				failed = append(failed, fmt.Errorf("%s: timed out", r.Name))
			case r.Err != nil:
				failed = append(failed, fmt.Errorf("%s: %w", r.Name, r.Err))
			}
		}
		if len(failed) > 0 && !c.cfg.ContinueOnError {
			break
		}
		if ctx.Err() != nil {
			break
		}
		i = j
	}

	report.Duration = time.Since(start)
	if len(failed) > 0 {
		report.Err = errors.WrapWithCode(errors.Join(failed...), errors.ErrCodeInternal, "shutdown incomplete")
	}
	return report
}

func (c *Coordinator) runPhase(ctx context.Context, group []entry) []HookResult {
	out := make([]HookResult, len(group))
	var wg sync.WaitGroup
	for i, e := range group {
		wg.Add(1)
		go func(i int, e entry) {
			defer wg.Done()
			out[i] = c.runHook(ctx, e)
			if c.cfg.OnHook != nil {
				c.cfg.OnHook(out[i])
			}
		}(i, e)
	}
	wg.Wait()
	return out
}

func (c *Coordinator) runHook(ctx context.Context, e entry) HookResult {
	start := time.Now()
	res := HookResult{Name: e.name, Phase: e.phase}

	errc := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				errc <- fmt.Errorf("panic: %v", p)
			}
		}()
		errc <- e.hook.OnShutdown(ctx)
	}()

	select {
	case err := <-errc:
		res.Err = err
	case <-ctx.Done():
		res.TimedOut = true
	}
	res.Duration = time.Since(start)
	return res
}

// HandleSignals drains on the first SIGINT or SIGTERM and calls the force
// hook on the second. The returned function stops listening.
func (c *Coordinator) HandleSignals() func() {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	return c.watch(sigs, func() { signal.Stop(sigs) })
}

func (c *Coordinator) watch(sigs <-chan os.Signal, release func()) func() {
	quit := make(chan struct{})
	go func() {
		var first os.Signal
		for {
			select {
			case <-quit:
				return
			case sig := <-sigs:
				if first != nil {
					c.cfg.OnForce(sig)
					continue
				}
				first = sig
				if c.cfg.OnSignal != nil {
					c.cfg.OnSignal(sig)
				}
				go c.Shutdown(sig.String())
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			release()
			close(quit)
		})
	}
}
