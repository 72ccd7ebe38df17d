package shutdown

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

func TestShutdownRunsPhasesInOrder(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}
	coord.RegisterFunc("flush", PhaseFlush, record("flush"))
	coord.RegisterFunc("pool", PhaseStopWork, record("pool"))
	coord.RegisterFunc("agents", PhaseTerminateAgents, record("agents"))

	if err := coord.Shutdown("test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"pool", "agents", "flush"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}

	r := coord.Report()
	if r == nil || r.Reason != "test" || len(r.Hooks) != 3 || r.Failed() {
		t.Fatalf("unexpected report: %+v", r)
	}
	select {
	case <-coord.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestSamePhaseRunsConcurrently(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())

	var running, peak int32
	hook := func(context.Context) error {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	}
	coord.RegisterFunc("a", PhaseFlush, hook)
	coord.RegisterFunc("b", PhaseFlush, hook)

	if err := coord.Shutdown("test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&peak) != 2 {
		t.Fatalf("peak concurrency = %d, want 2", peak)
	}
}

func TestShutdownRunsOnce(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())
	var calls int32
	coord.RegisterFunc("pool", PhaseStopWork, func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = coord.Shutdown("test")
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Fatalf("hook ran %d times, want 1", calls)
	}
}

func TestHookErrorContinues(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())
	boom := errors.New("boom")
	ran := false
	coord.RegisterFunc("pool", PhaseStopWork, func(context.Context) error { return boom })
	coord.RegisterFunc("flush", PhaseFlush, func(context.Context) error {
		ran = true
		return nil
	})

	err := coord.Shutdown("test")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("error should wrap hook error: %v", err)
	}
	if !ran {
		t.Fatal("later phase should still run")
	}
	if !coord.Report().Failed() {
		t.Fatal("report should be marked failed")
	}
}

func TestHookErrorStops(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContinueOnError = false
	coord := NewCoordinator(cfg)
	ran := false
	coord.RegisterFunc("pool", PhaseStopWork, func(context.Context) error { return errors.New("boom") })
	coord.RegisterFunc("flush", PhaseFlush, func(context.Context) error {
		ran = true
		return nil
	})

	if err := coord.Shutdown("test"); err == nil {
		t.Fatal("expected error")
	}
	if ran {
		t.Fatal("later phase should not run")
	}
}

func TestHookTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 50 * time.Millisecond
	coord := NewCoordinator(cfg)
	block := make(chan struct{})
	defer close(block)
	coord.RegisterFunc("stuck", PhaseTerminateAgents, func(context.Context) error {
		<-block
		return nil
	})

	start := time.Now()
	if err := coord.Shutdown("test"); err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout not honored")
	}
	r := coord.Report()
	if len(r.Hooks) != 1 || !r.Hooks[0].TimedOut {
		t.Fatalf("unexpected hooks: %+v", r.Hooks)
	}
}

func TestHookPanicRecorded(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())
	coord.RegisterFunc("bad", PhaseFlush, func(context.Context) error { panic("oops") })

	if err := coord.Shutdown("test"); err == nil {
		t.Fatal("expected error from panicking hook")
	}
}

func TestRegisterAfterStartIgnored(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())
	_ = coord.Shutdown("test")

	coord.RegisterFunc("late", PhaseFlush, func(context.Context) error { return nil })
	if n := len(coord.Report().Hooks); n != 0 {
		t.Fatalf("hooks = %d, want 0", n)
	}
}

func TestSignalStartsDrainThenForces(t *testing.T) {
	var gotSignal, forced atomic.Value
	cfg := DefaultConfig()
	cfg.OnSignal = func(sig os.Signal) { gotSignal.Store(sig) }
	cfg.OnForce = func(sig os.Signal) { forced.Store(sig) }
	coord := NewCoordinator(cfg)

	release := make(chan struct{})
	coord.RegisterFunc("pool", PhaseStopWork, func(context.Context) error {
		<-release
		return nil
	})

	sigs := make(chan os.Signal, 2)
	stop := coord.watch(sigs, func() {})
	defer stop()

	sigs <- syscall.SIGINT
	select {
	case <-coord.Requested():
	case <-time.After(time.Second):
		t.Fatal("drain not requested")
	}
	if gotSignal.Load() != syscall.SIGINT {
		t.Fatalf("OnSignal got %v", gotSignal.Load())
	}

	sigs <- syscall.SIGTERM
	deadline := time.Now().Add(time.Second)
	for forced.Load() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if forced.Load() != syscall.SIGTERM {
		t.Fatalf("OnForce got %v", forced.Load())
	}

	close(release)
	select {
	case <-coord.Done():
	case <-time.After(time.Second):
		t.Fatal("drain did not finish")
	}
	if coord.Report().Reason != syscall.SIGINT.String() {
		t.Fatalf("reason = %q", coord.Report().Reason)
	}
}
