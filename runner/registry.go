package runner

import (
	"os"
	"sort"
	"sync"
	"time"
)

// Registry tracks the agent processes of one batch so shutdown can signal
// them. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	procs   map[int]*os.Process
	gone    *sync.Cond
	closing bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{procs: make(map[int]*os.Process)}
	r.gone = sync.NewCond(&r.mu)
	return r
}

// Track registers a started process. A process tracked after TerminateAll
// has begun is sent SIGTERM straight away.
func (r *Registry) Track(p *os.Process) {
	if p == nil {
		return
	}
	r.mu.Lock()
	r.procs[p.Pid] = p
	if r.closing {
		terminate(p)
	}
	r.mu.Unlock()
}

// Closing reports whether TerminateAll has been called.
func (r *Registry) Closing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closing
}

// Untrack forgets pid once its process has been reaped.
func (r *Registry) Untrack(pid int) {
	r.mu.Lock()
	delete(r.procs, pid)
	r.mu.Unlock()
	r.gone.Broadcast()
}

// Len returns the number of tracked processes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// PIDs returns the tracked process ids in ascending order.
func (r *Registry) PIDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	pids := make([]int, 0, len(r.procs))
	for pid := range r.procs {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

// TerminateAll sends SIGTERM to every tracked process group, waits up to
// grace for them to be untracked, then SIGKILLs whatever is left. It returns
// the number of processes that had to be killed.
func (r *Registry) TerminateAll(grace time.Duration) int {
	r.mu.Lock()
	r.closing = true
	for _, p := range r.procs {
		terminate(p)
	}
	r.mu.Unlock()

	if !r.waitEmpty(grace) {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, p := range r.procs {
			kill(p)
		}
		return len(r.procs)
	}
	return 0
}

// waitEmpty blocks until nothing is tracked or the timeout passes.
func (r *Registry) waitEmpty(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		r.mu.Lock()
		r.gone.Broadcast()
		r.mu.Unlock()
	})
	defer timer.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.procs) > 0 {
		if !time.Now().Before(deadline) {
			return false
		}
		r.gone.Wait()
	}
	return true
}
