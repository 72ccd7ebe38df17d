package results

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Add after Close.
var ErrClosed = errors.New("collector closed")

// Collector gathers results from concurrent workers. Results are kept in
// arrival order and broadcast to subscribers.
type Collector struct {
	mu      sync.RWMutex
	results []Result
	subs    map[*subscription]struct{}
	closed  atomic.Bool
}

type subscription struct {
	ch     chan Result
	closed atomic.Bool
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{subs: make(map[*subscription]struct{})}
}

// Add records a result. A zero FinishedAt is set to now.
func (c *Collector) Add(r Result) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
	// Sends never block, so holding the lock keeps unsubscribe from closing
	// a channel mid-send.
	for s := range c.subs {
		select {
		case s.ch <- r:
		default:
			// Slow subscriber, drop the update.
		}
	}
	return nil
}

// Len returns the number of results recorded.
func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results)
}

// Results returns a copy of every result in arrival order.
func (c *Collector) Results() []Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Result, len(c.results))
	copy(out, c.results)
	return out
}

// List returns the results matching filter in arrival order.
func (c *Collector) List(filter Filter) []Result {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Result
	for _, r := range c.results {
		if !filter.Matches(r) {
			continue
		}
		out = append(out, r)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// Subscribe returns a channel receiving every result added from now on and
// a cancel function. Updates are dropped when the buffer is full. The
// channel is closed by cancel or Close.
func (c *Collector) Subscribe(buffer int) (<-chan Result, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	s := &subscription{ch: make(chan Result, buffer)}

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	c.subs[s] = struct{}{}
	c.mu.Unlock()

	return s.ch, func() { c.unsubscribe(s) }
}

func (c *Collector) unsubscribe(s *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[s]; !ok {
		return
	}
	delete(c.subs, s)
	if !s.closed.Swap(true) {
		close(s.ch)
	}
}

// Close stops accepting results and closes every subscription. Recorded
// results stay readable.
func (c *Collector) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for s := range c.subs {
		if !s.closed.Swap(true) {
			close(s.ch)
		}
	}
	c.subs = make(map[*subscription]struct{})
}
