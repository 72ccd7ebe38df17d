package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Common errors.
var (
	ErrClosed          = errors.New("limiter closed")
	ErrInvalidCapacity = errors.New("invalid capacity")
	ErrInvalidWindow   = errors.New("invalid window")
)

// Capacity describes the limit configured for a resource.
type Capacity struct {
	Resource string

	// Total is the number of launches allowed per Window.
	Total  int
	Window time.Duration
	Burst  int

	// Available is the number of launches that could start right now.
	Available int
}

// Limiter is a set of per-resource token buckets. It is safe for
// concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	burst   int
	closed  bool
}

type bucket struct {
	lim    *rate.Limiter
	total  int
	window time.Duration
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithBurst lets up to n launches start back to back before the rate applies.
func WithBurst(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.burst = n
		}
	}
}

// New creates a limiter with no configured resources.
func New(opts ...Option) *Limiter {
	l := &Limiter{buckets: make(map[string]*bucket), burst: 1}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// PerMinute is shorthand for a limiter with one resource at n launches per
// minute. n <= 0 returns nil, the unlimited limiter.
func PerMinute(resource string, n int, opts ...Option) *Limiter {
	if n <= 0 {
		return nil
	}
	l := New(opts...)
	_ = l.SetCapacity(resource, n, time.Minute)
	return l
}

// SetCapacity allows capacity launches per window for resource. A zero
// capacity removes the limit.
func (l *Limiter) SetCapacity(resource string, capacity int, window time.Duration) error {
	if capacity < 0 {
		return ErrInvalidCapacity
	}
	if window <= 0 {
		return ErrInvalidWindow
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if capacity == 0 {
		delete(l.buckets, resource)
		return nil
	}

	every := rate.Every(window / time.Duration(capacity))
	burst := l.burst
	if burst > capacity {
		burst = capacity
	}
	if b, ok := l.buckets[resource]; ok {
		b.lim.SetLimit(every)
		b.lim.SetBurst(burst)
		b.total, b.window = capacity, window
		return nil
	}
	l.buckets[resource] = &bucket{lim: rate.NewLimiter(every, burst), total: capacity, window: window}
	return nil
}

func (l *Limiter) get(resource string) (*rate.Limiter, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	b, ok := l.buckets[resource]
	if !ok {
		return nil, nil
	}
	return b.lim, nil
}

// Acquire blocks until a launch for resource is allowed or ctx ends.
func (l *Limiter) Acquire(ctx context.Context, resource string) error {
	if l == nil {
		return ctx.Err()
	}
	lim, err := l.get(resource)
	if err != nil {
		return err
	}
	if lim == nil {
		return ctx.Err()
	}
	return lim.Wait(ctx)
}

// TryAcquire takes a token without blocking.
func (l *Limiter) TryAcquire(resource string) bool {
	if l == nil {
		return true
	}
	lim, err := l.get(resource)
	if err != nil {
		return false
	}
	return lim == nil || lim.Allow()
}

// GetCapacity returns the configuration of resource, or nil when it is not
// limited.
func (l *Limiter) GetCapacity(resource string) *Capacity {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[resource]
	if !ok {
		return nil
	}
	return &Capacity{
		Resource:  resource,
		Total:     b.total,
		Window:    b.window,
		Burst:     b.lim.Burst(),
		Available: int(b.lim.Tokens()),
	}
}

// Close makes further Acquire calls fail with ErrClosed.
func (l *Limiter) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.buckets = make(map[string]*bucket)
	return nil
}
